package embedder

import (
	"encoding/gob"
	"os"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// dump is the gob form of an embedding initialization: the matrix plus
// the per-label positive ratios measured on the training split.
type dump struct {
	Rows, Cols int
	Data       []float32
	Ratios     []float64
}

// SaveDump persists the matrix and ratio vector for later classifier
// construction.
func SaveDump(path string, matrix *tensor.Dense, ratios []float64) error {
	if matrix.Dims() != 2 {
		return errors.Errorf("embedding dump: want a 2-D matrix, got shape %v", matrix.Shape())
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create embedding dump %s", path)
	}
	defer f.Close()
	d := dump{
		Rows:   matrix.Shape()[0],
		Cols:   matrix.Shape()[1],
		Data:   matrix.Data().([]float32),
		Ratios: ratios,
	}
	if err := gob.NewEncoder(f).Encode(d); err != nil {
		return errors.Wrapf(err, "encode embedding dump %s", path)
	}
	return nil
}

// LoadDump reads a saved embedding initialization back.
func LoadDump(path string) (*tensor.Dense, []float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open embedding dump %s", path)
	}
	defer f.Close()
	var d dump
	if err := gob.NewDecoder(f).Decode(&d); err != nil {
		return nil, nil, errors.Wrapf(err, "decode embedding dump %s", path)
	}
	matrix := tensor.New(tensor.WithShape(d.Rows, d.Cols), tensor.WithBacking(d.Data))
	return matrix, d.Ratios, nil
}
