package embedder

import (
	"crypto/md5"
	"encoding/binary"
	"math/rand"

	"gorgonia.org/tensor"
)

// Mock builds a deterministic embedding matrix without any model: each
// vocabulary entry's vector is noise seeded from its md5 hash, so the
// same vocabulary always yields the same matrix. Useful in tests and
// demos where semantic quality does not matter.
type Mock struct {
	Dim int
}

// Matrix returns a (len(vocab), Dim) matrix with row 0 zeroed for padding.
func (m Mock) Matrix(vocab []string) *tensor.Dense {
	data := make([]float32, len(vocab)*m.Dim)
	for i, word := range vocab {
		if i == 0 {
			continue // padding row stays zero
		}
		hash := md5.Sum([]byte(word))
		seed := int64(binary.BigEndian.Uint64(hash[:8]))
		r := rand.New(rand.NewSource(seed))
		row := data[i*m.Dim : (i+1)*m.Dim]
		for j := range row {
			row[j] = r.Float32()*2 - 1
		}
	}
	return tensor.New(tensor.WithShape(len(vocab), m.Dim), tensor.WithBacking(data))
}
