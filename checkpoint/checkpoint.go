// Package checkpoint persists classifier weights with gob, keeping only
// the best validation score seen during a run. The file layout is owned
// entirely by this package; the classifier just hands over name->tensor
// snapshots.
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// weightEntry is the on-disk form of one tensor.
type weightEntry struct {
	Shape []int
	Data  []float32
}

type weightFile struct {
	Weights map[string]weightEntry
}

// Store writes one file per improvement and removes the previous best, so
// a run directory ends up with exactly the highest-scoring epoch.
type Store struct {
	mu       sync.Mutex
	bestF1   float64
	bestSet  bool
	bestPath string
}

func NewStore() *Store { return &Store{} }

// SaveBest persists the weights when valF1 beats every earlier epoch of
// this run, and is a no-op otherwise. File names carry the epoch number
// and score, e.g. run_weights-epoch-07-val_f1-0.83.gob.
func (s *Store) SaveBest(dir, run string, epoch int, valF1 float64, weights map[string]*tensor.Dense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bestSet && valF1 <= s.bestF1 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create checkpoint dir %s", dir)
	}
	name := fmt.Sprintf("%s_weights-epoch-%02d-val_f1-%.2f.gob", run, epoch, valF1)
	path := filepath.Join(dir, name)
	if err := write(path, weights); err != nil {
		return err
	}
	if s.bestSet && s.bestPath != path {
		// stale best from an earlier epoch
		_ = os.Remove(s.bestPath)
	}
	s.bestF1 = valF1
	s.bestSet = true
	s.bestPath = path
	return nil
}

// BestPath reports where the current best weights were written, if any.
func (s *Store) BestPath() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bestPath, s.bestSet
}

// Load reads a weight file into name->tensor form for restoring into a
// freshly built graph. Shape agreement with that graph is the caller's
// contract, not this package's.
func (s *Store) Load(path string) (map[string]*tensor.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open weights %s", path)
	}
	defer f.Close()

	var wf weightFile
	if err := gob.NewDecoder(f).Decode(&wf); err != nil {
		return nil, errors.Wrapf(err, "decode weights %s", path)
	}
	out := make(map[string]*tensor.Dense, len(wf.Weights))
	for name, e := range wf.Weights {
		out[name] = tensor.New(tensor.WithShape(e.Shape...), tensor.WithBacking(e.Data))
	}
	return out, nil
}

func write(path string, weights map[string]*tensor.Dense) error {
	wf := weightFile{Weights: make(map[string]weightEntry, len(weights))}
	for name, t := range weights {
		wf.Weights[name] = weightEntry{
			Shape: []int(t.Shape()),
			Data:  t.Data().([]float32),
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create weights %s", path)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(wf); err != nil {
		return errors.Wrapf(err, "encode weights %s", path)
	}
	return nil
}
