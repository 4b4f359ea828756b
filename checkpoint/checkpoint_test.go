package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func weights(fill float32) map[string]*tensor.Dense {
	return map[string]*tensor.Dense{
		"dense/w": tensor.New(tensor.WithShape(2, 3), tensor.WithBacking([]float32{fill, 1, 2, 3, 4, 5})),
		"dense/b": tensor.New(tensor.WithShape(1, 3), tensor.WithBacking([]float32{fill, 0, 0})),
	}
}

func TestSaveBestKeepsOnlyBest(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()

	require.NoError(t, s.SaveBest(dir, "run", 1, 0.40, weights(1)))
	require.NoError(t, s.SaveBest(dir, "run", 2, 0.35, weights(2))) // worse, no-op
	require.NoError(t, s.SaveBest(dir, "run", 3, 0.62, weights(3)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "earlier best must be removed")
	assert.Equal(t, "run_weights-epoch-03-val_f1-0.62.gob", entries[0].Name())

	path, ok := s.BestPath()
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, entries[0].Name()), path)
}

func TestSaveBestSkipsEqualScore(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()

	require.NoError(t, s.SaveBest(dir, "run", 1, 0.50, weights(1)))
	require.NoError(t, s.SaveBest(dir, "run", 2, 0.50, weights(2)))

	path, ok := s.BestPath()
	require.True(t, ok)
	assert.Contains(t, path, "epoch-01")
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()
	want := weights(7)
	require.NoError(t, s.SaveBest(dir, "run", 4, 0.81, want))

	path, ok := s.BestPath()
	require.True(t, ok)

	got, err := NewStore().Load(path)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for name, w := range want {
		g, okName := got[name]
		require.True(t, okName, name)
		assert.Equal(t, w.Shape(), g.Shape())
		assert.Equal(t, w.Data().([]float32), g.Data().([]float32))
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewStore().Load(filepath.Join(t.TempDir(), "nope.gob"))
	require.Error(t, err)
}
