package toxdetect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestRestoreRejectsWrongShape(t *testing.T) {
	ps := newParamSet()
	ps.add("dense/w", gorgonia.GlorotU(1.0), 4, 2)

	err := ps.restore(map[string]*tensor.Dense{
		"dense/w": tensor.New(tensor.WithShape(2, 4), tensor.WithBacking(make([]float32, 8))),
	})
	var shapeErr *ShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, "dense/w", shapeErr.Name)
}

func TestRestoreRejectsMissingWeight(t *testing.T) {
	ps := newParamSet()
	ps.add("dense/w", gorgonia.GlorotU(1.0), 4, 2)
	ps.add("dense/b", gorgonia.Zeroes(), 1, 2)

	err := ps.restore(map[string]*tensor.Dense{
		"dense/w": tensor.New(tensor.WithShape(4, 2), tensor.WithBacking(make([]float32, 8))),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dense/b")
}

func TestSnapshotIsIsolated(t *testing.T) {
	ps := newParamSet()
	ps.add("dense/b", gorgonia.Zeroes(), 1, 2)

	snap := ps.snapshot()
	snap["dense/b"].Data().([]float32)[0] = 99

	assert.Zero(t, ps.byName["dense/b"].value.Data().([]float32)[0],
		"mutating a snapshot must not touch the registry")
}
