package toxdetect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestMaskedAverageIgnoresPadding(t *testing.T) {
	// 4 timesteps, 2 real: the mean must divide by 2, not 4, and an
	// anonymous scalar sharing the graph must not inflate the denominator
	g := gorgonia.NewGraph()
	_ = gorgonia.NodeFromAny(g, float32(1))
	x := tensor.New(tensor.WithShape(1, 4, 2), tensor.WithBacking([]float32{
		2, 10, 4, 20, 0, 0, 0, 0,
	}))
	mask := tensor.New(tensor.WithShape(1, 4), tensor.WithBacking([]float32{1, 1, 0, 0}))

	xN := gorgonia.NodeFromAny(g, x, gorgonia.WithName("x"))
	maskN := gorgonia.NodeFromAny(g, mask, gorgonia.WithName("mask"))
	avg, err := maskedAverage(g, xN, maskN)
	require.NoError(t, err)

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	got := avg.Value().(*tensor.Dense).Data().([]float32)
	assert.InDelta(t, 3.0, got[0], 1e-4)  // (2+4)/2
	assert.InDelta(t, 15.0, got[1], 1e-4) // (10+20)/2
}

func TestApplyMaskZeroesPaddedTimesteps(t *testing.T) {
	g := gorgonia.NewGraph()
	x := tensor.New(tensor.WithShape(1, 3, 2), tensor.WithBacking([]float32{
		1, 2, 3, 4, 5, 6,
	}))
	mask := tensor.New(tensor.WithShape(1, 3), tensor.WithBacking([]float32{1, 0, 1}))

	xN := gorgonia.NodeFromAny(g, x, gorgonia.WithName("x"))
	maskN := gorgonia.NodeFromAny(g, mask, gorgonia.WithName("mask"))
	masked, err := applyMask(xN, maskN)
	require.NoError(t, err)

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	got := masked.Value().(*tensor.Dense).Data().([]float32)
	assert.Equal(t, []float32{1, 2, 0, 0, 5, 6}, got)
}

func TestLastTimestepSlice(t *testing.T) {
	g := gorgonia.NewGraph()
	x := tensor.New(tensor.WithShape(2, 3, 2), tensor.WithBacking([]float32{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
	}))
	xN := gorgonia.NodeFromAny(g, x, gorgonia.WithName("x"))
	last, err := lastTimestep(xN)
	require.NoError(t, err)

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	got := last.Value().(*tensor.Dense).Data().([]float32)
	assert.Equal(t, []float32{5, 6, 11, 12}, got)
}
