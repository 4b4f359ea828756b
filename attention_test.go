package toxdetect

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// runAttention pools x (batch, time, channels) with a zero score vector,
// which makes the expected distribution uniform over unmasked positions.
func runAttention(t *testing.T, x, mask *tensor.Dense, channels int) (pooled, weights *tensor.Dense) {
	t.Helper()
	g := gorgonia.NewGraph()

	wT := tensor.New(tensor.WithShape(channels, 1), tensor.Of(tensor.Float32))
	w := gorgonia.NodeFromAny(g, wT, gorgonia.WithName("w"))
	xN := gorgonia.NodeFromAny(g, x, gorgonia.WithName("x"))
	maskN := gorgonia.NodeFromAny(g, mask, gorgonia.WithName("mask"))

	pooledN, weightsN, err := attentionPoolWith(g, w).Forward(xN, maskN)
	require.NoError(t, err)

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	return pooledN.Value().(*tensor.Dense), weightsN.Value().(*tensor.Dense)
}

func TestAttentionWeightsSumToOne(t *testing.T) {
	x := tensor.New(tensor.WithShape(1, 4, 2), tensor.WithBacking([]float32{
		1, 2, 3, 4, 5, 6, 0, 0,
	}))
	mask := tensor.New(tensor.WithShape(1, 4), tensor.WithBacking([]float32{1, 1, 1, 0}))

	_, weights := runAttention(t, x, mask, 2)
	wData := weights.Data().([]float32)

	var sum float64
	for _, v := range wData {
		sum += float64(v)
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
	assert.Zero(t, wData[3], "masked position must carry exactly zero weight")
}

func TestAttentionUniformOverUnmasked(t *testing.T) {
	// zero score vector: every unmasked timestep gets the same weight and
	// the pooled vector is the mean of the unmasked rows
	x := tensor.New(tensor.WithShape(1, 3, 2), tensor.WithBacking([]float32{
		2, 4, 6, 8, 100, 100,
	}))
	mask := tensor.New(tensor.WithShape(1, 3), tensor.WithBacking([]float32{1, 1, 0}))

	pooled, weights := runAttention(t, x, mask, 2)
	wData := weights.Data().([]float32)
	pData := pooled.Data().([]float32)

	assert.InDelta(t, 0.5, wData[0], 1e-4)
	assert.InDelta(t, 0.5, wData[1], 1e-4)
	assert.Zero(t, wData[2])
	assert.InDelta(t, 4.0, pData[0], 1e-3) // (2+6)/2
	assert.InDelta(t, 6.0, pData[1], 1e-3) // (4+8)/2
}

func TestAttentionSharpensTowardHighScores(t *testing.T) {
	// nonzero score vector with an anonymous unit constant sharing the
	// graph: the epsilon must stay distinct from it, and the
	// max-subtraction, masking and normalizer must reproduce the
	// closed-form softmax over unmasked positions
	g := gorgonia.NewGraph()
	_ = gorgonia.NodeFromAny(g, float32(1))

	x := tensor.New(tensor.WithShape(1, 3, 2), tensor.WithBacking([]float32{
		1, 0, 0, 2, 3, 1,
	}))
	mask := tensor.New(tensor.WithShape(1, 3), tensor.WithBacking([]float32{1, 1, 0}))
	wT := tensor.New(tensor.WithShape(2, 1), tensor.WithBacking([]float32{1, -0.5}))

	w := gorgonia.NodeFromAny(g, wT, gorgonia.WithName("w"))
	xN := gorgonia.NodeFromAny(g, x, gorgonia.WithName("x"))
	maskN := gorgonia.NodeFromAny(g, mask, gorgonia.WithName("mask"))

	pooledN, weightsN, err := attentionPoolWith(g, w).Forward(xN, maskN)
	require.NoError(t, err)

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	// logits are x·w = [1, -1, 2.5]; the max is the masked 2.5
	a0 := math.Exp(1 - 2.5)
	a1 := math.Exp(-1 - 2.5)
	den := a0 + a1 + attentionEpsilon
	wData := weightsN.Value().(*tensor.Dense).Data().([]float32)
	assert.InDelta(t, a0/den, float64(wData[0]), 1e-4)
	assert.InDelta(t, a1/den, float64(wData[1]), 1e-4)
	assert.Zero(t, wData[2])
	assert.Greater(t, wData[0], wData[1], "higher score must earn more weight")

	pData := pooledN.Value().(*tensor.Dense).Data().([]float32)
	assert.InDelta(t, a0/den, float64(pData[0]), 1e-4)
	assert.InDelta(t, 2*a1/den, float64(pData[1]), 1e-4)
}

func TestAttentionAllMaskedDegradesGracefully(t *testing.T) {
	x := tensor.New(tensor.WithShape(1, 3, 2), tensor.WithBacking([]float32{
		1, 1, 1, 1, 1, 1,
	}))
	mask := tensor.New(tensor.WithShape(1, 3), tensor.Of(tensor.Float32))

	pooled, weights := runAttention(t, x, mask, 2)

	for _, v := range weights.Data().([]float32) {
		assert.False(t, math.IsNaN(float64(v)))
		assert.InDelta(t, 0, v, 1e-6)
	}
	var norm float64
	for _, v := range pooled.Data().([]float32) {
		require.False(t, math.IsNaN(float64(v)))
		norm += float64(v) * float64(v)
	}
	assert.Less(t, math.Sqrt(norm), 1e-3, "all-masked pooled output must stay near zero")
}
