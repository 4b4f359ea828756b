package toxdetect

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestImbalancedBCEBiasInvariant(t *testing.T) {
	ratios := []float64{0.1, 0.01, 0.5, 0.003, 0.25, 0.9}
	l, err := newImbalancedBCE(ratios, false)
	require.NoError(t, err)

	for i, r := range ratios {
		pos, neg := l.posBias[i], l.negBias[i]
		assert.Greater(t, pos, 0.0)
		assert.Greater(t, neg, 0.0)
		assert.False(t, math.IsInf(pos, 0))
		assert.False(t, math.IsInf(neg, 0))
		// normalization keeps pos*r == neg*(1-r)
		assert.InDelta(t, pos*r, neg*(1-r), 1e-12)
	}
}

func TestImbalancedBCERarePositiveUpweighted(t *testing.T) {
	l, err := newImbalancedBCE([]float64{0.1}, true)
	require.NoError(t, err)

	assert.Greater(t, l.posBias[0], l.negBias[0])
}

func TestImbalancedBCEPerLabelPairs(t *testing.T) {
	l, err := newImbalancedBCE([]float64{0.1, 0.01, 0.05, 0.003, 0.05, 0.009}, false)
	require.NoError(t, err)

	require.Len(t, l.posBias, NumLabels)
	require.Len(t, l.negBias, NumLabels)
	// different ratios must not collapse to one shared pair
	assert.NotEqual(t, l.posBias[0], l.posBias[1])
	assert.NotEqual(t, l.negBias[0], l.negBias[1])
}

func TestImbalancedBCEDegenerateRatio(t *testing.T) {
	for _, r := range []float64{0, 1, -0.2, 1.5} {
		_, err := newImbalancedBCE([]float64{r}, true)
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr, "ratio %g", r)
		assert.Equal(t, "LabelRatios", cfgErr.Field)
	}
}

func TestImbalancedBCEEmptyRatios(t *testing.T) {
	_, err := newImbalancedBCE(nil, false)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func evalLoss(t *testing.T, l *imbalancedBCE, shape tensor.Shape, pred, truth []float32) float64 {
	t.Helper()
	g := gorgonia.NewGraph()
	// an anonymous scalar elsewhere in the graph must not alias the loss's
	// own constants
	_ = gorgonia.NodeFromAny(g, float32(1))

	predN := gorgonia.NodeFromAny(g,
		tensor.New(tensor.WithShape(shape...), tensor.WithBacking(pred)),
		gorgonia.WithName("pred"))
	truthN := gorgonia.NodeFromAny(g,
		tensor.New(tensor.WithShape(shape...), tensor.WithBacking(truth)),
		gorgonia.WithName("truth"))

	lossN, err := l.Loss(g, predN, truthN)
	require.NoError(t, err)

	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	return float64(lossN.Value().Data().(float32))
}

func TestToxicOnlyLossMatchesClosedForm(t *testing.T) {
	// ratio 0.5 normalizes both biases to 0.5, so the loss collapses to
	// (bce + reversed bce)/2 and the expected value is hand-computable
	l, err := newImbalancedBCE([]float64{0.5}, true)
	require.NoError(t, err)

	got := evalLoss(t, l, tensor.Shape{2, 1},
		[]float32{0.8, 0.3}, // predictions
		[]float32{1, 0})     // truth

	want := 0.5 * (-math.Log(0.8) - math.Log(0.7))
	assert.InDelta(t, want, got, 1e-4)
	assert.Greater(t, got, 0.0, "cross-entropy of an imperfect prediction must be positive")
}

func TestFullModeLossWeighsLabelsIndependently(t *testing.T) {
	// asymmetric ratios: label 0 bias pair is (0.8, 0.2), label 1 is
	// (0.2, 0.8); with truth [1,0] the weighted terms recombine to
	// (bce_0 + bce_1)/2
	l, err := newImbalancedBCE([]float64{0.2, 0.8}, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, l.posBias[0], 1e-12)
	assert.InDelta(t, 0.8, l.negBias[1], 1e-12)

	got := evalLoss(t, l, tensor.Shape{1, 2},
		[]float32{0.9, 0.4},
		[]float32{1, 0})

	want := (-math.Log(0.9) - math.Log(0.6)) / 2
	assert.InDelta(t, want, got, 1e-4)
}
