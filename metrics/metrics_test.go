package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestPrecisionRecallF1(t *testing.T) {
	yTrue := []float64{1, 1, 0, 0, 1, 0}
	yPred := []float64{0.9, 0.2, 0.8, 0.1, 0.7, 0.3}
	// tp=2 (0,4), fp=1 (2), fn=1 (1)

	assert.InDelta(t, 2.0/3.0, Precision(yTrue, yPred), 1e-12)
	assert.InDelta(t, 2.0/3.0, Recall(yTrue, yPred), 1e-12)
	assert.InDelta(t, 2.0/3.0, F1(yTrue, yPred), 1e-12)
}

func TestMetricsDegenerateInputs(t *testing.T) {
	assert.Zero(t, Precision([]float64{1, 0}, []float64{0.1, 0.2}))
	assert.Zero(t, Recall([]float64{0, 0}, []float64{0.9, 0.9}))
	assert.Zero(t, F1([]float64{0, 0}, []float64{0.1, 0.1}))
}

func TestAUCSeparable(t *testing.T) {
	yTrue := []float64{0, 0, 1, 1}
	scores := []float64{0.1, 0.2, 0.8, 0.9}

	auc, ok := AUC(yTrue, scores)
	require.True(t, ok)
	assert.InDelta(t, 1.0, auc, 1e-12)
}

func TestAUCRandomRanking(t *testing.T) {
	yTrue := []float64{0, 1, 0, 1}
	scores := []float64{0.6, 0.6, 0.6, 0.6}

	auc, ok := AUC(yTrue, scores)
	require.True(t, ok)
	assert.InDelta(t, 0.5, auc, 1e-12)
}

func TestAUCSingleClass(t *testing.T) {
	_, ok := AUC([]float64{1, 1, 1}, []float64{0.2, 0.5, 0.9})
	assert.False(t, ok)
	_, ok = AUC([]float64{0, 0}, []float64{0.2, 0.5})
	assert.False(t, ok)
}

func TestCallbackAggregates(t *testing.T) {
	// two labels, two rows: label 0 separable, label 1 single-class
	valTrue := tensor.New(tensor.WithShape(2, 2),
		tensor.WithBacking([]float32{1, 0, 0, 0}))
	valPred := tensor.New(tensor.WithShape(2, 2),
		tensor.WithBacking([]float32{0.9, 0.1, 0.2, 0.3}))

	got, err := Callback{}.OnEpochEnd(1, valTrue, valPred)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, got["val_precision"], 1e-12)
	assert.InDelta(t, 1.0, got["val_recall"], 1e-12)
	assert.InDelta(t, 1.0, got["val_f1"], 1e-12)
	assert.InDelta(t, 1.0, got["val_roc_auc"], 1e-12, "only the two-class label contributes")
}

func TestCallbackRejectsVectors(t *testing.T) {
	flat := tensor.New(tensor.WithShape(4), tensor.WithBacking([]float32{1, 0, 1, 0}))
	_, err := Callback{}.OnEpochEnd(1, flat, flat)
	require.Error(t, err)
}
