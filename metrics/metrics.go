// Package metrics computes validation statistics for the classifier's
// per-epoch callback: precision, recall and F1 at the 0.5 decision
// threshold, plus per-label ROC AUC. The classifier core never computes
// these itself.
package metrics

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

const threshold = 0.5

// Precision is tp/(tp+fp) over all entries, 0 when nothing was predicted
// positive.
func Precision(yTrue, yPred []float64) float64 {
	tp, fp, _ := confusion(yTrue, yPred)
	if tp+fp == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fp)
}

// Recall is tp/(tp+fn) over all entries, 0 when no positives exist.
func Recall(yTrue, yPred []float64) float64 {
	tp, _, fn := confusion(yTrue, yPred)
	if tp+fn == 0 {
		return 0
	}
	return float64(tp) / float64(tp+fn)
}

// F1 is the harmonic mean of Precision and Recall.
func F1(yTrue, yPred []float64) float64 {
	p := Precision(yTrue, yPred)
	r := Recall(yTrue, yPred)
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func confusion(yTrue, yPred []float64) (tp, fp, fn int) {
	for i := range yTrue {
		pos := yTrue[i] >= threshold
		pred := yPred[i] >= threshold
		switch {
		case pos && pred:
			tp++
		case !pos && pred:
			fp++
		case pos && !pred:
			fn++
		}
	}
	return tp, fp, fn
}

// AUC is the area under the ROC curve for one label. It returns ok=false
// when the labels are single-class and the curve is undefined.
func AUC(yTrue []float64, scores []float64) (auc float64, ok bool) {
	pos := 0
	for _, y := range yTrue {
		if y >= threshold {
			pos++
		}
	}
	if pos == 0 || pos == len(yTrue) {
		return 0, false
	}

	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return scores[idx[i]] < scores[idx[j]] })

	y := make([]float64, len(idx))
	classes := make([]bool, len(idx))
	for i, j := range idx {
		y[i] = scores[j]
		classes[i] = yTrue[j] >= threshold
	}
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), true
}

// Callback is the per-epoch metrics collaborator. Precision/recall/F1 are
// micro-averaged across every label cell, matching how the original
// training metrics rounded the whole prediction tensor at once; ROC AUC
// is macro-averaged over the labels that have both classes present.
type Callback struct{}

func (Callback) OnEpochEnd(_ int, valTrue, valPred *tensor.Dense) (map[string]float64, error) {
	yTrue, err := columns(valTrue)
	if err != nil {
		return nil, err
	}
	yPred, err := columns(valPred)
	if err != nil {
		return nil, err
	}
	if len(yTrue) != len(yPred) {
		return nil, errors.Errorf("metrics: %d label columns but %d prediction columns", len(yTrue), len(yPred))
	}

	flatTrue := lo.Flatten(yTrue)
	flatPred := lo.Flatten(yPred)

	var aucs []float64
	for l := range yTrue {
		if a, ok := AUC(yTrue[l], yPred[l]); ok {
			aucs = append(aucs, a)
		}
	}
	out := map[string]float64{
		"val_precision": Precision(flatTrue, flatPred),
		"val_recall":    Recall(flatTrue, flatPred),
		"val_f1":        F1(flatTrue, flatPred),
	}
	if len(aucs) > 0 {
		out["val_roc_auc"] = lo.Sum(aucs) / float64(len(aucs))
	}
	return out, nil
}

// columns splits a (batch, labels) tensor into per-label float64 slices.
func columns(t *tensor.Dense) ([][]float64, error) {
	if t.Dims() != 2 {
		return nil, errors.Errorf("metrics: want a (batch, labels) tensor, got shape %v", t.Shape())
	}
	rows, cols := t.Shape()[0], t.Shape()[1]
	data := t.Data().([]float32)
	out := make([][]float64, cols)
	for c := range out {
		out[c] = make([]float64, rows)
		for r := 0; r < rows; r++ {
			out[c][r] = float64(data[r*cols+c])
		}
	}
	return out, nil
}
