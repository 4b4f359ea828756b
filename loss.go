package toxdetect

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const bceEpsilon = 1e-7

// imbalancedBCE is the bias-corrected binary cross-entropy for skewed
// labels. Each label's positive term is weighted by 1/ratio and its
// negative term by 1/(1-ratio); both are divided by their product so the
// loss scale stays bounded as the ratio approaches 0 or 1. The two terms
// are reweighted independently and summed, not folded into one weighted
// cross-entropy.
type imbalancedBCE struct {
	posBias   []float64
	negBias   []float64
	toxicOnly bool
}

// newImbalancedBCE validates the ratios eagerly: a ratio of 0 or 1 makes
// a bias undefined and must fail at construction, never on a batch.
func newImbalancedBCE(ratios []float64, toxicOnly bool) (*imbalancedBCE, error) {
	if len(ratios) == 0 {
		return nil, &ConfigError{Field: "LabelRatios", Reason: "no positive-label ratios supplied"}
	}
	l := &imbalancedBCE{
		posBias:   make([]float64, len(ratios)),
		negBias:   make([]float64, len(ratios)),
		toxicOnly: toxicOnly,
	}
	for i, r := range ratios {
		if r <= 0 || r >= 1 {
			return nil, &ConfigError{Field: "LabelRatios", Reason: fmt.Sprintf("ratio %g at label %d leaves the loss bias undefined", r, i)}
		}
		pos := 1 / r
		neg := 1 / (1 - r)
		norm := pos * neg
		l.posBias[i] = pos / norm
		l.negBias[i] = neg / norm
	}
	return l, nil
}

// Loss builds the scalar loss node for predictions and targets of shape
// (batch, labels) in g.
func (l *imbalancedBCE) Loss(g *gorgonia.ExprGraph, pred, truth *gorgonia.Node) (*gorgonia.Node, error) {
	if l.toxicOnly {
		return l.toxicOnlyLoss(g, pred, truth)
	}

	ce, err := binaryCrossEntropy(g, truth, pred)
	if err != nil {
		return nil, err
	}
	one := gorgonia.NodeFromAny(g, float32(1), gorgonia.WithName("loss_one"))
	notTruth, err := gorgonia.Sub(one, truth)
	if err != nil {
		return nil, err
	}
	notPred, err := gorgonia.Sub(one, pred)
	if err != nil {
		return nil, err
	}
	ceNeg, err := binaryCrossEntropy(g, notTruth, notPred)
	if err != nil {
		return nil, err
	}

	// the bias rows share a shape; without names the graph's constant
	// dedup would collapse them into one
	posW := gorgonia.NodeFromAny(g, biasRow(l.posBias), gorgonia.WithName("loss_pos_bias"))
	negW := gorgonia.NodeFromAny(g, biasRow(l.negBias), gorgonia.WithName("loss_neg_bias"))
	posTerm, err := gorgonia.BroadcastHadamardProd(ce, posW, nil, []byte{0})
	if err != nil {
		return nil, err
	}
	negTerm, err := gorgonia.BroadcastHadamardProd(ceNeg, negW, nil, []byte{0})
	if err != nil {
		return nil, err
	}
	posMean, err := gorgonia.Mean(posTerm)
	if err != nil {
		return nil, err
	}
	negMean, err := gorgonia.Mean(negTerm)
	if err != nil {
		return nil, err
	}
	return gorgonia.Add(posMean, negMean)
}

// toxicOnlyLoss operates on label column 0 exclusively.
func (l *imbalancedBCE) toxicOnlyLoss(g *gorgonia.ExprGraph, pred, truth *gorgonia.Node) (*gorgonia.Node, error) {
	pred0, err := gorgonia.Slice(pred, nil, gorgonia.S(0))
	if err != nil {
		return nil, err
	}
	truth0, err := gorgonia.Slice(truth, nil, gorgonia.S(0))
	if err != nil {
		return nil, err
	}

	ce, err := binaryCrossEntropy(g, truth0, pred0)
	if err != nil {
		return nil, err
	}
	one := gorgonia.NodeFromAny(g, float32(1), gorgonia.WithName("loss_one"))
	notTruth, err := gorgonia.Sub(one, truth0)
	if err != nil {
		return nil, err
	}
	notPred, err := gorgonia.Sub(one, pred0)
	if err != nil {
		return nil, err
	}
	ceNeg, err := binaryCrossEntropy(g, notTruth, notPred)
	if err != nil {
		return nil, err
	}

	posW := gorgonia.NodeFromAny(g, float32(l.posBias[0]), gorgonia.WithName("loss_pos_bias"))
	negW := gorgonia.NodeFromAny(g, float32(l.negBias[0]), gorgonia.WithName("loss_neg_bias"))
	posTerm, err := gorgonia.HadamardProd(ce, posW)
	if err != nil {
		return nil, err
	}
	negTerm, err := gorgonia.HadamardProd(ceNeg, negW)
	if err != nil {
		return nil, err
	}
	posMean, err := gorgonia.Mean(posTerm)
	if err != nil {
		return nil, err
	}
	negMean, err := gorgonia.Mean(negTerm)
	if err != nil {
		return nil, err
	}
	return gorgonia.Add(posMean, negMean)
}

// binaryCrossEntropy is -(y*log(p+eps) + (1-y)*log(1-p+eps)), elementwise.
func binaryCrossEntropy(g *gorgonia.ExprGraph, y, p *gorgonia.Node) (*gorgonia.Node, error) {
	eps := gorgonia.NodeFromAny(g, float32(bceEpsilon), gorgonia.WithName("bce_eps"))
	one := gorgonia.NodeFromAny(g, float32(1), gorgonia.WithName("bce_one"))

	pSafe, err := gorgonia.Add(p, eps)
	if err != nil {
		return nil, err
	}
	logP, err := gorgonia.Log(pSafe)
	if err != nil {
		return nil, err
	}
	posTerm, err := gorgonia.HadamardProd(y, logP)
	if err != nil {
		return nil, err
	}

	notY, err := gorgonia.Sub(one, y)
	if err != nil {
		return nil, err
	}
	notP, err := gorgonia.Sub(one, p)
	if err != nil {
		return nil, err
	}
	notPSafe, err := gorgonia.Add(notP, eps)
	if err != nil {
		return nil, err
	}
	logNotP, err := gorgonia.Log(notPSafe)
	if err != nil {
		return nil, err
	}
	negTerm, err := gorgonia.HadamardProd(notY, logNotP)
	if err != nil {
		return nil, err
	}

	sum, err := gorgonia.Add(posTerm, negTerm)
	if err != nil {
		return nil, err
	}
	return gorgonia.Neg(sum)
}

func biasRow(bias []float64) *tensor.Dense {
	data := make([]float32, len(bias))
	for i, b := range bias {
		data[i] = float32(b)
	}
	return tensor.New(tensor.WithShape(1, len(bias)), tensor.WithBacking(data))
}
