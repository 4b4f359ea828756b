package toxdetect

import (
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// attentionEpsilon floors the normalizer so a fully padded example divides
// by a small constant instead of zero.
const attentionEpsilon = 1e-7

// AttentionPool computes a weighted average of the channels across
// timesteps. A single learned scalar per channel scores each timestep;
// the scores are turned into a probability distribution with the max
// trick for numerical stability. Masked timesteps get exactly zero
// weight, but the max is taken over all timesteps before masking - the
// mask multiplies the exponentiated scores, it never shifts the max.
type AttentionPool struct {
	g *gorgonia.ExprGraph
	w *gorgonia.Node // (channels, 1)
}

// NewAttentionPool creates the layer with a fresh uniform-initialized
// weight vector in g.
func NewAttentionPool(g *gorgonia.ExprGraph, channels int) *AttentionPool {
	w := gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(channels, 1),
		gorgonia.WithName("attention/w"),
		gorgonia.WithInit(gorgonia.Uniform(-0.05, 0.05)))
	return &AttentionPool{g: g, w: w}
}

// attentionPoolWith reuses an already bound weight node, so the layer can
// share parameters held by the classifier's registry.
func attentionPoolWith(g *gorgonia.ExprGraph, w *gorgonia.Node) *AttentionPool {
	return &AttentionPool{g: g, w: w}
}

// Weight exposes the trainable parameter node.
func (a *AttentionPool) Weight() *gorgonia.Node { return a.w }

// Forward pools x of shape (batch, time, channels) down to
// (batch, channels) and returns the attention distribution
// (batch, time) as a first-class second output. mask may be nil; when
// present it is (batch, time) with 1 at real tokens.
func (a *AttentionPool) Forward(x, mask *gorgonia.Node) (pooled, weights *gorgonia.Node, err error) {
	b, t, c := x.Shape()[0], x.Shape()[1], x.Shape()[2]

	flat, err := gorgonia.Reshape(x, tensor.Shape{b * t, c})
	if err != nil {
		return nil, nil, err
	}
	logitsFlat, err := gorgonia.Mul(flat, a.w)
	if err != nil {
		return nil, nil, err
	}
	logits, err := gorgonia.Reshape(logitsFlat, tensor.Shape{b, t})
	if err != nil {
		return nil, nil, err
	}

	// max trick: exp(logit - max) never overflows
	mx, err := gorgonia.Max(logits, 1)
	if err != nil {
		return nil, nil, err
	}
	mx2, err := gorgonia.Reshape(mx, tensor.Shape{b, 1})
	if err != nil {
		return nil, nil, err
	}
	shifted, err := gorgonia.BroadcastSub(logits, mx2, nil, []byte{1})
	if err != nil {
		return nil, nil, err
	}
	ai, err := gorgonia.Exp(shifted)
	if err != nil {
		return nil, nil, err
	}

	// masked timesteps have zero weight
	if mask != nil {
		if ai, err = gorgonia.HadamardProd(ai, mask); err != nil {
			return nil, nil, err
		}
	}

	sum, err := gorgonia.Sum(ai, 1)
	if err != nil {
		return nil, nil, err
	}
	sum2, err := gorgonia.Reshape(sum, tensor.Shape{b, 1})
	if err != nil {
		return nil, nil, err
	}
	// constants must carry names: the graph dedups unnamed constants by a
	// value-insensitive hash, so an anonymous epsilon aliases any earlier
	// anonymous scalar
	eps := gorgonia.NodeFromAny(a.g, float32(attentionEpsilon), gorgonia.WithName("attn_eps"))
	den, err := gorgonia.Add(sum2, eps)
	if err != nil {
		return nil, nil, err
	}
	weights, err = gorgonia.BroadcastHadamardDiv(ai, den, nil, []byte{1})
	if err != nil {
		return nil, nil, err
	}

	w3, err := gorgonia.Reshape(weights, tensor.Shape{b, t, 1})
	if err != nil {
		return nil, nil, err
	}
	weighted, err := gorgonia.BroadcastHadamardProd(x, w3, nil, []byte{2})
	if err != nil {
		return nil, nil, err
	}
	pooled, err = gorgonia.Sum(weighted, 1)
	if err != nil {
		return nil, nil, err
	}
	return pooled, weights, nil
}
