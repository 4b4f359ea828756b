package toxdetect

import (
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// maskedAverage pools (batch, time, channels) to (batch, channels),
// dividing each example by its count of real timesteps. Padded positions
// are already zeroed upstream; excluding them from the denominator too is
// what keeps them from diluting the mean.
func maskedAverage(g *gorgonia.ExprGraph, x, mask *gorgonia.Node) (*gorgonia.Node, error) {
	b := x.Shape()[0]

	sums, err := gorgonia.Sum(x, 1)
	if err != nil {
		return nil, err
	}
	counts, err := gorgonia.Sum(mask, 1)
	if err != nil {
		return nil, err
	}
	counts2, err := gorgonia.Reshape(counts, tensor.Shape{b, 1})
	if err != nil {
		return nil, err
	}
	// named so the graph's constant dedup cannot alias it to another scalar
	eps := gorgonia.NodeFromAny(g, float32(attentionEpsilon), gorgonia.WithName("avgpool_eps"))
	den, err := gorgonia.Add(counts2, eps)
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastHadamardDiv(sums, den, nil, []byte{1})
}

// maxOverTime is a global max pool across the time axis.
func maxOverTime(x *gorgonia.Node) (*gorgonia.Node, error) {
	return gorgonia.Max(x, 1)
}

// lastTimestep slices the final per-timestep state, (batch, channels).
func lastTimestep(x *gorgonia.Node) (*gorgonia.Node, error) {
	t := x.Shape()[1]
	return gorgonia.Slice(x, nil, gorgonia.S(t-1))
}

// applyMask zeroes padded timesteps of x (batch, time, channels) using a
// (batch, time) mask broadcast across channels.
func applyMask(x, mask *gorgonia.Node) (*gorgonia.Node, error) {
	b, t := mask.Shape()[0], mask.Shape()[1]
	m3, err := gorgonia.Reshape(mask, tensor.Shape{b, t, 1})
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastHadamardProd(x, m3, nil, []byte{2})
}
