package toxdetect

import (
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// gruCell is one direction of a gated recurrent layer. Parameters follow
// the usual split: w* project the input, u* the previous hidden state,
// b* are the gate biases, all bound from the classifier's registry.
type gruCell struct {
	g          *gorgonia.ExprGraph
	wz, uz, bz *gorgonia.Node
	wr, ur, br *gorgonia.Node
	wh, uh, bh *gorgonia.Node
}

// step advances the hidden state by one timestep. x is (batch, in),
// h is (batch, units).
func (c *gruCell) step(x, h *gorgonia.Node) (*gorgonia.Node, error) {
	z, err := c.gate(gorgonia.Sigmoid, x, c.wz, h, c.uz, c.bz)
	if err != nil {
		return nil, err
	}
	r, err := c.gate(gorgonia.Sigmoid, x, c.wr, h, c.ur, c.br)
	if err != nil {
		return nil, err
	}
	rh, err := gorgonia.HadamardProd(r, h)
	if err != nil {
		return nil, err
	}
	cand, err := c.gate(gorgonia.Tanh, x, c.wh, rh, c.uh, c.bh)
	if err != nil {
		return nil, err
	}

	// h' = z*h + (1-z)*cand
	zh, err := gorgonia.HadamardProd(z, h)
	if err != nil {
		return nil, err
	}
	one := gorgonia.NodeFromAny(c.g, float32(1), gorgonia.WithName("gru_one"))
	notZ, err := gorgonia.Sub(one, z)
	if err != nil {
		return nil, err
	}
	zc, err := gorgonia.HadamardProd(notZ, cand)
	if err != nil {
		return nil, err
	}
	return gorgonia.Add(zh, zc)
}

func (c *gruCell) gate(act func(*gorgonia.Node) (*gorgonia.Node, error), x, w, h, u, b *gorgonia.Node) (*gorgonia.Node, error) {
	xw, err := gorgonia.Mul(x, w)
	if err != nil {
		return nil, err
	}
	hu, err := gorgonia.Mul(h, u)
	if err != nil {
		return nil, err
	}
	s, err := gorgonia.Add(xw, hu)
	if err != nil {
		return nil, err
	}
	s, err = gorgonia.BroadcastAdd(s, b, nil, []byte{0})
	if err != nil {
		return nil, err
	}
	return act(s)
}

// biGRU runs a forward and a backward cell over the sequence and
// concatenates their per-timestep states on the feature axis. Nothing is
// collapsed to a summary vector here; every timestep survives.
type biGRU struct {
	g        *gorgonia.ExprGraph
	fwd, bwd *gruCell
	units    int
}

// Forward maps (batch, time, in) to (batch, time, 2*units).
func (l *biGRU) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	b, t := x.Shape()[0], x.Shape()[1]

	steps := make([]*gorgonia.Node, t)
	for i := 0; i < t; i++ {
		s, err := gorgonia.Slice(x, nil, gorgonia.S(i))
		if err != nil {
			return nil, err
		}
		steps[i] = s
	}

	fwdStates := make([]*gorgonia.Node, t)
	h := l.zeroState(b)
	for i := 0; i < t; i++ {
		var err error
		if h, err = l.fwd.step(steps[i], h); err != nil {
			return nil, err
		}
		if fwdStates[i], err = gorgonia.Reshape(h, tensor.Shape{b, 1, l.units}); err != nil {
			return nil, err
		}
	}

	bwdStates := make([]*gorgonia.Node, t)
	h = l.zeroState(b)
	for i := t - 1; i >= 0; i-- {
		var err error
		if h, err = l.bwd.step(steps[i], h); err != nil {
			return nil, err
		}
		if bwdStates[i], err = gorgonia.Reshape(h, tensor.Shape{b, 1, l.units}); err != nil {
			return nil, err
		}
	}

	fwdSeq, err := concatTime(fwdStates)
	if err != nil {
		return nil, err
	}
	bwdSeq, err := concatTime(bwdStates)
	if err != nil {
		return nil, err
	}
	return gorgonia.Concat(2, fwdSeq, bwdSeq)
}

func (l *biGRU) zeroState(batch int) *gorgonia.Node {
	zeros := tensor.New(tensor.WithShape(batch, l.units), tensor.Of(tensor.Float32))
	return gorgonia.NodeFromAny(l.g, zeros, gorgonia.WithName("gru_h0"))
}

func concatTime(states []*gorgonia.Node) (*gorgonia.Node, error) {
	if len(states) == 1 {
		return states[0], nil
	}
	return gorgonia.Concat(1, states...)
}
