package toxdetect

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// inferProgram is the compiled read-only graph shared by Classify and
// Attention. Dropout is absent, so repeated runs with the same weights
// are deterministic.
type inferProgram struct {
	fg       *forwardGraph
	vm       gorgonia.VM
	probsVal gorgonia.Value
	attnVal  gorgonia.Value
}

// inferProg returns the program for this batch size, building it at most
// once. Callers hold c.mu.
func (c *Classifier) inferProg(batch int) (*inferProgram, error) {
	if p, ok := c.inferProgs[batch]; ok {
		return p, nil
	}
	fg, err := c.buildForward(batch, false)
	if err != nil {
		return nil, err
	}
	p := &inferProgram{fg: fg}
	gorgonia.Read(fg.probs, &p.probsVal)
	gorgonia.Read(fg.attnWeights, &p.attnVal)
	p.vm = gorgonia.NewTapeMachine(fg.g, c.dev.vmOpts()...)
	c.inferProgs[batch] = p
	return p, nil
}

func (p *inferProgram) run(embedded, mask *tensor.Dense) error {
	if err := gorgonia.Let(p.fg.embedded, embedded); err != nil {
		return err
	}
	if err := gorgonia.Let(p.fg.mask, mask); err != nil {
		return err
	}
	return p.vm.RunAll()
}

// Classify maps a batch of token sequences to per-label probabilities in
// [0,1], shape (batch, labels). It is a pure read path: parameters are
// never touched.
func (c *Classifier) Classify(seqs [][]int32) (*tensor.Dense, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, embedded, mask, err := c.prepare(seqs)
	if err != nil {
		return nil, err
	}
	if err := p.run(embedded, mask); err != nil {
		return nil, errors.Wrap(err, "classify")
	}
	probs := p.probsVal.(*tensor.Dense).Clone().(*tensor.Dense)
	p.vm.Reset()
	return probs, nil
}

// Attention re-executes the embedding-to-attention subgraph and returns
// the attention distribution over timesteps, shape (batch, time). Padded
// positions carry exactly zero weight.
func (c *Classifier) Attention(seqs [][]int32) (*tensor.Dense, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, embedded, mask, err := c.prepare(seqs)
	if err != nil {
		return nil, err
	}
	if err := p.run(embedded, mask); err != nil {
		return nil, errors.Wrap(err, "attention")
	}
	attn := p.attnVal.(*tensor.Dense).Clone().(*tensor.Dense)
	p.vm.Reset()
	return attn, nil
}

// AttentionFn exposes the attention read path as a reusable function.
func (c *Classifier) AttentionFn() func(seqs [][]int32) (*tensor.Dense, error) {
	return c.Attention
}

func (c *Classifier) prepare(seqs [][]int32) (*inferProgram, *tensor.Dense, *tensor.Dense, error) {
	if len(seqs) == 0 {
		return nil, nil, nil, errors.New("empty batch")
	}
	p, err := c.inferProg(len(seqs))
	if err != nil {
		return nil, nil, nil, err
	}
	embedded, err := c.embedSeqs(seqs)
	if err != nil {
		return nil, nil, nil, err
	}
	mask, err := paddingMask(seqs, c.maxSeq)
	if err != nil {
		return nil, nil, nil, err
	}
	return p, embedded, mask, nil
}

// gradProgram computes the saliency signal: the gradient of the label-0
// output with respect to the embedded input.
type gradProgram struct {
	fg      *forwardGraph
	vm      gorgonia.VM
	gradVal gorgonia.Value
}

// gradProg builds the gradient program once per batch size under the
// classifier mutex, so two callers racing on first use cannot double-build
// it. Callers hold c.mu.
func (c *Classifier) gradProg(batch int) (*gradProgram, error) {
	if p, ok := c.gradProgs[batch]; ok {
		return p, nil
	}
	fg, err := c.buildForward(batch, false)
	if err != nil {
		return nil, err
	}
	col0, err := gorgonia.Slice(fg.probs, nil, gorgonia.S(0))
	if err != nil {
		return nil, err
	}
	// a single-example slice is already scalar-shaped; summing it would
	// choke on the materialized scalar value
	score := col0
	if batch > 1 {
		if score, err = gorgonia.Sum(col0); err != nil {
			return nil, err
		}
	}
	grads, err := gorgonia.Grad(score, fg.embedded)
	if err != nil {
		return nil, errors.Wrap(err, "saliency gradients")
	}
	p := &gradProgram{fg: fg}
	gorgonia.Read(grads[0], &p.gradVal)
	p.vm = gorgonia.NewTapeMachine(fg.g, c.dev.vmOpts()...)
	c.gradProgs[batch] = p
	return p, nil
}

// Gradient returns d(output[:,0])/d(embedded input) for the batch, shape
// (batch, time, embDim) - a per-position saliency signal. The compiled
// program is cached across calls; parameters are never mutated.
func (c *Classifier) Gradient(seqs [][]int32) (*tensor.Dense, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(seqs) == 0 {
		return nil, errors.New("empty batch")
	}
	p, err := c.gradProg(len(seqs))
	if err != nil {
		return nil, err
	}
	embedded, err := c.embedSeqs(seqs)
	if err != nil {
		return nil, err
	}
	mask, err := paddingMask(seqs, c.maxSeq)
	if err != nil {
		return nil, err
	}
	if err := gorgonia.Let(p.fg.embedded, embedded); err != nil {
		return nil, err
	}
	if err := gorgonia.Let(p.fg.mask, mask); err != nil {
		return nil, err
	}
	if err := p.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "gradient")
	}
	grad := p.gradVal.(*tensor.Dense).Clone().(*tensor.Dense)
	p.vm.Reset()
	return grad, nil
}
