package toxdetect

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// param is one trainable tensor. The value lives here, outside any graph;
// graphs bind it by reference so the optimizer's in-place updates are
// visible to every graph built afterwards (and to snapshots).
type param struct {
	name  string
	value *tensor.Dense
}

// paramSet is the classifier's parameter registry. Gorgonia graphs are
// shape-static, so the classifier builds one graph per batch size and
// transplants the same registry values into each.
type paramSet struct {
	order  []string
	byName map[string]*param
}

func newParamSet() *paramSet {
	return &paramSet{byName: make(map[string]*param)}
}

func (ps *paramSet) add(name string, init gorgonia.InitWFn, shape ...int) {
	backing := init(tensor.Float32, shape...)
	ps.order = append(ps.order, name)
	ps.byName[name] = &param{
		name:  name,
		value: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)),
	}
}

// bind attaches the registry to one graph. Each parameter becomes exactly
// one node per graph, created on first lookup.
func (ps *paramSet) bind(g *gorgonia.ExprGraph) *binding {
	return &binding{ps: ps, g: g, nodes: make(map[string]*gorgonia.Node)}
}

type binding struct {
	ps    *paramSet
	g     *gorgonia.ExprGraph
	nodes map[string]*gorgonia.Node
}

func (b *binding) node(name string) (*gorgonia.Node, error) {
	if n, ok := b.nodes[name]; ok {
		return n, nil
	}
	p, ok := b.ps.byName[name]
	if !ok {
		return nil, errors.Errorf("unknown parameter %q", name)
	}
	n := gorgonia.NewTensor(b.g, tensor.Float32, p.value.Dims(),
		gorgonia.WithShape(p.value.Shape()...),
		gorgonia.WithName(name))
	if err := gorgonia.Let(n, p.value); err != nil {
		return nil, errors.Wrapf(err, "bind parameter %q", name)
	}
	b.nodes[name] = n
	return n, nil
}

// learnables lists every bound node in registry order, for Grad and the
// solver. Only parameters the graph actually touched are included.
func (b *binding) learnables() gorgonia.Nodes {
	out := make(gorgonia.Nodes, 0, len(b.nodes))
	for _, name := range b.ps.order {
		if n, ok := b.nodes[name]; ok {
			out = append(out, n)
		}
	}
	return out
}

// snapshot clones every value, e.g. for handing weights to the
// checkpoint collaborator without racing the next optimizer step.
func (ps *paramSet) snapshot() map[string]*tensor.Dense {
	out := make(map[string]*tensor.Dense, len(ps.order))
	for _, name := range ps.order {
		out[name] = ps.byName[name].value.Clone().(*tensor.Dense)
	}
	return out
}

// restore copies loaded weights into the registry backings in place, so
// nodes already bound keep seeing the current values. A wrong shape is a
// fatal ShapeError; a missing weight is a plain restore error.
func (ps *paramSet) restore(src map[string]*tensor.Dense) error {
	for _, name := range ps.order {
		p := ps.byName[name]
		t, ok := src[name]
		if !ok {
			return errors.Errorf("restore: weight %q missing from checkpoint", name)
		}
		if !t.Shape().Eq(p.value.Shape()) {
			return &ShapeError{Name: name, Want: p.value.Shape(), Got: t.Shape()}
		}
		copy(p.value.Data().([]float32), t.Data().([]float32))
	}
	return nil
}

// count is the total number of trainable scalars, for the build summary.
func (ps *paramSet) count() int {
	n := 0
	for _, name := range ps.order {
		n += ps.byName[name].value.Shape().TotalSize()
	}
	return n
}
