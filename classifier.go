// Package toxdetect classifies token sequences into toxicity categories
// with a recurrent multi-view model on Gorgonia: a frozen embedding
// lookup, two stacked bidirectional GRU encoders, masked pooling through
// four parallel views (last timestep, max, mask-aware average, learned
// attention) and a sigmoid multi-label head. Training corrects for label
// imbalance with an analytically reweighted cross-entropy; inference and
// introspection (saliency gradients, attention weights) reuse the same
// parameters read-only.
package toxdetect

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const (
	gruUnits           = 60
	denseHidden        = 144
	spatialDropoutRate = 0.25
	denseDropoutRate   = 0.7
	learnRate          = 1e-3
	gradClipValue      = 5.0
)

// Classifier owns the frozen embedding matrix, the trainable parameter
// registry and the compiled execution programs. All operations on one
// instance execute in call order; concurrent use is not supported, though
// the lazily built programs are still guarded by a mutex so a first-use
// race cannot double-build them.
type Classifier struct {
	dev       Device
	cfg       Config
	maxSeq    int
	embedding *tensor.Dense // (vocab, embDim), never trained
	vocab     int
	embDim    int

	loss   *imbalancedBCE
	params *paramSet
	store  WeightStore
	log    zerolog.Logger

	mu         sync.Mutex
	inferProgs map[int]*inferProgram // batch size -> compiled read-only program
	gradProgs  map[int]*gradProgram  // batch size -> compiled saliency program
}

// New builds the graph parameters, optionally restores persisted weights
// into them, and returns a classifier in its compiled, ready state.
// embedding is the frozen (vocab, embDim) matrix with row 0 reserved for
// padding; store is the checkpoint collaborator (may be nil when neither
// restore nor checkpointing is configured).
func New(dev Device, maxSeq int, embedding *tensor.Dense, cfg Config, store WeightStore) (*Classifier, error) {
	if maxSeq <= 0 {
		maxSeq = DefaultMaxSeq
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if embedding == nil {
		return nil, &ConfigError{Field: "embedding", Reason: "no embedding matrix supplied"}
	}
	if embedding.Dims() != 2 {
		return nil, &ShapeError{Name: "embedding", Want: tensor.Shape{-1, -1}, Got: embedding.Shape()}
	}
	if embedding.Dtype() != tensor.Float32 {
		return nil, &ConfigError{Field: "embedding", Reason: "embedding matrix must be float32"}
	}

	loss, err := newImbalancedBCE(cfg.LabelRatios, cfg.ToxicOnly)
	if err != nil {
		return nil, err
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	c := &Classifier{
		dev:        dev,
		cfg:        cfg,
		maxSeq:     maxSeq,
		embedding:  embedding,
		vocab:      embedding.Shape()[0],
		embDim:     embedding.Shape()[1],
		loss:       loss,
		params:     buildParams(embedding.Shape()[1], cfg.labels()),
		store:      store,
		log:        log,
		inferProgs: make(map[int]*inferProgram),
		gradProgs:  make(map[int]*gradProgram),
	}

	if cfg.Restore {
		if store == nil {
			return nil, &ConfigError{Field: "Restore", Reason: "restore requested without a weight store"}
		}
		weights, err := store.Load(cfg.RestorePath)
		if err != nil {
			return nil, errors.Wrapf(err, "restore weights from %s", cfg.RestorePath)
		}
		if err := c.params.restore(weights); err != nil {
			return nil, err
		}
		c.log.Info().Str("path", cfg.RestorePath).Msg("restored weights")
	}

	c.log.Debug().
		Str("device", dev.Name()).
		Int("max_seq", maxSeq).
		Int("vocab", c.vocab).
		Int("embed_dim", c.embDim).
		Int("labels", cfg.labels()).
		Int("parameters", c.params.count()).
		Msg("classifier built")
	return c, nil
}

// buildParams registers every trainable tensor with its initializer.
// Encoder widths follow the trained architecture: each BiGRU outputs
// 2*gruUnits channels, the two encoder outputs concatenate to 4*gruUnits,
// and the four pooling views concatenate to 16*gruUnits.
func buildParams(embDim, labels int) *paramSet {
	ps := newParamSet()
	addCell := func(name string, in int) {
		for _, gate := range []string{"z", "r", "h"} {
			ps.add(name+"/w"+gate, gorgonia.GlorotU(1.0), in, gruUnits)
			ps.add(name+"/u"+gate, gorgonia.GlorotU(1.0), gruUnits, gruUnits)
			ps.add(name+"/b"+gate, gorgonia.Zeroes(), 1, gruUnits)
		}
	}
	addCell("gru1/fwd", embDim)
	addCell("gru1/bwd", embDim)
	addCell("gru2/fwd", 2*gruUnits)
	addCell("gru2/bwd", 2*gruUnits)

	seqChannels := 4 * gruUnits
	ps.add("attention/w", gorgonia.Uniform(-0.05, 0.05), seqChannels, 1)
	ps.add("dense/w", gorgonia.GlorotU(1.0), 4*seqChannels, denseHidden)
	ps.add("dense/b", gorgonia.Zeroes(), 1, denseHidden)
	ps.add("output/w", gorgonia.GlorotU(1.0), denseHidden, labels)
	ps.add("output/b", gorgonia.Zeroes(), 1, labels)
	return ps
}

func bindCell(bnd *binding, name string) (*gruCell, error) {
	cell := &gruCell{g: bnd.g}
	var err error
	bind := func(n **gorgonia.Node, suffix string) {
		if err != nil {
			return
		}
		*n, err = bnd.node(name + "/" + suffix)
	}
	bind(&cell.wz, "wz")
	bind(&cell.uz, "uz")
	bind(&cell.bz, "bz")
	bind(&cell.wr, "wr")
	bind(&cell.ur, "ur")
	bind(&cell.br, "br")
	bind(&cell.wh, "wh")
	bind(&cell.uh, "uh")
	bind(&cell.bh, "bh")
	if err != nil {
		return nil, err
	}
	return cell, nil
}

func bindBiGRU(bnd *binding, name string) (*biGRU, error) {
	fwd, err := bindCell(bnd, name+"/fwd")
	if err != nil {
		return nil, err
	}
	bwd, err := bindCell(bnd, name+"/bwd")
	if err != nil {
		return nil, err
	}
	return &biGRU{g: bnd.g, fwd: fwd, bwd: bwd, units: gruUnits}, nil
}

// forwardGraph is one assembled pass from embedded input to per-label
// probabilities, with the attention distribution as a first-class output.
type forwardGraph struct {
	g           *gorgonia.ExprGraph
	embedded    *gorgonia.Node // input (batch, time, embDim)
	mask        *gorgonia.Node // input (batch, time)
	spatialMask *gorgonia.Node // input (batch, 1, embDim); training only
	probs       *gorgonia.Node // (batch, labels)
	attnWeights *gorgonia.Node // (batch, time)
	learnables  gorgonia.Nodes
}

// buildForward assembles the fixed pipeline: (spatial dropout) -> two
// stacked BiGRUs with their outputs concatenated -> padding mask -> four
// pooling views -> concat -> (dropout) -> dense ReLU -> sigmoid head.
// Dropout stages exist only in training graphs.
func (c *Classifier) buildForward(batch int, training bool) (*forwardGraph, error) {
	g := gorgonia.NewGraph()
	bnd := c.params.bind(g)
	fg := &forwardGraph{g: g}

	fg.embedded = gorgonia.NewTensor(g, tensor.Float32, 3,
		gorgonia.WithShape(batch, c.maxSeq, c.embDim),
		gorgonia.WithName("embedded"))
	fg.mask = gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(batch, c.maxSeq),
		gorgonia.WithName("mask"))

	x := fg.embedded
	if training {
		fg.spatialMask = gorgonia.NewTensor(g, tensor.Float32, 3,
			gorgonia.WithShape(batch, 1, c.embDim),
			gorgonia.WithName("spatial_mask"))
		var err error
		if x, err = gorgonia.BroadcastHadamardProd(x, fg.spatialMask, nil, []byte{1}); err != nil {
			return nil, errors.Wrap(err, "spatial dropout")
		}
	}

	enc1, err := bindBiGRU(bnd, "gru1")
	if err != nil {
		return nil, err
	}
	rnn1, err := enc1.Forward(x)
	if err != nil {
		return nil, errors.Wrap(err, "encoder 1")
	}
	enc2, err := bindBiGRU(bnd, "gru2")
	if err != nil {
		return nil, err
	}
	rnn2, err := enc2.Forward(rnn1)
	if err != nil {
		return nil, errors.Wrap(err, "encoder 2")
	}

	// shallow and deep temporal features side by side
	concat, err := gorgonia.Concat(2, rnn1, rnn2)
	if err != nil {
		return nil, errors.Wrap(err, "encoder concat")
	}
	masked, err := applyMask(concat, fg.mask)
	if err != nil {
		return nil, errors.Wrap(err, "padding mask")
	}

	last, err := lastTimestep(masked)
	if err != nil {
		return nil, errors.Wrap(err, "last-timestep view")
	}
	maxPool, err := maxOverTime(masked)
	if err != nil {
		return nil, errors.Wrap(err, "max view")
	}
	avgPool, err := maskedAverage(g, masked, fg.mask)
	if err != nil {
		return nil, errors.Wrap(err, "average view")
	}
	attnW, err := bnd.node("attention/w")
	if err != nil {
		return nil, err
	}
	attnPooled, attnWeights, err := attentionPoolWith(g, attnW).Forward(masked, fg.mask)
	if err != nil {
		return nil, errors.Wrap(err, "attention view")
	}
	fg.attnWeights = attnWeights

	views, err := gorgonia.Concat(1, last, maxPool, avgPool, attnPooled)
	if err != nil {
		return nil, errors.Wrap(err, "view concat")
	}

	d := views
	if training {
		if d, err = gorgonia.Dropout(views, denseDropoutRate); err != nil {
			return nil, errors.Wrap(err, "dropout")
		}
	}

	denseW, err := bnd.node("dense/w")
	if err != nil {
		return nil, err
	}
	denseB, err := bnd.node("dense/b")
	if err != nil {
		return nil, err
	}
	hidden, err := denseLayer(gorgonia.Rectify, d, denseW, denseB)
	if err != nil {
		return nil, errors.Wrap(err, "dense layer")
	}

	outW, err := bnd.node("output/w")
	if err != nil {
		return nil, err
	}
	outB, err := bnd.node("output/b")
	if err != nil {
		return nil, err
	}
	fg.probs, err = denseLayer(gorgonia.Sigmoid, hidden, outW, outB)
	if err != nil {
		return nil, errors.Wrap(err, "output layer")
	}

	fg.learnables = bnd.learnables()
	return fg, nil
}

func denseLayer(act func(*gorgonia.Node) (*gorgonia.Node, error), x, w, b *gorgonia.Node) (*gorgonia.Node, error) {
	xw, err := gorgonia.Mul(x, w)
	if err != nil {
		return nil, err
	}
	s, err := gorgonia.BroadcastAdd(xw, b, nil, []byte{0})
	if err != nil {
		return nil, err
	}
	return act(s)
}

// embedSeqs performs the frozen embedding lookup outside the graph,
// producing the (batch, time, embDim) tensor the graph consumes. The
// matrix itself is never a trainable node.
func (c *Classifier) embedSeqs(seqs [][]int32) (*tensor.Dense, error) {
	b := len(seqs)
	data := make([]float32, b*c.maxSeq*c.embDim)
	rows := c.embedding.Data().([]float32)
	for i, seq := range seqs {
		if len(seq) != c.maxSeq {
			return nil, &ShapeError{Name: "sequence", Want: tensor.Shape{c.maxSeq}, Got: tensor.Shape{len(seq)}}
		}
		for t, id := range seq {
			if id < 0 || int(id) >= c.vocab {
				return nil, errors.Errorf("token id %d at position %d outside vocabulary [0,%d)", id, t, c.vocab)
			}
			off := (i*c.maxSeq + t) * c.embDim
			copy(data[off:off+c.embDim], rows[int(id)*c.embDim:(int(id)+1)*c.embDim])
		}
	}
	return tensor.New(tensor.WithShape(b, c.maxSeq, c.embDim), tensor.WithBacking(data)), nil
}

// MaxSeq reports the fixed sequence length the graphs were built for.
func (c *Classifier) MaxSeq() int { return c.maxSeq }

// Labels reports the output width: 1 in toxic-only mode, NumLabels otherwise.
func (c *Classifier) Labels() int { return c.cfg.labels() }

// Weights clones the current parameter values, keyed by parameter name.
func (c *Classifier) Weights() map[string]*tensor.Dense {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.snapshot()
}
