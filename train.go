package toxdetect

import (
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// trainProgram is the compiled training graph: forward pass with both
// dropout stages live, the imbalance-weighted loss, and symbolic
// gradients bound for the solver.
type trainProgram struct {
	fg      *forwardGraph
	truth   *gorgonia.Node
	vm      gorgonia.VM
	lossVal gorgonia.Value
}

func (c *Classifier) buildTrain(batch int) (*trainProgram, error) {
	fg, err := c.buildForward(batch, true)
	if err != nil {
		return nil, err
	}
	tp := &trainProgram{fg: fg}
	tp.truth = gorgonia.NewMatrix(fg.g, tensor.Float32,
		gorgonia.WithShape(batch, c.cfg.labels()),
		gorgonia.WithName("truth"))

	lossNode, err := c.loss.Loss(fg.g, fg.probs, tp.truth)
	if err != nil {
		return nil, errors.Wrap(err, "attach loss")
	}
	gorgonia.Read(lossNode, &tp.lossVal)
	if _, err := gorgonia.Grad(lossNode, fg.learnables...); err != nil {
		return nil, errors.Wrap(err, "symbolic gradients")
	}

	opts := append([]gorgonia.VMOpt{gorgonia.BindDualValues(fg.learnables...)}, c.dev.vmOpts()...)
	tp.vm = gorgonia.NewTapeMachine(fg.g, opts...)
	return tp, nil
}

// valProgram evaluates loss and predictions on the held-out split with
// dropout inactive.
type valProgram struct {
	fg       *forwardGraph
	truth    *gorgonia.Node
	vm       gorgonia.VM
	lossVal  gorgonia.Value
	probsVal gorgonia.Value
}

func (c *Classifier) buildVal(batch int) (*valProgram, error) {
	fg, err := c.buildForward(batch, false)
	if err != nil {
		return nil, err
	}
	vp := &valProgram{fg: fg}
	vp.truth = gorgonia.NewMatrix(fg.g, tensor.Float32,
		gorgonia.WithShape(batch, c.cfg.labels()),
		gorgonia.WithName("truth"))

	lossNode, err := c.loss.Loss(fg.g, fg.probs, vp.truth)
	if err != nil {
		return nil, errors.Wrap(err, "attach validation loss")
	}
	gorgonia.Read(lossNode, &vp.lossVal)
	gorgonia.Read(fg.probs, &vp.probsVal)
	vp.vm = gorgonia.NewTapeMachine(fg.g, c.dev.vmOpts()...)
	return vp, nil
}

// Train runs the blocking epoch loop over batched examples. cb, when
// non-nil, is the metrics collaborator invoked after every epoch with the
// validation labels and predictions; its "val_f1" value drives the
// checkpoint collaborator. Train may be called again on the same
// classifier; the graph parameters carry over.
func (c *Classifier) Train(ds *Dataset, cb EpochCallback) (*History, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkDataset(ds); err != nil {
		return nil, err
	}
	nTrain := len(ds.TrainSeq)
	batch := c.cfg.batchSize()
	if batch > nTrain {
		batch = nTrain
	}

	tp, err := c.buildTrain(batch)
	if err != nil {
		return nil, err
	}
	defer tp.vm.Close()
	vp, err := c.buildVal(len(ds.ValSeq))
	if err != nil {
		return nil, err
	}
	defer vp.vm.Close()

	valEmbedded, err := c.embedSeqs(ds.ValSeq)
	if err != nil {
		return nil, err
	}
	valMask, err := paddingMask(ds.ValSeq, c.maxSeq)
	if err != nil {
		return nil, err
	}
	valTruth, err := c.labelTensor(ds.ValLbl)
	if err != nil {
		return nil, err
	}

	idx := make([]int, nTrain)
	for i := range idx {
		idx[i] = i
	}

	// Adam with value clipping; one solver serves the whole run so its
	// moment estimates survive across epochs
	solver := gorgonia.NewAdamSolver(
		gorgonia.WithLearnRate(learnRate),
		gorgonia.WithClip(gradClipValue))

	hist := &History{}
	epochs := c.cfg.epochs()
	for epoch := 1; epoch <= epochs; epoch++ {
		rand.Shuffle(nTrain, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		var epochLoss float64
		batches := 0
		for start := 0; start+batch <= nTrain; start += batch {
			seqs := make([][]int32, batch)
			lbls := make([][]float32, batch)
			for i := 0; i < batch; i++ {
				seqs[i] = ds.TrainSeq[idx[start+i]]
				lbls[i] = ds.TrainLbl[idx[start+i]]
			}
			loss, err := c.trainStep(tp, solver, seqs, lbls)
			if err != nil {
				return nil, errors.Wrapf(err, "epoch %d batch %d", epoch, batches)
			}
			epochLoss += loss
			batches++
		}
		if batches > 0 {
			epochLoss /= float64(batches)
		}

		valLoss, valPred, err := c.validate(vp, valEmbedded, valMask, valTruth)
		if err != nil {
			return nil, errors.Wrapf(err, "epoch %d validation", epoch)
		}

		stats := EpochStats{Epoch: epoch, Loss: epochLoss, ValLoss: valLoss}
		if cb != nil {
			if stats.Metrics, err = cb.OnEpochEnd(epoch, valTruth, valPred); err != nil {
				return nil, errors.Wrapf(err, "epoch %d metrics", epoch)
			}
		}
		if c.cfg.Checkpoint && c.store != nil {
			valF1 := stats.Metrics["val_f1"]
			if err := c.store.SaveBest(c.cfg.CheckpointDir, c.cfg.RunName, epoch, valF1, c.params.snapshot()); err != nil {
				return nil, errors.Wrapf(err, "epoch %d checkpoint", epoch)
			}
		}

		ev := c.log.Info().
			Int("epoch", epoch).
			Float64("loss", epochLoss).
			Float64("val_loss", valLoss)
		for k, v := range stats.Metrics {
			ev = ev.Float64(k, v)
		}
		ev.Msg("epoch done")

		hist.Epochs = append(hist.Epochs, stats)
	}
	return hist, nil
}

func (c *Classifier) trainStep(tp *trainProgram, solver gorgonia.Solver, seqs [][]int32, lbls [][]float32) (float64, error) {
	embedded, err := c.embedSeqs(seqs)
	if err != nil {
		return 0, err
	}
	mask, err := paddingMask(seqs, c.maxSeq)
	if err != nil {
		return 0, err
	}
	truth, err := c.labelTensor(lbls)
	if err != nil {
		return 0, err
	}
	spatial := spatialDropoutMask(len(seqs), c.embDim)

	if err := gorgonia.Let(tp.fg.embedded, embedded); err != nil {
		return 0, err
	}
	if err := gorgonia.Let(tp.fg.mask, mask); err != nil {
		return 0, err
	}
	if err := gorgonia.Let(tp.fg.spatialMask, spatial); err != nil {
		return 0, err
	}
	if err := gorgonia.Let(tp.truth, truth); err != nil {
		return 0, err
	}

	if err := tp.vm.RunAll(); err != nil {
		return 0, errors.Wrap(err, "forward/backward")
	}
	if err := solver.Step(gorgonia.NodesToValueGrads(tp.fg.learnables)); err != nil {
		return 0, errors.Wrap(err, "solver step")
	}
	loss := float64(tp.lossVal.Data().(float32))
	tp.vm.Reset()
	return loss, nil
}

func (c *Classifier) validate(vp *valProgram, embedded, mask, truth *tensor.Dense) (float64, *tensor.Dense, error) {
	if err := gorgonia.Let(vp.fg.embedded, embedded); err != nil {
		return 0, nil, err
	}
	if err := gorgonia.Let(vp.fg.mask, mask); err != nil {
		return 0, nil, err
	}
	if err := gorgonia.Let(vp.truth, truth); err != nil {
		return 0, nil, err
	}
	if err := vp.vm.RunAll(); err != nil {
		return 0, nil, errors.Wrap(err, "validation pass")
	}
	loss := float64(vp.lossVal.Data().(float32))
	pred := vp.probsVal.(*tensor.Dense).Clone().(*tensor.Dense)
	vp.vm.Reset()
	return loss, pred, nil
}

// spatialDropoutMask samples one keep/drop decision per feature channel
// and applies it to the whole sequence, inverted-dropout scaled.
func spatialDropoutMask(batch, dim int) *tensor.Dense {
	keep := 1 - spatialDropoutRate
	scale := float32(1 / keep)
	data := make([]float32, batch*dim)
	for i := range data {
		if rand.Float64() < keep {
			data[i] = scale
		}
	}
	return tensor.New(tensor.WithShape(batch, 1, dim), tensor.WithBacking(data))
}

func (c *Classifier) checkDataset(ds *Dataset) error {
	if ds == nil || len(ds.TrainSeq) == 0 {
		return errors.New("train: empty training set")
	}
	if len(ds.TrainLbl) != len(ds.TrainSeq) {
		return errors.Errorf("train: %d training sequences but %d label rows", len(ds.TrainSeq), len(ds.TrainLbl))
	}
	if len(ds.ValSeq) == 0 {
		return errors.New("train: empty validation split")
	}
	if len(ds.ValLbl) != len(ds.ValSeq) {
		return errors.Errorf("train: %d validation sequences but %d label rows", len(ds.ValSeq), len(ds.ValLbl))
	}
	return nil
}

// labelTensor lays out the target batch. Dataset labels are always
// NumLabels wide; toxic-only mode keeps column 0 only.
func (c *Classifier) labelTensor(lbls [][]float32) (*tensor.Dense, error) {
	labels := c.cfg.labels()
	data := make([]float32, len(lbls)*labels)
	for i, row := range lbls {
		if len(row) < labels {
			return nil, &ShapeError{Name: "labels", Want: tensor.Shape{labels}, Got: tensor.Shape{len(row)}}
		}
		copy(data[i*labels:(i+1)*labels], row[:labels])
	}
	return tensor.New(tensor.WithShape(len(lbls), labels), tensor.WithBacking(data)), nil
}
