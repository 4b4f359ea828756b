// Command train runs a small end-to-end training demo: a synthetic
// vocabulary embedded with the deterministic mock encoder, the full
// classifier stack, per-epoch validation metrics and best-F1
// checkpointing.
package main

import (
	"flag"
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog"

	"toxdetect"
	"toxdetect/checkpoint"
	"toxdetect/embedder"
	"toxdetect/metrics"
)

func main() {
	var (
		checkpointDir = flag.String("checkpoint", "out", "directory for best-epoch weights")
		runName       = flag.String("run", "demo", "run name prefixing checkpoint files")
		epochs        = flag.Int("epochs", 10, "training epochs")
		maxSeq        = flag.Int("maxseq", 20, "fixed sequence length")
		embDim        = flag.Int("dim", 32, "embedding dimension")
	)
	flag.Parse()
	rand.Seed(time.Now().UnixNano())

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	// 40 token ids; row 0 is padding
	vocab := make([]string, 41)
	vocab[0] = "<pad>"
	words := []string{
		"you", "are", "a", "the", "is", "this", "so", "very", "really", "just",
		"great", "nice", "helpful", "thanks", "good", "interesting", "agree", "well", "done", "kind",
		"idiot", "stupid", "moron", "hate", "ugly", "trash", "worthless", "shut", "dumb", "loser",
		"kill", "die", "hurt", "threat", "attack", "destroy", "fool", "pathetic", "disgusting", "garbage",
	}
	copy(vocab[1:], words)

	matrix := embedder.Mock{Dim: *embDim}.Matrix(vocab)

	ds := makeDataset(*maxSeq, 400, 80)

	cfg := toxdetect.Config{
		Checkpoint:    true,
		CheckpointDir: *checkpointDir,
		RunName:       *runName,
		LabelRatios:   []float64{0.10, 0.01, 0.05, 0.003, 0.05, 0.009},
		Epochs:        *epochs,
		BatchSize:     50,
		Logger:        &log,
	}
	store := checkpoint.NewStore()

	clf, err := toxdetect.New(toxdetect.CPU(), *maxSeq, matrix, cfg, store)
	if err != nil {
		log.Fatal().Err(err).Msg("build classifier")
	}

	hist, err := clf.Train(ds, metrics.Callback{})
	if err != nil {
		log.Fatal().Err(err).Msg("train")
	}

	last := hist.Epochs[len(hist.Epochs)-1]
	log.Info().
		Float64("loss", last.Loss).
		Float64("val_loss", last.ValLoss).
		Float64("val_f1", last.Metrics["val_f1"]).
		Msg("training finished")
	if path, ok := store.BestPath(); ok {
		log.Info().Str("path", path).Msg("best weights")
	}
}

// makeDataset synthesizes sequences whose toxicity is encoded by drawing
// from the insult/threat half of the vocabulary (ids 21-40).
func makeDataset(maxSeq, nTrain, nVal int) *toxdetect.Dataset {
	ds := &toxdetect.Dataset{}
	for i := 0; i < nTrain+nVal; i++ {
		toxic := rand.Float64() < 0.3
		seq := make([]int32, maxSeq)
		length := 4 + rand.Intn(maxSeq-4)
		for t := 0; t < length; t++ {
			if toxic && rand.Float64() < 0.4 {
				seq[t] = int32(21 + rand.Intn(20))
			} else {
				seq[t] = int32(1 + rand.Intn(20))
			}
		}
		lbl := make([]float32, toxdetect.NumLabels)
		if toxic {
			lbl[0] = 1
			if rand.Float64() < 0.3 {
				lbl[4] = 1 // insult often co-occurs
			}
		}
		if i < nTrain {
			ds.TrainSeq = append(ds.TrainSeq, seq)
			ds.TrainLbl = append(ds.TrainLbl, lbl)
		} else {
			ds.ValSeq = append(ds.ValSeq, seq)
			ds.ValLbl = append(ds.ValLbl, lbl)
		}
	}
	return ds
}
