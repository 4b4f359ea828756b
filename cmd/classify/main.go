// Command classify restores trained weights and prints per-label
// probabilities, attention weights and saliency norms for token-id
// sequences given as comma-separated arguments, e.g.
//
//	classify -weights out/demo_weights-epoch-07-val_f1-0.83.gob -dump emb.gob 3,1,0,0,0
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"toxdetect"
	"toxdetect/checkpoint"
	"toxdetect/embedder"
)

func main() {
	var (
		weightsPath = flag.String("weights", "", "gob weight file to restore")
		dumpPath    = flag.String("dump", "", "embedding dump with matrix and label ratios")
		maxSeq      = flag.Int("maxseq", 20, "fixed sequence length")
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if *weightsPath == "" || *dumpPath == "" || flag.NArg() == 0 {
		log.Fatal().Msg("usage: classify -weights FILE -dump FILE SEQ [SEQ...]")
	}

	matrix, ratios, err := embedder.LoadDump(*dumpPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load embedding dump")
	}

	seqs := make([][]int32, flag.NArg())
	for i, arg := range flag.Args() {
		seq, err := parseSeq(arg, *maxSeq)
		if err != nil {
			log.Fatal().Err(err).Str("arg", arg).Msg("parse sequence")
		}
		seqs[i] = seq
	}

	cfg := toxdetect.Config{
		Restore:     true,
		RestorePath: *weightsPath,
		LabelRatios: ratios,
		Logger:      &log,
	}
	clf, err := toxdetect.New(toxdetect.CPU(), *maxSeq, matrix, cfg, checkpoint.NewStore())
	if err != nil {
		log.Fatal().Err(err).Msg("build classifier")
	}

	probs, err := clf.Classify(seqs)
	if err != nil {
		log.Fatal().Err(err).Msg("classify")
	}
	attn, err := clf.Attention(seqs)
	if err != nil {
		log.Fatal().Err(err).Msg("attention")
	}
	grad, err := clf.Gradient(seqs)
	if err != nil {
		log.Fatal().Err(err).Msg("gradient")
	}

	pData := probs.Data().([]float32)
	aData := attn.Data().([]float32)
	gData := grad.Data().([]float32)
	labels := clf.Labels()
	embDim := matrix.Shape()[1]
	ms := *maxSeq

	for i := range seqs {
		fmt.Printf("sequence %d:\n", i)
		for l := 0; l < labels; l++ {
			name := "toxic"
			if labels == toxdetect.NumLabels {
				name = toxdetect.LabelNames[l]
			}
			fmt.Printf("  %-14s %.4f\n", name, pData[i*labels+l])
		}
		fmt.Printf("  attention     %s\n", formatRow(aData[i*ms:(i+1)*ms]))
		fmt.Printf("  saliency      %s\n", formatRow(saliencyNorms(gData, i, ms, embDim)))
	}
}

func parseSeq(arg string, maxSeq int) ([]int32, error) {
	parts := strings.Split(arg, ",")
	seq := make([]int32, maxSeq)
	if len(parts) > maxSeq {
		return nil, fmt.Errorf("sequence has %d tokens, max is %d", len(parts), maxSeq)
	}
	for i, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, err
		}
		seq[i] = int32(id)
	}
	return seq, nil
}

// saliencyNorms collapses the per-position embedding gradient to one
// magnitude per timestep.
func saliencyNorms(grad []float32, example, maxSeq, embDim int) []float32 {
	out := make([]float32, maxSeq)
	for t := 0; t < maxSeq; t++ {
		var sum float64
		off := (example*maxSeq + t) * embDim
		for _, v := range grad[off : off+embDim] {
			sum += float64(v) * float64(v)
		}
		out[t] = float32(math.Sqrt(sum))
	}
	return out
}

func formatRow(vals []float32) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%.3f", v)
	}
	return strings.Join(parts, " ")
}
