// Package embedder builds and persists the frozen embedding matrix the
// classifier consumes. The matrix maps vocabulary index to a dense
// vector; row 0 stays zero for the padding token.
package embedder

import (
	"context"

	"github.com/nlpodyssey/cybertron/pkg/tasks"
	"github.com/nlpodyssey/cybertron/pkg/tasks/textencoding"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

const defaultModel = "sentence-transformers/all-MiniLM-L6-v2"

// Builder encodes vocabulary entries with a pretrained text encoder.
type Builder struct {
	enc textencoding.Interface
}

// NewBuilder loads the encoder model, downloading it into modelsDir on
// first use. An empty modelName selects a small MiniLM.
func NewBuilder(modelsDir, modelName string) (*Builder, error) {
	if modelName == "" {
		modelName = defaultModel
	}
	m, err := tasks.Load[textencoding.Interface](&tasks.Config{
		ModelsDir: modelsDir,
		ModelName: modelName,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "load encoder model %s", modelName)
	}
	return &Builder{enc: m}, nil
}

// Matrix encodes each vocabulary entry to one row. vocab[0] is the
// padding token; its row is left zero and its text never encoded.
func (b *Builder) Matrix(ctx context.Context, vocab []string) (*tensor.Dense, error) {
	if len(vocab) < 2 {
		return nil, errors.New("vocabulary needs at least one real token besides padding")
	}

	var dim int
	var data []float32
	for i, word := range vocab[1:] {
		result, err := b.enc.Encode(ctx, word, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "encode vocabulary entry %d (%q)", i+1, word)
		}
		vec := result.Vector.Data().F64()
		if dim == 0 {
			dim = len(vec)
			data = make([]float32, len(vocab)*dim)
		}
		if len(vec) != dim {
			return nil, errors.Errorf("encoder returned %d dims for %q, expected %d", len(vec), word, dim)
		}
		row := data[(i+1)*dim : (i+2)*dim]
		for j, v := range vec {
			row[j] = float32(v)
		}
	}
	return tensor.New(tensor.WithShape(len(vocab), dim), tensor.WithBacking(data)), nil
}
