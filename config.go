package toxdetect

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Defaults mirroring the trained model this package ships weights for.
const (
	DefaultMaxSeq    = 500
	DefaultEpochs    = 50
	DefaultBatchSize = 500
)

// Config describes restore/checkpoint behaviour, the label-ratio
// statistics the loss is derived from, and the training mode. It is a
// value object: the classifier copies it at construction and never
// mutates it afterwards.
type Config struct {
	// Restore loads persisted weights into the freshly built graph.
	// The path must exist; a missing path is a fatal ConfigError.
	Restore     bool
	RestorePath string

	// Checkpoint persists the best-validation-F1 weights each epoch via
	// the WeightStore collaborator. RunName prefixes the file names.
	Checkpoint    bool
	CheckpointDir string
	RunName       string

	// LabelRatios holds the positive-label ratio per output label: six
	// entries in full mode, one in toxic-only mode. Every ratio must lie
	// strictly inside (0,1) or the loss bias is undefined.
	LabelRatios []float64

	// ToxicOnly trains and predicts a single label (column 0 of the
	// dataset labels) instead of all six toxicity categories.
	ToxicOnly bool

	// Epochs and BatchSize override the training defaults when non-zero.
	Epochs    int
	BatchSize int

	// Logger enables progress and summary logging. Nil disables it.
	Logger *zerolog.Logger
}

func (c *Config) labels() int {
	if c.ToxicOnly {
		return 1
	}
	return NumLabels
}

func (c *Config) epochs() int {
	if c.Epochs > 0 {
		return c.Epochs
	}
	return DefaultEpochs
}

func (c *Config) batchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return DefaultBatchSize
}

func (c *Config) validate() error {
	if c.Restore {
		if c.RestorePath == "" {
			return &ConfigError{Field: "RestorePath", Reason: "restore requested without a path"}
		}
		if _, err := os.Stat(c.RestorePath); err != nil {
			return &ConfigError{Field: "RestorePath", Reason: fmt.Sprintf("saved weights not found at %s", c.RestorePath)}
		}
	}
	if c.Checkpoint && c.CheckpointDir == "" {
		return &ConfigError{Field: "CheckpointDir", Reason: "checkpoint requested without a directory"}
	}
	if len(c.LabelRatios) == 0 {
		return &ConfigError{Field: "LabelRatios", Reason: "no positive-label ratios supplied"}
	}
	if c.ToxicOnly && len(c.LabelRatios) != 1 {
		return &ConfigError{Field: "LabelRatios", Reason: fmt.Sprintf("toxic-only mode takes a single ratio, got %d", len(c.LabelRatios))}
	}
	if !c.ToxicOnly && len(c.LabelRatios) != NumLabels {
		return &ConfigError{Field: "LabelRatios", Reason: fmt.Sprintf("full mode takes %d ratios, got %d", NumLabels, len(c.LabelRatios))}
	}
	for i, r := range c.LabelRatios {
		if r <= 0 || r >= 1 {
			return &ConfigError{Field: "LabelRatios", Reason: fmt.Sprintf("ratio %g at label %d leaves the loss bias undefined", r, i)}
		}
	}
	if c.Epochs < 0 {
		return &ConfigError{Field: "Epochs", Reason: fmt.Sprintf("negative epoch count %d", c.Epochs)}
	}
	if c.BatchSize < 0 {
		return &ConfigError{Field: "BatchSize", Reason: fmt.Sprintf("negative batch size %d", c.BatchSize)}
	}
	return nil
}
