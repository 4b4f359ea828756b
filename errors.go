package toxdetect

import (
	"fmt"

	"gorgonia.org/tensor"
)

// ConfigError reports an invalid configuration detected at construction
// or compile time. Degenerate label ratios, a missing restore path and
// malformed mode combinations all surface here, never on the first batch.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// ShapeError reports a tensor that does not fit the built graph, e.g.
// restored weights of the wrong shape or an input sequence of the wrong
// length. It is fatal; nothing is retried.
type ShapeError struct {
	Name string
	Want tensor.Shape
	Got  tensor.Shape
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape mismatch for %s: want %v, got %v", e.Name, e.Want, e.Got)
}
