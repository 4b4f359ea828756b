package toxdetect

import "gorgonia.org/tensor"

// NumLabels is the number of toxicity categories in full training mode.
const NumLabels = 6

// LabelNames names the output columns in full training mode.
var LabelNames = [NumLabels]string{"toxic", "severe_toxic", "obscene", "threat", "insult", "identity_hate"}

// Dataset is the narrow view of the dataset collaborator: four aligned
// arrays of pre-tokenized, fixed-length sequences and pre-binarized
// labels. Labels are always NumLabels wide; toxic-only training slices
// column 0 itself.
type Dataset struct {
	TrainSeq [][]int32
	TrainLbl [][]float32
	ValSeq   [][]int32
	ValLbl   [][]float32
}

// WeightStore is the checkpoint collaborator. It owns the on-disk layout;
// SaveBest is expected to keep only the best validation score it has seen.
type WeightStore interface {
	Load(path string) (map[string]*tensor.Dense, error)
	SaveBest(dir, run string, epoch int, valF1 float64, weights map[string]*tensor.Dense) error
}

// EpochCallback is the metrics collaborator: an opaque per-epoch hook fed
// the validation labels and predictions, reporting named metric values
// back into the training history. A "val_f1" entry, when present, drives
// checkpointing.
type EpochCallback interface {
	OnEpochEnd(epoch int, valTrue, valPred *tensor.Dense) (map[string]float64, error)
}

// EpochStats is one row of the training history.
type EpochStats struct {
	Epoch   int
	Loss    float64
	ValLoss float64
	Metrics map[string]float64
}

// History collects per-epoch loss and metric values across one Train call.
type History struct {
	Epochs []EpochStats
}
