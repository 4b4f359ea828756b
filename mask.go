package toxdetect

import "gorgonia.org/tensor"

// PaddingID is the reserved token id for padded positions. Row 0 of the
// embedding matrix belongs to it and is never matched by a content mask.
const PaddingID = 0

// paddingMask derives the per-timestep content mask from the raw token
// ids: 1 where the id is a real token, 0 at padding. It is always computed
// from the original input sequence, never from an intermediate feature
// tensor (bias terms upstream leave nonzero values at padded positions),
// and it is recomputed on every forward pass.
func paddingMask(seqs [][]int32, maxSeq int) (*tensor.Dense, error) {
	data := make([]float32, len(seqs)*maxSeq)
	for i, seq := range seqs {
		if len(seq) != maxSeq {
			return nil, &ShapeError{Name: "sequence", Want: tensor.Shape{maxSeq}, Got: tensor.Shape{len(seq)}}
		}
		for t, id := range seq {
			if id != PaddingID {
				data[i*maxSeq+t] = 1
			}
		}
	}
	return tensor.New(tensor.WithShape(len(seqs), maxSeq), tensor.WithBacking(data)), nil
}
