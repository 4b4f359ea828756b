package toxdetect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaddingMask(t *testing.T) {
	mask, err := paddingMask([][]int32{{3, 1, 0, 0, 0}}, 5)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 5}, []int(mask.Shape()))
	assert.Equal(t, []float32{1, 1, 0, 0, 0}, mask.Data().([]float32))
}

func TestPaddingMaskRecomputedPerInput(t *testing.T) {
	first, err := paddingMask([][]int32{{3, 1, 0, 0, 0}}, 5)
	require.NoError(t, err)
	second, err := paddingMask([][]int32{{0, 0, 0, 0, 7}}, 5)
	require.NoError(t, err)

	assert.Equal(t, []float32{1, 1, 0, 0, 0}, first.Data().([]float32))
	assert.Equal(t, []float32{0, 0, 0, 0, 1}, second.Data().([]float32))
}

func TestPaddingMaskWrongLength(t *testing.T) {
	_, err := paddingMask([][]int32{{3, 1}}, 5)
	var shapeErr *ShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, "sequence", shapeErr.Name)
}
