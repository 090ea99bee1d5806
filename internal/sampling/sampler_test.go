package sampling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/focusedad/internal/types"
)

func seq(n int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

func TestUniformSample(t *testing.T) {
	tests := []struct {
		name string
		ids  []int
		n    int
		want []int
	}{
		{"tiles when asking for more", seq(5), 10, []int{0, 1, 2, 3, 4, 0, 1, 2, 3, 4}},
		{"tiles with partial tail", seq(3), 7, []int{0, 1, 2, 0, 1, 2, 0}},
		{"exact length is identity", seq(4), 4, []int{0, 1, 2, 3}},
		{"downsamples 100 to 10", seq(100), 10, []int{0, 10, 20, 30, 40, 50, 60, 70, 80, 90}},
		{"uneven step floors", seq(10), 3, []int{0, 3, 6}},
		{"keeps original ids", []int{7, 9, 11, 13}, 2, []int{7, 11}},
		{"zero n", seq(5), 0, []int{}},
		{"negative n", seq(5), -1, []int{}},
		{"no ids", nil, 4, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UniformSample(tt.ids, tt.n))
		})
	}
}

func TestUniformSample_Properties(t *testing.T) {
	ids := seq(100)
	got := UniformSample(ids, 10)

	require.Len(t, got, 10)
	assert.Equal(t, 0, got[0])
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i], got[i-1], "strictly increasing at %d", i)
	}
	assert.Equal(t, got, UniformSample(ids, 10), "deterministic")

	for n := 1; n <= 250; n++ {
		assert.Len(t, UniformSample(seq(37), n), n)
	}
}

// tagged returns a 1x1 mask for object obj on frame f with a distinct fill,
// so order can be read back from the batch.
func tagged(obj, f int) types.Mask {
	m := types.NewMask(obj*10+f+1, 1)
	m.Set(0, 0)
	return m
}

func TestAlign_ObjectMajorOrder(t *testing.T) {
	segs := types.VideoSegments{}
	for f := 0; f < 3; f++ {
		segs[f] = map[int]types.Mask{1: tagged(1, f), 2: tagged(2, f)}
	}
	regions := types.Regions{{Name: "A"}, {Name: "B"}}

	batch, err := Align("clip.mp4", segs, regions, 3)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, batch.FrameIndices)
	assert.Equal(t, []int{1, 2}, batch.ObjectIDs)
	require.Len(t, batch.Masks, 6)

	var order []int
	for _, m := range batch.Masks {
		order = append(order, m.Width)
	}
	// (obj1,f0) (obj1,f1) (obj1,f2) (obj2,f0) (obj2,f1) (obj2,f2)
	assert.Equal(t, []int{11, 12, 13, 21, 22, 23}, order)
	assert.Equal(t, tagged(2, 1).Width, batch.MaskAt(1, 1).Width)

	assert.Equal(t, [][]int{{0, 1, 2}, {0, 1, 2}}, batch.AnnIndices)
	assert.Equal(t, []int{3}, batch.FrameNums)
	assert.Equal(t, "clip.mp4", batch.VideoPath)
}

func TestAlign_TilesShortVideos(t *testing.T) {
	segs := types.VideoSegments{
		0: {1: tagged(1, 0)},
		5: {1: tagged(1, 5)},
	}
	batch, err := Align("clip.mp4", segs, types.Regions{{}}, 5)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 5, 0, 5, 0}, batch.FrameIndices)
	assert.Len(t, batch.Masks, 5)
	assert.Equal(t, []int{5}, batch.FrameNums)
	assert.Equal(t, [][]int{{0, 1, 2, 3, 4}}, batch.AnnIndices)
}

func TestAlign_MissingMask(t *testing.T) {
	segs := types.VideoSegments{
		0: {1: tagged(1, 0), 2: tagged(2, 0)},
		1: {1: tagged(1, 1)},
	}
	_, err := Align("clip.mp4", segs, types.Regions{{}, {}}, 2)
	assert.ErrorIs(t, err, ErrMissingMask)
}

func TestAlign_NoFrames(t *testing.T) {
	batch, err := Align("clip.mp4", types.VideoSegments{}, types.Regions{{}}, 32)
	assert.ErrorIs(t, err, ErrMissingMask)
	assert.Empty(t, batch.FrameIndices)
	assert.Empty(t, batch.Masks)
}

func TestAlign_NonPositiveSampleSize(t *testing.T) {
	segs := types.VideoSegments{0: {1: tagged(1, 0)}}
	for _, n := range []int{0, -3} {
		_, err := Align("clip.mp4", segs, types.Regions{{}}, n)
		assert.ErrorIs(t, err, types.ErrInputValidation, "n=%d", n)
	}
}
