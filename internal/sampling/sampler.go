// Package sampling picks the frames handed to the generation model and lays
// their masks out in the order the model expects.
package sampling

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/focusedad/internal/types"
)

// ErrMissingMask means propagation produced no mask for an object on a sampled frame.
var ErrMissingMask = errors.New("missing mask")

// UniformSample returns exactly n ids spread evenly over ids. When n exceeds
// len(ids) the sequence is tiled: [0 1 2 3 4] at n=10 gives [0 1 2 3 4 0 1 2 3 4].
// Otherwise element i is ids[floor(i*len(ids)/n)].
func UniformSample(ids []int, n int) []int {
	if n <= 0 || len(ids) == 0 {
		return []int{}
	}

	out := make([]int, n)
	if n > len(ids) {
		for i := range out {
			out[i] = ids[i%len(ids)]
		}
		return out
	}

	// Integer arithmetic avoids float rounding on long videos
	for i := range out {
		out[i] = ids[i*len(ids)/n]
	}
	return out
}

// Align samples n frames out of segs and builds the generation batch for regions.
// Masks are object-major: every sampled frame of object 1, then object 2, and so on.
// A batch always holds exactly n frames, so an empty propagation is an error.
func Align(videoPath string, segs types.VideoSegments, regions types.Regions, n int) (types.SampledBatch, error) {
	if n <= 0 {
		return types.SampledBatch{}, fmt.Errorf("%w: sample size must be positive, got %d", types.ErrInputValidation, n)
	}
	ids := segs.FrameIDs()
	if len(ids) == 0 {
		return types.SampledBatch{}, fmt.Errorf("%w: no frames propagated", ErrMissingMask)
	}
	frames := UniformSample(ids, n)
	objects := regions.ObjectIDs()

	batch := types.SampledBatch{
		VideoPath:    videoPath,
		FrameIndices: frames,
		ObjectIDs:    objects,
		Masks:        make([]types.Mask, 0, len(objects)*len(frames)),
		AnnIndices:   make([][]int, len(objects)),
		FrameNums:    []int{len(frames)},
	}

	for _, obj := range objects {
		for _, f := range frames {
			m, ok := segs[f][obj]
			if !ok {
				return types.SampledBatch{}, fmt.Errorf("%w: object %d on frame %d", ErrMissingMask, obj, f)
			}
			batch.Masks = append(batch.Masks, m)
		}
	}

	for i := range batch.AnnIndices {
		ann := make([]int, len(frames))
		for j := range ann {
			ann[j] = j
		}
		batch.AnnIndices[i] = ann
	}
	return batch, nil
}
