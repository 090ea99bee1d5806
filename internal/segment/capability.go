package segment

import (
	"context"

	"github.com/andresmejia3/focusedad/internal/types"
)

// StateID names an inference state held by the segmentation engine.
type StateID string

// ScoreMap is a raw row-major per-object score map for one frame.
type ScoreMap struct {
	Width  int
	Height int
	Scores []float32
}

// ScoreFrame is one step of forward propagation: the score maps of every tracked object at FrameIndex.
// ObjectIDs[i] owns Maps[i].
type ScoreFrame struct {
	FrameIndex int
	ObjectIDs  []int
	Maps       []ScoreMap
}

// Segmenter is the video segmentation capability.
type Segmenter interface {
	// InitState creates a fresh (reset) inference state for the video.
	InitState(ctx context.Context, videoPath string) (StateID, error)
	// AddBox registers objectID at frameIdx with a box prompt.
	AddBox(ctx context.Context, state StateID, frameIdx, objectID int, box types.Box) error
	// Propagate streams forward propagation, calling fn once per produced frame.
	Propagate(ctx context.Context, state StateID, fn func(ScoreFrame) error) error
	// ReleaseState frees the engine-side state.
	ReleaseState(ctx context.Context, state StateID) error
}
