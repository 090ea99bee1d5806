package segment

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/andresmejia3/focusedad/internal/types"
)

// Propagator turns region boxes on one frame into per-frame masks for the whole video.
type Propagator struct {
	seg    Segmenter
	logger *zap.Logger
}

func NewPropagator(seg Segmenter, logger *zap.Logger) *Propagator {
	return &Propagator{seg: seg, logger: logger}
}

// Propagate anchors region i as object i+1 on startFrame and tracks every
// object forward through the video. A pixel is in the mask when its score is > 0.
// Regions are validated before the segmenter is touched.
func (p *Propagator) Propagate(ctx context.Context, videoPath string, regions types.Regions, startFrame int) (types.VideoSegments, error) {
	if startFrame < 0 {
		return nil, fmt.Errorf("%w: start frame %d is negative", types.ErrInputValidation, startFrame)
	}
	if err := ValidateRegions(regions); err != nil {
		return nil, err
	}

	// InitState always hands back a reset state
	state, err := p.seg.InitState(ctx, videoPath)
	if err != nil {
		return nil, wrapInference("init state", err)
	}
	defer func() {
		// Use a fresh context so a cancelled run still frees engine memory
		if relErr := p.seg.ReleaseState(context.WithoutCancel(ctx), state); relErr != nil {
			p.logger.Warn("failed to release segmentation state", zap.String("state", string(state)), zap.Error(relErr))
		}
	}()

	ids := regions.ObjectIDs()
	for i, r := range regions {
		if err := p.seg.AddBox(ctx, state, startFrame, ids[i], r.Box); err != nil {
			return nil, wrapInference(fmt.Sprintf("add box for object %d", ids[i]), err)
		}
	}

	segs := types.VideoSegments{}
	err = p.seg.Propagate(ctx, state, func(f ScoreFrame) error {
		if len(f.ObjectIDs) != len(f.Maps) {
			return fmt.Errorf("frame %d: %d object ids for %d score maps", f.FrameIndex, len(f.ObjectIDs), len(f.Maps))
		}
		masks := make(map[int]types.Mask, len(f.ObjectIDs))
		for i, id := range f.ObjectIDs {
			sm := f.Maps[i]
			m, err := types.MaskFromScores(sm.Width, sm.Height, sm.Scores)
			if err != nil {
				return fmt.Errorf("frame %d object %d: %w", f.FrameIndex, id, err)
			}
			masks[id] = m
		}
		segs[f.FrameIndex] = masks
		return nil
	})
	if err != nil {
		return nil, wrapInference("propagate", err)
	}

	p.logger.Debug("propagation done",
		zap.String("video", videoPath),
		zap.Int("objects", len(regions)),
		zap.Int("frames", len(segs)))
	return segs, nil
}

func wrapInference(stage string, err error) error {
	if errors.Is(err, types.ErrInference) {
		return fmt.Errorf("%s: %w", stage, err)
	}
	return fmt.Errorf("%w: %s: %w", types.ErrInference, stage, err)
}
