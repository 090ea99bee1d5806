// Package pipeline runs the per-video state machine:
//
//	Loaded -> IdentityMatched -> PromptBuilt -> Propagated -> Described -> Released
//
// A failing stage ends that video only. The batch always moves on, and the
// video handle is released exactly once on every path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/andresmejia3/focusedad/internal/identity"
	"github.com/andresmejia3/focusedad/internal/logging"
	"github.com/andresmejia3/focusedad/internal/metrics"
	"github.com/andresmejia3/focusedad/internal/prompt"
	"github.com/andresmejia3/focusedad/internal/sampling"
	"github.com/andresmejia3/focusedad/internal/types"
	"github.com/andresmejia3/focusedad/internal/utils"
)

// Stage names, used in errors, logs, spans and metric labels.
const (
	StageLoad      = "load"
	StageIdentity  = "identity"
	StagePrompt    = "prompt"
	StagePropagate = "propagate"
	StageSample    = "sample"
	StageDescribe  = "describe"
)

// State is the last state a video reached.
type State string

const (
	StateNew             State = "new"
	StateLoaded          State = "loaded"
	StateIdentityMatched State = "identity_matched"
	StatePromptBuilt     State = "prompt_built"
	StatePropagated      State = "propagated"
	StateDescribed       State = "described"
)

const (
	DefaultSampleFrames = 32
	DefaultStartFrame   = 0
)

// Matcher names the characters visible in a frame.
type Matcher interface {
	Match(ctx context.Context, framePath, galleryDir string) (identity.Result, error)
}

// MaskPropagator tracks regions through a video.
type MaskPropagator interface {
	Propagate(ctx context.Context, videoPath string, regions types.Regions, startFrame int) (types.VideoSegments, error)
}

// Generator is the grounded video description capability.
type Generator interface {
	Generate(ctx context.Context, req types.GenerateRequest) (string, error)
}

// Recorder persists finished outcomes.
type Recorder interface {
	RecordOutcome(ctx context.Context, runID string, o Outcome) error
}

// Video is an open input video.
type Video interface {
	ExtractFrame(ctx context.Context, frameID int, outPath string) (types.Resolution, error)
	StreamResolution() (types.Resolution, bool)
	Close() error
}

// Opener acquires a video handle.
type Opener func(ctx context.Context, path string) (Video, error)

// OpenVideo is the Opener backed by ffprobe / ffmpeg.
func OpenVideo(ctx context.Context, path string) (Video, error) {
	v, err := utils.OpenVideo(ctx, path)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Capabilities are the collaborators a Driver needs. Open defaults to
// OpenVideo and Recorder may be nil.
type Capabilities struct {
	Matcher    Matcher
	Propagator MaskPropagator
	Generator  Generator
	Open       Opener
	Recorder   Recorder
}

// Options tune a run.
type Options struct {
	SampleFrames int // frames handed to the generator
	StartFrame   int // frame the region boxes are anchored on
}

// StageError is a contained per-video failure.
type StageError struct {
	Stage   string
	VideoID string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("video %s: %s: %v", e.VideoID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Outcome is the result of one video.
type Outcome struct {
	RunID        string
	Scene        Scene
	State        State
	Resolution   *types.Resolution // nil when frame 0 could not be decoded
	Matches      []types.IdentityMatch
	MatchReason  error // why identity matching produced nothing, if it did
	Prompt       types.PromptSpec
	FrameIndices []int
	Description  string
	Err          error // *StageError
	Released     bool
	Duration     time.Duration
}

// OK reports whether the video was described.
func (o Outcome) OK() bool { return o.Err == nil && o.State == StateDescribed }

// Driver runs scenes through the pipeline one at a time.
type Driver struct {
	caps   Capabilities
	opts   Options
	logger *zap.Logger
	runID  string
}

func NewDriver(caps Capabilities, opts Options, logger *zap.Logger) *Driver {
	if caps.Open == nil {
		caps.Open = OpenVideo
	}
	if opts.SampleFrames <= 0 {
		opts.SampleFrames = DefaultSampleFrames
	}
	return &Driver{
		caps:   caps,
		opts:   opts,
		logger: logger,
		runID:  uuid.NewString(),
	}
}

// RunID identifies this driver's batch in logs and storage.
func (d *Driver) RunID() string { return d.runID }

// RunAll processes every scene in order and returns one outcome per scene.
// onDone, if set, is called after each scene.
func (d *Driver) RunAll(ctx context.Context, scenes []Scene, onDone func(Outcome)) []Outcome {
	outcomes := make([]Outcome, 0, len(scenes))
	for _, s := range scenes {
		o := d.Run(ctx, s)
		outcomes = append(outcomes, o)
		if onDone != nil {
			onDone(o)
		}
	}
	return outcomes
}

// Run processes a single scene. Failures are reported in Outcome.Err, never returned.
func (d *Driver) Run(ctx context.Context, scene Scene) (out Outcome) {
	tracer := otel.Tracer("pipeline")
	ctx, span := tracer.Start(ctx, "Driver.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", d.runID),
		attribute.String("video.id", scene.ID),
		attribute.String("video.path", scene.VideoPath),
	)

	log := logging.WithVideo(d.logger, scene.ID)
	start := time.Now()
	out = Outcome{RunID: d.runID, Scene: scene, State: StateNew}

	defer func() {
		if r := recover(); r != nil {
			out.Err = &StageError{Stage: "panic", VideoID: scene.ID, Err: fmt.Errorf("%v", r)}
			log.Error("video processing panicked", zap.Any("panic", r))
		}
		out.Duration = time.Since(start)

		status := "described"
		if out.Err != nil {
			status = "failed"
			span.SetStatus(codes.Error, out.Err.Error())
		}
		metrics.VideosProcessedTotal.WithLabelValues(status).Inc()
		d.record(ctx, log, out)
	}()

	log.Info("processing video",
		zap.String("video_path", scene.VideoPath),
		zap.String("character_dir", scene.CharacterDir),
		zap.Int("text_prior_len", len(scene.TextPrior)))
	if scene.PriorErr != nil {
		log.Warn("ignoring unreadable text prior", zap.Error(scene.PriorErr))
	}

	// Loaded
	var video Video
	err := d.stage(ctx, StageLoad, func(ctx context.Context) error {
		var err error
		video, err = d.caps.Open(ctx, scene.VideoPath)
		return err
	})
	if err != nil {
		return d.fail(log, out, StageLoad, err)
	}
	defer func() {
		if err := video.Close(); err != nil {
			log.Warn("failed to release video", zap.Error(err))
		}
		out.Released = true
	}()

	var res types.Resolution
	err = d.stage(ctx, StageLoad, func(ctx context.Context) error {
		r, err := d.loadFrame0(ctx, log, video, scene)
		if err != nil {
			return err
		}
		if r != nil {
			out.Resolution = r
			res = *r
			return nil
		}
		if sr, ok := video.StreamResolution(); ok {
			log.Warn("using stream resolution in place of frame 0", zap.Int("width", sr.Width), zap.Int("height", sr.Height))
			res = sr
			return nil
		}
		return fmt.Errorf("%w: no frame 0 resolution for %s", types.ErrResourceUnavailable, scene.VideoPath)
	})
	if err != nil {
		return d.fail(log, out, StageLoad, err)
	}
	out.State = StateLoaded

	// IdentityMatched
	err = d.stage(ctx, StageIdentity, func(ctx context.Context) error {
		r, err := d.caps.Matcher.Match(ctx, scene.Frame0Path, scene.CharacterDir)
		if err != nil {
			return err
		}
		out.Matches, out.MatchReason = r.Matches, r.Reason
		return nil
	})
	if err != nil {
		return d.fail(log, out, StageIdentity, err)
	}
	out.State = StateIdentityMatched

	// PromptBuilt
	err = d.stage(ctx, StagePrompt, func(context.Context) error {
		out.Prompt = prompt.Build(out.Matches, res)
		if len(out.Prompt.Regions) == 0 {
			return fmt.Errorf("%w: prompt has no regions", types.ErrInputValidation)
		}
		return nil
	})
	if err != nil {
		return d.fail(log, out, StagePrompt, err)
	}
	out.State = StatePromptBuilt
	log.Debug("prompt built", zap.String("prompt", out.Prompt.Text), zap.Int("regions", len(out.Prompt.Regions)))

	// Propagated & sampled
	var segs types.VideoSegments
	err = d.stage(ctx, StagePropagate, func(ctx context.Context) error {
		var err error
		segs, err = d.caps.Propagator.Propagate(ctx, scene.VideoPath, out.Prompt.Regions, d.opts.StartFrame)
		return err
	})
	if err != nil {
		return d.fail(log, out, StagePropagate, err)
	}

	var batch types.SampledBatch
	err = d.stage(ctx, StageSample, func(context.Context) error {
		var err error
		batch, err = sampling.Align(scene.VideoPath, segs, out.Prompt.Regions, d.opts.SampleFrames)
		return err
	})
	if err != nil {
		return d.fail(log, out, StageSample, err)
	}
	out.FrameIndices = batch.FrameIndices
	out.State = StatePropagated
	metrics.FramesSampledTotal.Add(float64(len(batch.FrameIndices)))
	log.Info("frames sampled", zap.Int("video_frames", len(segs)), zap.Int("sampled", len(batch.FrameIndices)))

	// Described
	err = d.stage(ctx, StageDescribe, func(ctx context.Context) error {
		text, err := d.caps.Generator.Generate(ctx, types.NewGenerateRequest(out.Prompt.Text, batch))
		if err != nil {
			return err
		}
		out.Description = text
		return nil
	})
	if err != nil {
		return d.fail(log, out, StageDescribe, err)
	}
	out.State = StateDescribed

	log.Info("video described", zap.Int("matches", len(out.Matches)), zap.Duration("elapsed", time.Since(start)))
	return out
}

// loadFrame0 writes frame 0 as PNG and returns its resolution, or nil if it
// could not be decoded. Only a released handle is an error here.
func (d *Driver) loadFrame0(ctx context.Context, log *zap.Logger, video Video, scene Scene) (*types.Resolution, error) {
	// A stale frame from an earlier run must not be matched against
	if err := os.Remove(scene.Frame0Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: remove stale frame: %v", types.ErrResourceUnavailable, err)
	}

	res, err := video.ExtractFrame(ctx, 0, scene.Frame0Path)
	if err != nil {
		log.Warn("could not read frame 0", zap.String("frame0_path", scene.Frame0Path), zap.Error(err))
		return nil, nil
	}
	log.Debug("extracted frame 0", zap.String("frame0_path", scene.Frame0Path), zap.Int("width", res.Width), zap.Int("height", res.Height))
	return &res, nil
}

// stage runs fn under its own span and duration metric.
func (d *Driver) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := otel.Tracer("pipeline").Start(ctx, name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.StageFailuresTotal.WithLabelValues(name).Inc()
	}
	return err
}

func (d *Driver) fail(log *zap.Logger, out Outcome, stage string, err error) Outcome {
	out.Err = &StageError{Stage: stage, VideoID: out.Scene.ID, Err: err}
	log.Error("video failed", zap.String("stage", stage), zap.String("state", string(out.State)), zap.Error(err))
	return out
}

func (d *Driver) record(ctx context.Context, log *zap.Logger, out Outcome) {
	if d.caps.Recorder == nil {
		return
	}
	// Still record videos that failed because the run was cancelled
	if err := d.caps.Recorder.RecordOutcome(context.WithoutCancel(ctx), d.runID, out); err != nil {
		log.Warn("failed to record outcome", zap.Error(err))
	}
}
