package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/focusedad/internal/config"
	"github.com/andresmejia3/focusedad/internal/identity"
	"github.com/andresmejia3/focusedad/internal/logging"
	"github.com/andresmejia3/focusedad/internal/metrics"
	"github.com/andresmejia3/focusedad/internal/pipeline"
	"github.com/andresmejia3/focusedad/internal/segment"
	"github.com/andresmejia3/focusedad/internal/store"
	"github.com/andresmejia3/focusedad/internal/types"
	"github.com/andresmejia3/focusedad/internal/utils"
)

// describeOpts holds the single-video inputs. Everything else lives in Cfg.
var describeOpts struct {
	VideoPath    string
	CharacterDir string
}

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Describe every video in the data directory, grounded on its characters",
	Long: `Runs the full pipeline on each video: identify characters in frame 0,
build a grounding prompt, propagate their regions into masks, sample frames
and generate a description. Prints one JSON object per video to stdout.

By default every <data>/video/*.mp4 is processed using <data>/character/<id>/
as its gallery. Use --video and --characters to describe a single file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := applyFlags(cmd, Cfg); err != nil {
			return err
		}
		scenes, err := resolveScenes(Cfg, describeOpts.VideoPath, describeOpts.CharacterDir)
		if err != nil {
			utils.ShowError("Could not find any videos", err, nil)
			return err
		}
		return runDescribe(cmd.Context(), Cfg, scenes, os.Stdout)
	},
}

func init() {
	f := describeCmd.Flags()
	f.String("data", config.DefaultDataDir, "Data directory with video/, character/ and text_prior/")
	f.StringVarP(&describeOpts.VideoPath, "video", "i", "", "Describe a single video instead of the data directory")
	f.StringVarP(&describeOpts.CharacterDir, "characters", "c", "", "Character gallery for --video")
	f.IntP("samples", "n", config.DefaultSampleFrames, "Number of frames handed to the description model")
	f.Int("start-frame", config.DefaultStartFrame, "Frame the character regions are anchored on")
	f.Float64P("detection-threshold", "D", config.DefaultDetectionThreshold, "Minimum face detection confidence")
	f.Float64P("threshold", "t", config.DefaultMatchThreshold, "Maximum embedding distance for a character match (lower is stricter)")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	engineFlags(describeCmd)

	rootCmd.AddCommand(describeCmd)
}

// resolveScenes picks the single --video scene or discovers the data directory.
func resolveScenes(cfg *config.Config, videoPath, characterDir string) ([]pipeline.Scene, error) {
	if videoPath == "" {
		if characterDir != "" {
			return nil, fmt.Errorf("%w: --characters requires --video", types.ErrInputValidation)
		}
		scenes, err := pipeline.DiscoverScenes(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		if len(scenes) == 0 {
			return nil, fmt.Errorf("no .mp4 files in %s", filepath.Join(cfg.DataDir, "video"))
		}
		return scenes, nil
	}

	info, err := os.Stat(videoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInputValidation, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory, expected a video file", types.ErrInputValidation, videoPath)
	}
	if characterDir == "" {
		return nil, fmt.Errorf("%w: --video requires --characters", types.ErrInputValidation)
	}
	return []pipeline.Scene{pipeline.NewScene(videoPath, characterDir, filepath.Join(cfg.DataDir, "temp"))}, nil
}

// describeResult is the JSON line printed per video.
type describeResult struct {
	RunID        string                `json:"run_id"`
	SceneID      string                `json:"scene_id"`
	VideoPath    string                `json:"video_path"`
	Status       string                `json:"status"`
	Stage        string                `json:"stage,omitempty"`
	Error        string                `json:"error,omitempty"`
	Resolution   *types.Resolution     `json:"resolution,omitempty"`
	Matches      []types.IdentityMatch `json:"matches"`
	MatchNote    string                `json:"match_note,omitempty"`
	Prompt       string                `json:"prompt,omitempty"`
	Regions      types.Regions         `json:"regions,omitempty"`
	FrameIndices []int                 `json:"frame_indices,omitempty"`
	Description  string                `json:"description,omitempty"`
	DurationMS   int64                 `json:"duration_ms"`
}

func newDescribeResult(o pipeline.Outcome) describeResult {
	r := describeResult{
		RunID:        o.RunID,
		SceneID:      o.Scene.ID,
		VideoPath:    o.Scene.VideoPath,
		Status:       "described",
		Resolution:   o.Resolution,
		Matches:      o.Matches,
		Prompt:       o.Prompt.Text,
		Regions:      o.Prompt.Regions,
		FrameIndices: o.FrameIndices,
		Description:  o.Description,
		DurationMS:   o.Duration.Milliseconds(),
	}
	if r.Matches == nil {
		r.Matches = []types.IdentityMatch{}
	}
	if o.MatchReason != nil {
		r.MatchNote = o.MatchReason.Error()
	}
	if o.Err != nil {
		r.Status = "failed"
		r.Error = o.Err.Error()
		var se *pipeline.StageError
		if errors.As(o.Err, &se) {
			r.Stage = se.Stage
		}
	}
	return r
}

func runDescribe(ctx context.Context, cfg *config.Config, scenes []pipeline.Scene, out io.Writer) error {
	log := logging.WithComponent(Log, "describe")

	if cfg.MetricsAddr != "" {
		metrics.Serve(ctx, cfg.MetricsAddr, log)
	}

	engine := newEngine()
	defer engine.Close()

	matcher := identity.NewMatcher(engine, logging.WithComponent(Log, "identity"))
	matcher.DetectionThreshold = cfg.DetectionThreshold
	matcher.MatchThreshold = cfg.MatchThreshold

	caps := pipeline.Capabilities{
		Matcher:    matcher,
		Propagator: segment.NewPropagator(engine, logging.WithComponent(Log, "segment")),
		Generator:  engine,
	}
	if DB != nil {
		matcher.Cache = DB
		caps.Recorder = DB
	}

	driver := pipeline.NewDriver(caps, pipeline.Options{
		SampleFrames: cfg.SampleFrames,
		StartFrame:   cfg.StartFrame,
	}, logging.WithComponent(Log, "pipeline"))

	if DB != nil {
		err := DB.CreateRun(ctx, driver.RunID(), store.RunConfig{
			SampleFrames:       cfg.SampleFrames,
			StartFrame:         cfg.StartFrame,
			DetectionThreshold: cfg.DetectionThreshold,
			MatchThreshold:     cfg.MatchThreshold,
		})
		if err != nil {
			return fmt.Errorf("failed to register run: %w", err)
		}
	}

	log.Info("starting run", zap.String("run_id", driver.RunID()), zap.Int("videos", len(scenes)))

	bar := progressbar.NewOptions(len(scenes),
		progressbar.OptionSetDescription("🎬 Describing"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	enc := json.NewEncoder(out)
	var failed []pipeline.Outcome
	var engineErr error
	driver.RunAll(ctx, scenes, func(o pipeline.Outcome) {
		bar.Add(1)
		if err := enc.Encode(newDescribeResult(o)); err != nil {
			log.Error("failed to write result", zap.String("video_id", o.Scene.ID), zap.Error(err))
		}
		if o.Err != nil {
			failed = append(failed, o)
			if errors.Is(o.Err, types.ErrInference) && engineErr == nil {
				engineErr = o.Err
			}
		}
	})
	bar.Finish()
	fmt.Fprintln(os.Stderr)

	if engineErr != nil {
		utils.ShowError("Inference engine reported a failure", engineErr, engine.Command())
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d videos failed", len(failed), len(scenes))
	}
	fmt.Fprintf(os.Stderr, "✅ Described %d videos (run %s)\n", len(scenes), driver.RunID())
	return nil
}
