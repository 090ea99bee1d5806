package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/focusedad/internal/config"
	"github.com/andresmejia3/focusedad/internal/pipeline"
	"github.com/andresmejia3/focusedad/internal/types"
)

func newFlagCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	f := cmd.Flags()
	f.String("data", config.DefaultDataDir, "")
	f.Int("samples", config.DefaultSampleFrames, "")
	f.Int("start-frame", config.DefaultStartFrame, "")
	f.Float64("detection-threshold", config.DefaultDetectionThreshold, "")
	f.Float64("threshold", config.DefaultMatchThreshold, "")
	engineFlags(cmd)
	return cmd
}

func TestApplyFlags(t *testing.T) {
	t.Run("Unset flags keep configured values", func(t *testing.T) {
		cfg := config.Default()
		cfg.SampleFrames = 8
		cfg.DataDir = "/from/env"

		if err := applyFlags(newFlagCmd(), cfg); err != nil {
			t.Fatalf("applyFlags: %v", err)
		}
		if cfg.SampleFrames != 8 || cfg.DataDir != "/from/env" {
			t.Errorf("config overwritten by defaults: %+v", cfg)
		}
	})

	t.Run("Changed flags win", func(t *testing.T) {
		cmd := newFlagCmd()
		for name, val := range map[string]string{
			"data":           "/tmp/data",
			"samples":        "4",
			"threshold":      "0.9",
			"engine-timeout": "30s",
		} {
			if err := cmd.Flags().Set(name, val); err != nil {
				t.Fatal(err)
			}
		}
		cfg := config.Default()
		if err := applyFlags(cmd, cfg); err != nil {
			t.Fatalf("applyFlags: %v", err)
		}
		if cfg.DataDir != "/tmp/data" || cfg.SampleFrames != 4 || cfg.MatchThreshold != 0.9 || cfg.EngineTimeout != 30*time.Second {
			t.Errorf("flags not applied: %+v", cfg)
		}
	})

	t.Run("Invalid result is rejected", func(t *testing.T) {
		cmd := newFlagCmd()
		if err := cmd.Flags().Set("samples", "0"); err != nil {
			t.Fatal(err)
		}
		if err := applyFlags(cmd, config.Default()); err == nil {
			t.Error("expected error for samples=0")
		}
	})

	t.Run("Flags a command does not define are ignored", func(t *testing.T) {
		cmd := &cobra.Command{Use: "bare"}
		if err := applyFlags(cmd, config.Default()); err != nil {
			t.Errorf("applyFlags: %v", err)
		}
	})
}

func TestParseBoxFlags(t *testing.T) {
	regions, err := parseBoxFlags([]string{"10,20,200,300", " 1.5, 2, 3 ,4"})
	if err != nil {
		t.Fatalf("parseBoxFlags: %v", err)
	}
	if len(regions) != 2 {
		t.Fatalf("got %d regions, want 2", len(regions))
	}
	want := types.Box{X1: 1.5, Y1: 2, X2: 3, Y2: 4}
	if regions[1].Box != want {
		t.Errorf("region 1 = %v, want %v", regions[1].Box, want)
	}

	tests := []struct {
		name  string
		boxes []string
		index int
	}{
		{"Not a number", []string{"1,2,3,4", "1,two,3,4"}, 1},
		{"Too few values", []string{"1,2,3"}, 0},
		{"Inverted box", []string{"1,2,3,4", "1,2,3,4", "5,5,3,3"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseBoxFlags(tt.boxes)
			var ve *types.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Index != tt.index {
				t.Errorf("index = %d, want %d", ve.Index, tt.index)
			}
			if !errors.Is(err, types.ErrInputValidation) {
				t.Error("expected ErrInputValidation")
			}
		})
	}
}

func TestResolveScenes(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir

	video := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(video, []byte("mp4"), 0644); err != nil {
		t.Fatal(err)
	}

	scenes, err := resolveScenes(cfg, video, filepath.Join(dir, "chars"))
	if err != nil {
		t.Fatalf("resolveScenes: %v", err)
	}
	if len(scenes) != 1 || scenes[0].VideoPath != video {
		t.Errorf("unexpected scenes: %+v", scenes)
	}

	if _, err := resolveScenes(cfg, video, ""); !errors.Is(err, types.ErrInputValidation) {
		t.Errorf("missing --characters: got %v", err)
	}
	if _, err := resolveScenes(cfg, "", "chars"); !errors.Is(err, types.ErrInputValidation) {
		t.Errorf("--characters without --video: got %v", err)
	}
	if _, err := resolveScenes(cfg, dir, "chars"); !errors.Is(err, types.ErrInputValidation) {
		t.Errorf("directory as video: got %v", err)
	}

	// Empty data directory
	if err := os.MkdirAll(filepath.Join(dir, "video"), 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := resolveScenes(cfg, "", ""); err == nil {
		t.Error("expected error when no videos are present")
	}
}

func TestNewDescribeResult(t *testing.T) {
	failed := newDescribeResult(pipeline.Outcome{
		Scene: pipeline.Scene{ID: "s1"},
		Err:   &pipeline.StageError{Stage: pipeline.StagePropagate, VideoID: "s1", Err: types.ErrInference},
	})
	if failed.Status != "failed" || failed.Stage != pipeline.StagePropagate {
		t.Errorf("unexpected failed result: %+v", failed)
	}
	if failed.Matches == nil {
		t.Error("matches should encode as [] rather than null")
	}

	ok := newDescribeResult(pipeline.Outcome{
		Scene:       pipeline.Scene{ID: "s2"},
		MatchReason: types.ErrNoDetection,
		Description: "A man walks.",
	})
	if ok.Status != "described" || ok.Stage != "" || ok.MatchNote != types.ErrNoDetection.Error() {
		t.Errorf("unexpected described result: %+v", ok)
	}
}

func TestMatchRejectsUnreadableImageBeforeEngineStart(t *testing.T) {
	Cfg = config.Default()
	Log = zap.NewNop()
	// A missing interpreter would fail differently if the engine were started
	Cfg.Python = filepath.Join(t.TempDir(), "no-python")

	garbage := filepath.Join(t.TempDir(), "frame.png")
	if err := os.WriteFile(garbage, []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}

	err := matchCmd.RunE(matchCmd, []string{garbage})
	if !errors.Is(err, types.ErrResourceUnavailable) {
		t.Errorf("expected ErrResourceUnavailable, got %v", err)
	}
}
