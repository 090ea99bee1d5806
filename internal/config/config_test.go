package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.SampleFrames != 32 {
		t.Errorf("SampleFrames = %d, want 32", cfg.SampleFrames)
	}
	if cfg.DetectionThreshold != 0.7 || cfg.MatchThreshold != 1.3 {
		t.Errorf("thresholds = %v/%v, want 0.7/1.3", cfg.DetectionThreshold, cfg.MatchThreshold)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty (persistence disabled)", cfg.DatabaseURL)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "focus.yaml")
	content := "data_dir: /videos\nsample_frames: 16\nengine_timeout: 90s\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FOCUS_SAMPLE_FRAMES", "8")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DataDir != "/videos" {
		t.Errorf("DataDir = %q, want /videos (from yaml)", cfg.DataDir)
	}
	if cfg.SampleFrames != 8 {
		t.Errorf("SampleFrames = %d, want 8 (env overrides yaml)", cfg.SampleFrames)
	}
	if cfg.EngineTimeout != 90*time.Second {
		t.Errorf("EngineTimeout = %s, want 90s", cfg.EngineTimeout)
	}
	if cfg.Python != DefaultPython {
		t.Errorf("Python = %q, want default %q", cfg.Python, DefaultPython)
	}
}

func TestLoad_PostgresFallback(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "focus")
	t.Setenv("POSTGRES_PORT", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	want := "postgres://u:p@db:5432/focus"
	if cfg.DatabaseURL != want {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero samples", func(c *Config) { c.SampleFrames = 0 }, true},
		{"negative start", func(c *Config) { c.StartFrame = -1 }, true},
		{"detection above 1", func(c *Config) { c.DetectionThreshold = 1.5 }, true},
		{"zero match threshold", func(c *Config) { c.MatchThreshold = 0 }, true},
		{"zero timeout", func(c *Config) { c.EngineTimeout = 0 }, true},
		{"sample rate above 1", func(c *Config) { c.TraceSampleRate = 2 }, true},
		{"tracing off", func(c *Config) { c.TraceSampleRate = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
