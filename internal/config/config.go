// Package config loads pipeline settings from defaults, an optional YAML file,
// a .env file and FOCUS_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDataDir            = "demo_data"
	DefaultLogLevel           = "info"
	DefaultPython             = "python3"
	DefaultEngineScript       = "python/engine.py"
	DefaultEngineTimeout      = 10 * time.Minute
	DefaultSampleFrames       = 32
	DefaultStartFrame         = 0
	DefaultDetectionThreshold = 0.7
	DefaultMatchThreshold     = 1.3
	DefaultTraceSampleRate    = 1.0
)

// Config holds every tunable of a describe run.
// Environment variables take precedence over the YAML file.
type Config struct {
	DataDir            string        `yaml:"data_dir" env:"FOCUS_DATA_DIR"`
	LogLevel           string        `yaml:"log_level" env:"FOCUS_LOG_LEVEL"`
	DatabaseURL        string        `yaml:"database_url" env:"FOCUS_DATABASE_URL"`
	Python             string        `yaml:"python" env:"FOCUS_PYTHON"`
	EngineScript       string        `yaml:"engine_script" env:"FOCUS_ENGINE_SCRIPT"`
	EngineTimeout      time.Duration `yaml:"engine_timeout" env:"FOCUS_ENGINE_TIMEOUT"`
	SampleFrames       int           `yaml:"sample_frames" env:"FOCUS_SAMPLE_FRAMES"`
	StartFrame         int           `yaml:"start_frame" env:"FOCUS_START_FRAME"`
	DetectionThreshold float64       `yaml:"detection_threshold" env:"FOCUS_DETECTION_THRESHOLD"`
	MatchThreshold     float64       `yaml:"match_threshold" env:"FOCUS_MATCH_THRESHOLD"`
	MetricsAddr        string        `yaml:"metrics_addr" env:"FOCUS_METRICS_ADDR"`
	OTLPEndpoint       string        `yaml:"otlp_endpoint" env:"FOCUS_OTLP_ENDPOINT"`
	TraceSampleRate    float64       `yaml:"trace_sample_rate" env:"FOCUS_TRACE_SAMPLE_RATE"`
}

// Default returns the settings the original demo used.
func Default() *Config {
	return &Config{
		DataDir:            DefaultDataDir,
		LogLevel:           DefaultLogLevel,
		Python:             DefaultPython,
		EngineScript:       DefaultEngineScript,
		EngineTimeout:      DefaultEngineTimeout,
		SampleFrames:       DefaultSampleFrames,
		StartFrame:         DefaultStartFrame,
		DetectionThreshold: DefaultDetectionThreshold,
		MatchThreshold:     DefaultMatchThreshold,
		TraceSampleRate:    DefaultTraceSampleRate,
	}
}

// Load resolves the configuration. path may be empty; a missing .env is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Local development convenience; ignored when absent
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = postgresURLFromEnv()
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings no run could succeed with.
func (c *Config) Validate() error {
	if c.SampleFrames < 1 {
		return fmt.Errorf("sample_frames must be >= 1, got %d", c.SampleFrames)
	}
	if c.StartFrame < 0 {
		return fmt.Errorf("start_frame must be >= 0, got %d", c.StartFrame)
	}
	if c.DetectionThreshold < 0 || c.DetectionThreshold > 1 {
		return fmt.Errorf("detection_threshold must be between 0.0 and 1.0, got %f", c.DetectionThreshold)
	}
	if c.MatchThreshold <= 0 {
		return fmt.Errorf("match_threshold must be > 0, got %f", c.MatchThreshold)
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("trace_sample_rate must be between 0.0 and 1.0, got %f", c.TraceSampleRate)
	}
	if c.EngineTimeout <= 0 {
		return fmt.Errorf("engine_timeout must be positive, got %s", c.EngineTimeout)
	}
	return nil
}

// postgresURLFromEnv builds a connection string from the POSTGRES_* variables used by
// the docker-compose setup. It returns "" when POSTGRES_HOST is unset, which disables persistence.
func postgresURLFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		host, port,
		os.Getenv("POSTGRES_DB"))
}
