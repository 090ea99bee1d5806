package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/focusedad/internal/config"
	"github.com/andresmejia3/focusedad/internal/logging"
	"github.com/andresmejia3/focusedad/internal/store"
	"github.com/andresmejia3/focusedad/internal/telemetry"
	"github.com/andresmejia3/focusedad/internal/worker"
)

// needsDB marks commands that cannot run without a database.
const needsDB = "needs-db"

var (
	// DB is the global database connection shared by subcommands. It is nil
	// when no database is configured.
	DB *store.Store
	// Cfg is the resolved configuration, with explicitly set flags applied on top.
	Cfg *config.Config
	// Log is the shared structured logger.
	Log *zap.Logger

	tracing *telemetry.Provider

	dbURL      string
	configPath string
	logLevel   string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "focusedad",
	Short:   "Character-grounded video description",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("db") {
			Cfg.DatabaseURL = dbURL
		}
		if cmd.Flags().Changed("log-level") {
			Cfg.LogLevel = logLevel
		}
		Log = logging.New(Cfg.LogLevel)

		tracing, err = telemetry.Init(cmd.Context(), telemetry.Config{
			Endpoint:   Cfg.OTLPEndpoint,
			SampleRate: Cfg.TraceSampleRate,
		}, Log)
		if err != nil {
			return err
		}

		required := cmd.Annotations[needsDB] == "true"
		if Cfg.DatabaseURL == "" {
			if required {
				return fmt.Errorf("%s needs a database: set --db, FOCUS_DATABASE_URL or POSTGRES_HOST", cmd.Name())
			}
			Log.Debug("no database configured, results will not be persisted")
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), Cfg.DatabaseURL)
		if err != nil {
			if required {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			Log.Warn("database unavailable, continuing without persistence", zap.Error(err))
			DB = nil
		}
		return nil
	},
}

// cleanup releases what PersistentPreRunE opened. Cobra skips post-run hooks
// when a command fails, so Execute calls this directly.
func cleanup() {
	if DB != nil {
		// Use Background here because the main context might be cancelled already (due to Ctrl+C)
		// and we still need to send the "Close" command to the DB.
		DB.Close(context.Background())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.Shutdown(ctx); err != nil && Log != nil {
		Log.Warn("failed to flush traces", zap.Error(err))
	}
	if Log != nil {
		_ = Log.Sync()
	}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	err := rootCmd.ExecuteContext(ctx)
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newEngine builds the model host from the resolved configuration. The
// process starts on first use.
func newEngine() *worker.Engine {
	return worker.NewEngine(worker.Config{
		Python:  Cfg.Python,
		Script:  Cfg.EngineScript,
		Timeout: Cfg.EngineTimeout,
	}, logging.WithComponent(Log, "engine"))
}

// engineFlags registers the flags shared by every command that talks to the engine.
func engineFlags(cmd *cobra.Command) {
	cmd.Flags().String("python", config.DefaultPython, "Python interpreter for the inference engine")
	cmd.Flags().String("engine", config.DefaultEngineScript, "Path to the inference engine script")
	cmd.Flags().Duration("engine-timeout", config.DefaultEngineTimeout, "Maximum time for a single engine request")
}

// applyFlags copies explicitly set flags onto cfg. Unset flags leave the
// file/environment value alone.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err == nil && f.Lookup(name) != nil && f.Changed(name) {
			err = apply()
		}
	}

	set("data", func() (e error) { cfg.DataDir, e = f.GetString("data"); return })
	set("python", func() (e error) { cfg.Python, e = f.GetString("python"); return })
	set("engine", func() (e error) { cfg.EngineScript, e = f.GetString("engine"); return })
	set("engine-timeout", func() (e error) { cfg.EngineTimeout, e = f.GetDuration("engine-timeout"); return })
	set("samples", func() (e error) { cfg.SampleFrames, e = f.GetInt("samples"); return })
	set("start-frame", func() (e error) { cfg.StartFrame, e = f.GetInt("start-frame"); return })
	set("detection-threshold", func() (e error) { cfg.DetectionThreshold, e = f.GetFloat64("detection-threshold"); return })
	set("threshold", func() (e error) { cfg.MatchThreshold, e = f.GetFloat64("threshold"); return })
	set("metrics-addr", func() (e error) { cfg.MetricsAddr, e = f.GetString("metrics-addr"); return })
	if err != nil {
		return err
	}
	return cfg.Validate()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: FOCUS_DATABASE_URL or POSTGRES_* variables)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Optional YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
}
