package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "mqdiag/cmd/mqdiag/docs"
	"mqdiag/internal/config"
	"mqdiag/internal/logger"
	"mqdiag/pkg/cel"
	"mqdiag/pkg/logging"
)

var (
	configFile string
	logLevel   string
	dryRun     bool
)

// @title           mqdiag API
// @version         1.0
// @description     Publish events to an AMQP broker and diagnose destination access and delivery
// @BasePath        /api/v1
// @schemes         http
func main() {
	rootCmd := &cobra.Command{
		Use:           "mqdiag",
		Short:         "Broker publishing and diagnostics tool",
		Long:          "mqdiag publishes normalized events to a message broker, probes destinations and verifies delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (optional, CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Use the in-process broker instead of a real one")

	rootCmd.AddCommand(
		publishCmd(),
		probeCmd(),
		verifyCmd(),
		debugCmd(),
		serveCmd(),
		migrateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		logging.NewEarlyLog().Error("%v", err)
		os.Exit(1)
	}
}

// setup loads config and logger and returns a context cancelled on SIGINT/SIGTERM.
func setup() (context.Context, context.CancelFunc, *config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLog()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, nil, nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if dryRun {
		cfg.Broker.Type = "memory"
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return nil, nil, nil, nil, err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx, cancel, cfg, log, nil
}

// withApp runs fn against a connected App and always shuts it down.
func withApp(fn func(ctx context.Context, app *App) error) error {
	ctx, cancel, cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer log.Sync()

	app := NewApp(cfg, log)
	if err := app.Initialize(ctx); err != nil {
		log.ErrorwCtx(ctx, "Failed to initialize", "error", err)
		_ = app.Shutdown(context.Background())
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := app.Shutdown(shutdownCtx); err != nil {
			log.ErrorwCtx(shutdownCtx, "Shutdown failed", "error", err)
		}
	}()

	return fn(ctx, app)
}

func publishCmd() *cobra.Command {
	var (
		data    string
		file    string
		raw     bool
		verify  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "publish [destination]",
		Short: "Publish an event (from --data, --file or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd.InOrStdin(), data, file)
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, app *App) error {
				destination := app.destination(args)
				return app.RunPublish(ctx, cmd.OutOrStdout(), destination, payload, raw, verify, timeout)
			})
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "Event text")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the event from a file")
	cmd.Flags().BoolVar(&raw, "raw", false, "Send the text as is (no normalization, filtering or serialization)")
	cmd.Flags().BoolVar(&verify, "verify", false, "Consume the message back after publishing")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Verification timeout (default diagnostics.verify_timeout)")
	return cmd
}

func readPayload(stdin io.Reader, data, file string) (string, error) {
	switch {
	case data != "" && file != "":
		return "", fmt.Errorf("--data and --file are mutually exclusive")
	case data != "":
		return data, nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", file, err)
		}
		return string(b), nil
	default:
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(b), nil
	}
}

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe [candidate...]",
		Short: "List destinations a receiver can attach to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *App) error {
				return app.RunProbe(ctx, cmd.OutOrStdout(), args)
			})
		},
	}
}

func verifyCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "verify [destination]",
		Short: "Wait for one message on a destination",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *App) error {
				return app.RunVerify(ctx, cmd.OutOrStdout(), app.destination(args), timeout)
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "How long to wait (default diagnostics.verify_timeout)")
	return cmd
}

func debugCmd() *cobra.Command {
	var examples bool

	cmd := &cobra.Command{
		Use:   "debug [destination]",
		Short: "Probe, publish a diagnostic message and verify it arrives",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if examples {
				return writeJSON(cmd.OutOrStdout(), cel.ConditionExamples)
			}
			return withApp(func(ctx context.Context, app *App) error {
				return app.RunDebug(ctx, cmd.OutOrStdout(), app.destination(args))
			})
		},
	}
	cmd.Flags().BoolVar(&examples, "examples", false, "Print sample filter rule conditions and exit")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the publish and diagnostics HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *App) error {
				app.Logger.InfowCtx(ctx, "Starting mqdiag server")
				if err := app.Serve(ctx); err != nil && err != context.Canceled {
					app.Logger.ErrorwCtx(ctx, "Server stopped with error", "error", err)
					return err
				}
				app.Logger.InfowCtx(ctx, "Server shutdown complete")
				return nil
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Prepare the filter rule stores (Postgres schema, MongoDB indexes)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer cancel()
			defer log.Sync()

			return RunMigrate(ctx, cfg, log, seed)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "Upsert the rules from filtering.rules into the configured stores")
	return cmd
}
