package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lamim/modeleur/internal/api"
	"github.com/lamim/modeleur/internal/config"
	"github.com/lamim/modeleur/internal/generator"
	"github.com/lamim/modeleur/internal/keys"
	"github.com/lamim/modeleur/internal/metrics"
	"github.com/lamim/modeleur/internal/orchestrator"
	"github.com/lamim/modeleur/internal/prompt"
	"github.com/lamim/modeleur/internal/stage"
	"github.com/lamim/modeleur/internal/telemetry"
	"github.com/lamim/modeleur/internal/writer"
	"github.com/lamim/modeleur/pkg/models"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	envFile    string
	verbose    bool
	noInput    bool
	listenAddr string
)

const defaultConfigPath = "config.toml"

func main() {
	rootCmd := &cobra.Command{
		Use:   "modeleur",
		Short: "Modeleur - four-stage clay sculpture image generator",
		Long: `Modeleur turns a short description into four images of a clay sculpture
being made, from the first rough mass to the finished piece.

The finished sculpture is generated first; the three earlier stages are then
derived from it so that every image shows the same object.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file (.toml, .yaml or .yml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	runCmd := &cobra.Command{
		Use:   "run [description]",
		Short: "Generate the four stages for a description",
		Long: `Generate the four stages for a description:
1. Generate the finished sculpture (stage 4)
2. Generate stages 1-3 in parallel, each from the stage 4 image
3. Write stage_N.png and run.json into a new session directory

When no description is given, generation.description from the config is used.`,
		RunE: runGeneration,
	}
	runCmd.Flags().BoolVar(&noInput, "no-input", false, "Never prompt for an API key")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the generator over HTTP",
		Long:  "Start an HTTP server exposing the run trigger, stage snapshots, stage images, key selection and a server-sent event stream",
		RunE:  runServer,
	}
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address (overrides server.addr)")

	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "Show whether an API key is available",
		RunE:  showKeyStatus,
	}

	stagesCmd := &cobra.Command{
		Use:   "stages",
		Short: "List the four stages and what each one shows",
		Args:  cobra.NoArgs,
		RunE:  listStages,
	}

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect past sessions",
	}
	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List session directories in the output folder",
		Args:  cobra.NoArgs,
		RunE:  listSessions,
	})
	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "inspect <session-dir>",
		Short: "Show the run summary of a session",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectSession,
	})

	rootCmd.AddCommand(runCmd, serveCmd, keyCmd, stagesCmd, sessionsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfiguration reads the env file and the config. A missing default
// config file falls back to the built-in defaults.
func loadConfiguration(cmd *cobra.Command) (*config.Config, *config.Secrets, bool, error) {
	if envFile != "" {
		if err := config.LoadEnvFile(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
			}
		} else if verbose {
			fmt.Fprintf(os.Stderr, "Loaded env file: %s\n", envFile)
		}
	}

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg, secrets, err := config.Default()
		if err != nil {
			return nil, nil, false, fmt.Errorf("failed to load default configuration: %w", err)
		}
		return cfg, secrets, false, nil
	}

	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, secrets, true, nil
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// openSession creates the session directory and its logger.
// The returned close function flushes the session log.
func openSession(cfg *config.Config, fromFile bool) (*writer.SessionManager, *slog.Logger, func(), error) {
	sessionMgr, err := writer.NewSessionManager(cfg.Generation.OutputDir, writer.NewConsoleLogger(os.Stderr, logLevel()))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	logger, logFile, err := writer.SetupLogger(sessionMgr, os.Stdout, logLevel())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	sessionMgr.SetLogger(logger)

	closeFn := func() {
		_ = logFile.Sync()
		_ = logFile.Close()
	}

	if fromFile {
		if err := sessionMgr.BackupConfig(configPath); err != nil {
			closeFn()
			return nil, nil, nil, fmt.Errorf("failed to backup config: %w", err)
		}
	}

	return sessionMgr, logger, closeFn, nil
}

func startTelemetry(cfg *config.Config, logger *slog.Logger) (func(), error) {
	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(ctx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}, nil
}

func runGeneration(cmd *cobra.Command, args []string) error {
	cfg, secrets, fromFile, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}

	description := strings.TrimSpace(strings.Join(args, " "))
	if description == "" {
		description = cfg.Generation.Description
	}
	if err := config.ValidateDescription(description); err != nil {
		return fmt.Errorf("invalid description: %w", err)
	}

	prompts, err := prompt.New(cfg.PromptTemplates)
	if err != nil {
		return fmt.Errorf("invalid prompt templates: %w", err)
	}

	sessionMgr, logger, closeSession, err := openSession(cfg, fromFile)
	if err != nil {
		return err
	}
	defer closeSession()

	logger.Info("Modeleur starting",
		"version", Version,
		"model", cfg.Model.ModelName,
		"session_dir", sessionMgr.GetSessionDir())

	stopTelemetry, err := startTelemetry(cfg, logger)
	if err != nil {
		return err
	}
	defer stopTelemetry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Host mechanism first (the terminal prompt), environment credential otherwise
	var host keys.Provider
	if !noInput {
		host = keys.NewPromptProvider()
	}
	gate := keys.NewGate(host, keys.NewEnvProvider(secrets), logger)

	apiKey, err := gate.Ensure(ctx)
	if err != nil {
		return fmt.Errorf("cannot generate without an API key (set one of %s): %w",
			strings.Join(config.APIKeyEnvVars, ", "), err)
	}

	m := metrics.NewCollector(logger)
	client, err := api.NewClient(ctx, cfg.Model, apiKey, logger)
	if err != nil {
		return fmt.Errorf("failed to create API client: %w", err)
	}
	client.SetMetrics(m)

	store := stage.NewStore()
	orch := orchestrator.New(generator.New(client, prompts, logger), store, logger)
	orch.SetMetrics(m)

	bar := progressbar.Default(int64(len(models.AllStages)), "Sculpting")
	sub := store.Subscribe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := trackSettled(sub, func() error { return bar.Add(1) }); err != nil {
			logger.Debug("Progress bar update failed", "error", err)
		}
	}()

	result, runErr := orch.Run(ctx, models.GenerationRequest{Description: description})

	store.Unsubscribe(sub)
	wg.Wait()
	_ = bar.Finish()

	if result != nil {
		if err := writeSession(sessionMgr, store, result, cfg.Generation.SkipImages, logger); err != nil {
			logger.Error("Failed to write session output", "error", err)
		}
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Warn("Generation interrupted", "session_dir", sessionMgr.GetSessionDir())
			return fmt.Errorf("generation interrupted")
		}
		return fmt.Errorf("generation failed: %w", runErr)
	}

	logger.Info("Generation complete",
		"run_id", result.RunID,
		"successful", result.Stats.SuccessCount,
		"failed", result.Stats.FailureCount,
		"duration", result.Stats.TotalDuration,
		"session_dir", sessionMgr.GetSessionDir())

	for _, outcome := range result.Outcomes {
		if outcome.Status == models.StatusError {
			logger.Warn("Stage did not produce an image",
				"stage", int(outcome.Stage),
				"label", models.Info(outcome.Stage).Label,
				"error", outcome.Error)
		}
	}

	return nil
}

// writeSession stores every successful stage image and the run summary
func writeSession(sessionMgr *writer.SessionManager, store *stage.Store, result *orchestrator.RunResult, skipImages bool, logger *slog.Logger) error {
	if !skipImages {
		for _, st := range store.Snapshot() {
			if !st.HasImage() {
				continue
			}
			path, err := sessionMgr.WriteStageImage(st.ID, st.Image)
			if err != nil {
				return err
			}
			logger.Info("Saved stage image", "stage", int(st.ID), "label", st.Label, "path", path)
		}
	}
	return sessionMgr.WriteRunSummary(result)
}
