package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/lamim/modeleur/internal/api"
	"github.com/lamim/modeleur/internal/generator"
	"github.com/lamim/modeleur/internal/keys"
	"github.com/lamim/modeleur/internal/metrics"
	"github.com/lamim/modeleur/internal/orchestrator"
	"github.com/lamim/modeleur/internal/prompt"
	"github.com/lamim/modeleur/internal/server"
	"github.com/lamim/modeleur/internal/stage"
)

func runServer(cmd *cobra.Command, args []string) error {
	cfg, secrets, fromFile, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Addr = listenAddr
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

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("Modeleur server starting",
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

	// Keys posted to /api/key take precedence over the environment credential
	selected := keys.NewEnvProvider(nil)
	gate := keys.NewGate(selected, keys.NewEnvProvider(secrets), logger)
	if !gate.Check(ctx) {
		logger.Warn("No API key available; POST one to /api/key before starting a run")
	}

	m := metrics.NewCollector(logger)
	client := api.NewKeyedClient(cfg.Model, gate.Key, logger)
	client.SetMetrics(m)

	orch := orchestrator.New(generator.New(client, prompts, logger), stage.NewStore(), logger)
	orch.SetMetrics(m)

	srv := server.New(ctx, cfg.Server, orch, gate, selected, m, logger)
	return srv.ListenAndServe(ctx)
}
