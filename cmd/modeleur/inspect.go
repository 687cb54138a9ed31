package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lamim/modeleur/internal/config"
	"github.com/lamim/modeleur/internal/keys"
	"github.com/lamim/modeleur/internal/orchestrator"
	"github.com/lamim/modeleur/internal/writer"
	"github.com/lamim/modeleur/pkg/models"
)

// showKeyStatus reports whether an environment credential is configured
func showKeyStatus(cmd *cobra.Command, args []string) error {
	_, secrets, _, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}

	env := keys.NewEnvProvider(secrets)
	ok, err := env.HasSelectedAPIKey(context.Background())
	if err != nil || !ok {
		fmt.Println("No API key found.")
		fmt.Printf("Set one of %s, or run interactively to be prompted.\n", strings.Join(config.APIKeyEnvVars, ", "))
		return nil
	}

	fmt.Printf("API key found in %s (length: %d)\n", env.Source(), len(env.APIKey()))
	return nil
}

func listStages(cmd *cobra.Command, args []string) error {
	fmt.Printf("%-8s %-14s %s\n", "STAGE", "LABEL", "DESCRIPTION")
	fmt.Println(strings.Repeat("-", 80))
	for _, id := range models.AllStages {
		info := models.Info(id)
		fmt.Printf("%-8d %-14s %s\n", int(id), info.Label, info.Description)
	}
	fmt.Println()
	fmt.Println("Stage 4 is generated first; stages 1-3 are derived from its image.")
	return nil
}

func listSessions(cmd *cobra.Command, args []string) error {
	cfg, _, _, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}

	sessions, err := writer.ListSessions(cfg.Generation.OutputDir)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No session directories found. Run a generation first.")
		return nil
	}

	fmt.Println("Available sessions:")
	fmt.Println()
	fmt.Printf("%-35s %-10s %s\n", "SESSION", "SUMMARY", "IMAGES")
	fmt.Println(strings.Repeat("-", 80))

	for _, s := range sessions {
		summary := "No"
		if s.HasSummary {
			summary = "Yes"
		}
		images := make([]string, 0, len(s.Images))
		for _, id := range s.Images {
			images = append(images, fmt.Sprintf("%d", int(id)))
		}
		fmt.Printf("%-35s %-10s %s\n", s.Name, summary, strings.Join(images, ","))
	}
	return nil
}

func inspectSession(cmd *cobra.Command, args []string) error {
	sessionDir := args[0]

	cfg, _, _, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}

	fullPath := filepath.Join(cfg.Generation.OutputDir, sessionDir)
	if err := writer.ValidateSessionPath(cfg.Generation.OutputDir, sessionDir); err != nil {
		return fmt.Errorf("invalid session directory: %w", err)
	}
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return fmt.Errorf("session directory not found: %s", sessionDir)
	}

	var result orchestrator.RunResult
	if err := writer.ReadRunSummary(cfg.Generation.OutputDir, sessionDir, &result); err != nil {
		return err
	}

	fmt.Printf("Run Information for: %s\n", sessionDir)
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Run ID:              %s\n", result.RunID)
	fmt.Printf("Description:         %s\n", result.Description)
	fmt.Printf("Started At:          %s\n", result.Stats.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Printf("Total Duration:      %s\n", result.Stats.TotalDuration)
	fmt.Printf("Outcome:             %s\n", result.OutcomeLabel())
	fmt.Println()

	fmt.Println("Stages:")
	for _, outcome := range result.Outcomes {
		line := fmt.Sprintf("  %d %-14s %-8s %s", int(outcome.Stage), models.Info(outcome.Stage).Label, outcome.Status, outcome.Duration)
		if outcome.Error != "" {
			line += "  " + outcome.Error
		}
		fmt.Println(line)
	}

	return nil
}
