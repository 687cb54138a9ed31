package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration file and environment variables.
// Files ending in .yaml or .yml are parsed as YAML, everything else as TOML.
func Load(configPath string) (*Config, *Secrets, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return finish(&cfg)
}

// Default returns the built-in configuration plus secrets from the environment
func Default() (*Config, *Secrets, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, *Secrets, error) {
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.ValidateInputs(); err != nil {
		return nil, nil, fmt.Errorf("input validation failed: %w", err)
	}

	secrets, err := LoadSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return cfg, secrets, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Model.BaseURL == "" {
		cfg.Model.BaseURL = DefaultBaseURL
	}
	if cfg.Model.ModelName == "" {
		cfg.Model.ModelName = DefaultModelName
	}
	if cfg.Model.AspectRatio == "" {
		cfg.Model.AspectRatio = DefaultAspectRatio
	}
	if cfg.Model.RateLimitPerMinute == 0 {
		cfg.Model.RateLimitPerMinute = 20
	}
	if cfg.Model.HTTPTimeoutSeconds == 0 {
		cfg.Model.HTTPTimeoutSeconds = 120
	}
	if cfg.Model.ReferenceMIMEType == "" {
		cfg.Model.ReferenceMIMEType = DefaultReferenceMIMEType
	}

	if cfg.Generation.OutputDir == "" {
		cfg.Generation.OutputDir = "output"
	}

	if cfg.PromptTemplates.Stage1 == "" {
		cfg.PromptTemplates.Stage1 = GetDefaultStage1Template()
	}
	if cfg.PromptTemplates.Stage2 == "" {
		cfg.PromptTemplates.Stage2 = GetDefaultStage2Template()
	}
	if cfg.PromptTemplates.Stage3 == "" {
		cfg.PromptTemplates.Stage3 = GetDefaultStage3Template()
	}
	if cfg.PromptTemplates.Stage4 == "" {
		cfg.PromptTemplates.Stage4 = GetDefaultStage4Template()
	}
	if cfg.PromptTemplates.Fallback == "" {
		cfg.PromptTemplates.Fallback = GetDefaultFallbackTemplate()
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "modeleur"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

// LoadEnvFile loads KEY=VALUE lines from a file into the process environment.
// Blank lines and lines starting with '#' are skipped; surrounding quotes are removed.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = trimQuotes(strings.TrimSpace(value))
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}

	return scanner.Err()
}

func trimQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
