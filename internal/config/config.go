package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/lamim/modeleur/internal/util"
)

// Config represents the complete application configuration
type Config struct {
	Model           ModelConfig      `toml:"model" yaml:"model"`
	Generation      GenerationConfig `toml:"generation" yaml:"generation"`
	PromptTemplates PromptTemplates  `toml:"prompt_templates" yaml:"prompt_templates"`
	Server          ServerConfig     `toml:"server" yaml:"server"`
	Telemetry       TelemetryConfig  `toml:"telemetry" yaml:"telemetry"`
}

// ModelConfig describes the image generation endpoint
type ModelConfig struct {
	BaseURL            string `toml:"base_url" yaml:"base_url"`
	ModelName          string `toml:"model_name" yaml:"model_name"`
	AspectRatio        string `toml:"aspect_ratio" yaml:"aspect_ratio"`
	RateLimitPerMinute int    `toml:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds" yaml:"http_timeout_seconds"` // 0 = default (120)
	ReferenceMIMEType  string `toml:"reference_mime_type" yaml:"reference_mime_type"`   // used when the reference cannot be sniffed
}

// GenerationConfig holds run settings
type GenerationConfig struct {
	Description string `toml:"description" yaml:"description"` // Default description when none is given on the command line
	OutputDir   string `toml:"output_dir" yaml:"output_dir"`
	SkipImages  bool   `toml:"skip_images" yaml:"skip_images"` // Do not write stage PNGs into the session directory
}

// PromptTemplates holds the per-stage prompt templates.
// Every template is rendered with {{.Description}}.
type PromptTemplates struct {
	Stage1   string `toml:"stage1" yaml:"stage1"`
	Stage2   string `toml:"stage2" yaml:"stage2"`
	Stage3   string `toml:"stage3" yaml:"stage3"`
	Stage4   string `toml:"stage4" yaml:"stage4"`
	Fallback string `toml:"fallback" yaml:"fallback"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr        string `toml:"addr" yaml:"addr"`
	MetricsPath string `toml:"metrics_path" yaml:"metrics_path"`
}

// TelemetryConfig holds OpenTelemetry tracing settings
type TelemetryConfig struct {
	Enabled      bool    `toml:"enabled" yaml:"enabled"`
	OTLPEndpoint string  `toml:"otlp_endpoint" yaml:"otlp_endpoint"`
	ServiceName  string  `toml:"service_name" yaml:"service_name"`
	SampleRate   float64 `toml:"sample_rate" yaml:"sample_rate"`
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	APIKey string
	Source string // name of the environment variable the key came from
}

// APIKeyEnvVars are checked in order; the first non-empty one wins
var APIKeyEnvVars = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY", "API_KEY"}

var validAspectRatios = []string{"1:1", "2:3", "3:2", "3:4", "4:3", "4:5", "5:4", "9:16", "16:9", "21:9"}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validateModelConfig(c.Model); err != nil {
		return err
	}

	if c.Generation.OutputDir == "" {
		return fmt.Errorf("generation.output_dir is required")
	}

	if err := c.validateTemplates(); err != nil {
		return err
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if !strings.HasPrefix(c.Server.MetricsPath, "/") {
		return fmt.Errorf("server.metrics_path must start with '/' (got %q)", c.Server.MetricsPath)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry.sample_rate must be between 0 and 1 (got %.2f)", c.Telemetry.SampleRate)
		}
	}

	return nil
}

func validateModelConfig(mc ModelConfig) error {
	if mc.BaseURL == "" {
		return fmt.Errorf("model.base_url is required")
	}
	if mc.ModelName == "" {
		return fmt.Errorf("model.model_name is required")
	}
	if !isValidAspectRatio(mc.AspectRatio) {
		return fmt.Errorf("model.aspect_ratio must be one of %s (got %q)", strings.Join(validAspectRatios, ", "), mc.AspectRatio)
	}
	if mc.RateLimitPerMinute < 1 {
		return fmt.Errorf("model.rate_limit_per_minute must be at least 1")
	}
	if mc.HTTPTimeoutSeconds < 0 {
		return fmt.Errorf("model.http_timeout_seconds must not be negative")
	}
	if !strings.HasPrefix(mc.ReferenceMIMEType, "image/") {
		return fmt.Errorf("model.reference_mime_type must be an image type (got %q)", mc.ReferenceMIMEType)
	}
	return nil
}

func (c *Config) validateTemplates() error {
	for _, tmpl := range c.PromptTemplates.named() {
		if strings.TrimSpace(tmpl.value) == "" {
			return fmt.Errorf("prompt_templates.%s is required", tmpl.name)
		}
		if _, err := util.ParseTemplate(tmpl.value); err != nil {
			return fmt.Errorf("prompt_templates.%s: %w", tmpl.name, err)
		}
	}
	return nil
}

type namedTemplate struct {
	name  string
	value string
}

func (p PromptTemplates) named() []namedTemplate {
	return []namedTemplate{
		{"stage1", p.Stage1},
		{"stage2", p.Stage2},
		{"stage3", p.Stage3},
		{"stage4", p.Stage4},
		{"fallback", p.Fallback},
	}
}

func isValidAspectRatio(ratio string) bool {
	for _, r := range validAspectRatios {
		if r == ratio {
			return true
		}
	}
	return false
}

// LoadSecrets loads the generation API key from the environment
func LoadSecrets() (*Secrets, error) {
	secrets := &Secrets{}
	for _, name := range APIKeyEnvVars {
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			secrets.APIKey = key
			secrets.Source = name
			break
		}
	}
	return secrets, nil
}

// HasAPIKey reports whether an environment credential is configured
func (s *Secrets) HasAPIKey() bool {
	return s != nil && s.APIKey != ""
}
