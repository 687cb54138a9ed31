package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

const (
	// MaxDescriptionLength is the maximum allowed length for an object description
	MaxDescriptionLength = 500

	// MaxModelNameLength is the maximum allowed length for model names
	MaxModelNameLength = 100

	// MaxTemplateSize is the maximum allowed size for template content
	MaxTemplateSize = 50 * 1024 // 50KB
)

// ErrEmptyDescription is returned when a run is requested without a description
var ErrEmptyDescription = errors.New("description is empty")

// ValidateInputs performs additional validation on user-controllable fields
func (c *Config) ValidateInputs() error {
	if c.Generation.Description != "" {
		if err := ValidateDescription(c.Generation.Description); err != nil {
			return fmt.Errorf("invalid generation.description: %w", err)
		}
	}

	if err := validateModelName(c.Model.ModelName); err != nil {
		return err
	}

	if err := validateBaseURL(c.Model.BaseURL); err != nil {
		return err
	}

	for _, tmpl := range c.PromptTemplates.named() {
		if len(tmpl.value) > MaxTemplateSize {
			return fmt.Errorf("template '%s' exceeds maximum size of %d bytes (got %d)",
				tmpl.name, MaxTemplateSize, len(tmpl.value))
		}
	}

	return nil
}

// ValidateDescription checks a user description before it reaches a prompt
func ValidateDescription(description string) error {
	if strings.TrimSpace(description) == "" {
		return ErrEmptyDescription
	}

	if len(description) > MaxDescriptionLength {
		return fmt.Errorf("exceeds maximum length of %d characters (got %d)",
			MaxDescriptionLength, len(description))
	}

	if containsControlChars(description) {
		return fmt.Errorf("contains invalid control characters")
	}

	return nil
}

func validateModelName(modelName string) error {
	if len(modelName) > MaxModelNameLength {
		return fmt.Errorf("model name exceeds maximum length of %d (got %d)",
			MaxModelNameLength, len(modelName))
	}

	if containsControlChars(modelName) {
		return fmt.Errorf("model name contains invalid control characters")
	}

	return nil
}

// validateBaseURL checks that the base URL is properly formatted and safe
func validateBaseURL(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid model.base_url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("model.base_url must use http or https scheme (got %s)", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("model.base_url must have a host")
	}

	return nil
}

// containsControlChars checks if a string contains control characters
// (excluding newlines, tabs, and carriage returns which are acceptable)
func containsControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return true
		}
	}
	return false
}
