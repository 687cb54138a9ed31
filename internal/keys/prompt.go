package keys

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
)

// ErrAborted is returned when the user interrupts the key prompt
var ErrAborted = errors.New("key selection aborted")

// askFunc matches survey.AskOne so tests can substitute the terminal
type askFunc func(p survey.Prompt, response interface{}, opts ...survey.AskOpt) error

// PromptProvider selects a key by asking on the terminal
type PromptProvider struct {
	StaticProvider
	ask askFunc
}

// NewPromptProvider creates a terminal-backed provider with no key selected
func NewPromptProvider() *PromptProvider {
	return &PromptProvider{ask: survey.AskOne}
}

// OpenSelectKey prompts for a key and selects it on success
func (p *PromptProvider) OpenSelectKey(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var key string
	prompt := &survey.Password{
		Message: "Gemini API key:",
		Help:    "The key is kept in memory for this process only. Set GEMINI_API_KEY to skip this prompt.",
	}
	validator := func(ans interface{}) error {
		s, _ := ans.(string)
		return ValidateKey(strings.TrimSpace(s))
	}

	if err := p.ask(prompt, &key, survey.WithValidator(validator)); err != nil {
		if errors.Is(err, terminal.InterruptErr) {
			return ErrAborted
		}
		return fmt.Errorf("failed to read API key: %w", err)
	}

	return p.SetKey(key, "prompt")
}
