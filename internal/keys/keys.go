// Package keys decides whether a generation credential is available and,
// when it is not, asks the host to select one.
package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/lamim/modeleur/internal/config"
)

// ErrKeyUnavailable means no credential could be found or selected.
// No generation request is made in this state.
var ErrKeyUnavailable = errors.New("no API key selected")

// Provider is the host key-provisioning boundary
type Provider interface {
	// HasSelectedAPIKey reports whether a key is currently selected
	HasSelectedAPIKey(ctx context.Context) (bool, error)
	// OpenSelectKey asks the host to select a key; it may fail or be dismissed
	OpenSelectKey(ctx context.Context) error
	// APIKey returns the selected key, or "" when none is selected
	APIKey() string
}

// StaticProvider holds a key set programmatically, e.g. from the environment
// or an HTTP request. It is safe for concurrent use.
type StaticProvider struct {
	mu     sync.RWMutex
	key    string
	source string
}

// NewEnvProvider wraps the secrets loaded from the environment
func NewEnvProvider(secrets *config.Secrets) *StaticProvider {
	p := &StaticProvider{}
	if secrets != nil {
		p.key = secrets.APIKey
		p.source = secrets.Source
	}
	return p
}

func (p *StaticProvider) HasSelectedAPIKey(context.Context) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.key != "", nil
}

// OpenSelectKey has no interactive surface; it only succeeds if a key is already set
func (p *StaticProvider) OpenSelectKey(context.Context) error {
	if p.APIKey() == "" {
		return ErrKeyUnavailable
	}
	return nil
}

func (p *StaticProvider) APIKey() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.key
}

// Source names where the key came from
func (p *StaticProvider) Source() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.source
}

// SetKey replaces the key; an empty key clears the selection
func (p *StaticProvider) SetKey(key, source string) error {
	key = strings.TrimSpace(key)
	if key != "" {
		if err := ValidateKey(key); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.key = key
	p.source = source
	if key == "" {
		p.source = ""
	}
	return nil
}

// ValidateKey rejects keys that cannot be sent as a header value
func ValidateKey(key string) error {
	if key == "" {
		return ErrKeyUnavailable
	}
	if strings.ContainsAny(key, " \t\r\n") {
		return fmt.Errorf("API key must not contain whitespace")
	}
	return nil
}

// Gate blocks generation until a key is present
type Gate struct {
	primary  Provider
	fallback Provider
	logger   *slog.Logger
}

// NewGate checks the host mechanism first and falls back to the environment
// credential. fallback may be nil.
func NewGate(primary, fallback Provider, logger *slog.Logger) *Gate {
	return &Gate{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// Check reports whether a key is available without prompting.
// A failing check counts as "no key".
func (g *Gate) Check(ctx context.Context) bool {
	return g.current(ctx) != ""
}

// Ensure returns a usable key, asking the host to select one if none is
// present. A dismissed or failed selection yields ErrKeyUnavailable.
func (g *Gate) Ensure(ctx context.Context) (string, error) {
	if key := g.current(ctx); key != "" {
		return key, nil
	}

	if g.primary == nil {
		return "", ErrKeyUnavailable
	}

	g.logger.Info("No API key selected, opening key selection")
	if err := g.primary.OpenSelectKey(ctx); err != nil {
		g.logger.Warn("Key selection failed", "error", err)
		if errors.Is(err, ErrKeyUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}

	if key := g.primary.APIKey(); key != "" {
		return key, nil
	}
	return "", ErrKeyUnavailable
}

// Key returns the currently available key without prompting
func (g *Gate) Key(ctx context.Context) string {
	return g.current(ctx)
}

func (g *Gate) current(ctx context.Context) string {
	for _, p := range []Provider{g.primary, g.fallback} {
		if p == nil {
			continue
		}
		ok, err := p.HasSelectedAPIKey(ctx)
		if err != nil {
			g.logger.Debug("Key check failed", "error", err)
			continue
		}
		if ok {
			if key := p.APIKey(); key != "" {
				return key
			}
		}
	}
	return ""
}
