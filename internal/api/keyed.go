package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/lamim/modeleur/internal/config"
	"github.com/lamim/modeleur/internal/metrics"
)

// ErrMissingAPIKey is returned by KeyedClient when no key is selected at call time
var ErrMissingAPIKey = errors.New("api key is required")

// KeySource returns the currently selected API key, or "" when there is none
type KeySource func(ctx context.Context) string

// KeyedClient resolves the API key on every call and rebuilds the underlying
// Client only when the key changes. Used by long-running processes whose key
// can be selected after start-up.
type KeyedClient struct {
	modelCfg config.ModelConfig
	keys     KeySource
	pool     *RateLimiterPool
	metrics  *metrics.Collector
	logger   *slog.Logger

	mu     sync.Mutex
	key    string
	client *Client
}

// NewKeyedClient creates a client that looks up its key through keys
func NewKeyedClient(modelCfg config.ModelConfig, keys KeySource, logger *slog.Logger) *KeyedClient {
	return &KeyedClient{
		modelCfg: modelCfg,
		keys:     keys,
		pool:     NewRateLimiterPool(),
		logger:   logger,
	}
}

// SetMetrics attaches a metrics collector to current and future clients
func (k *KeyedClient) SetMetrics(m *metrics.Collector) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.metrics = m
	if k.client != nil {
		k.client.SetMetrics(m)
	}
}

// GenerateImage delegates to a Client bound to the current key
func (k *KeyedClient) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error) {
	client, err := k.current(ctx)
	if err != nil {
		return nil, err
	}
	return client.GenerateImage(ctx, req)
}

func (k *KeyedClient) current(ctx context.Context) (*Client, error) {
	key := k.keys(ctx)
	if key == "" {
		return nil, ErrMissingAPIKey
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.client != nil && k.key == key {
		return k.client, nil
	}

	client, err := NewClient(ctx, k.modelCfg, key, k.logger)
	if err != nil {
		return nil, err
	}
	// One limiter across key changes; the quota belongs to the model endpoint
	client.rateLimiterPool = k.pool
	client.SetMetrics(k.metrics)

	if k.client != nil {
		k.logger.Info("API key changed, rebuilt generation client")
	}
	k.key = key
	k.client = client
	return client, nil
}
