package api

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterPool manages per-model rate limiters
type RateLimiterPool struct {
	limiters map[string]*rate.Limiter
	rates    map[string]int // Track original rates for consistency check
	mu       sync.Mutex
}

// NewRateLimiterPool creates a new rate limiter pool
func NewRateLimiterPool() *RateLimiterPool {
	return &RateLimiterPool{
		limiters: make(map[string]*rate.Limiter),
		rates:    make(map[string]int),
	}
}

// GetOrCreate returns an existing rate limiter or creates a new one.
// If a limiter exists with a different rate, the existing one is kept.
func (p *RateLimiterPool) GetOrCreate(modelID string, requestsPerMinute int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, exists := p.limiters[modelID]; exists {
		if existingRate := p.rates[modelID]; existingRate != requestsPerMinute {
			slog.Warn("Rate limiter already exists with different rate, using existing rate",
				"model_id", modelID,
				"existing_rpm", existingRate,
				"requested_rpm", requestsPerMinute)
		}
		return limiter
	}

	rps := float64(requestsPerMinute) / 60.0
	// A run issues 1 + 3 requests; the burst must let the three derived stages go out together
	burst := max(4, requestsPerMinute/5)
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	p.limiters[modelID] = limiter
	p.rates[modelID] = requestsPerMinute

	slog.Debug("Created rate limiter",
		"model_id", modelID,
		"rpm", requestsPerMinute,
		"rps", rps,
		"burst", burst)

	return limiter
}

// Wait blocks until the rate limiter allows the next request
func (p *RateLimiterPool) Wait(ctx context.Context, modelID string, requestsPerMinute int) error {
	return p.GetOrCreate(modelID, requestsPerMinute).Wait(ctx)
}
