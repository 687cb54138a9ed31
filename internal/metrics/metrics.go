package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// API metrics
	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modeleur_api_request_duration_seconds",
			Help:    "Image generation request duration in seconds by model",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~256s
		},
		[]string{"model", "status"},
	)

	rateLimiterWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modeleur_rate_limiter_wait_duration_seconds",
			Help:    "Rate limiter wait duration in seconds by model",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"model"},
	)

	// Stage metrics
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modeleur_stage_duration_seconds",
			Help:    "Stage generation duration by stage and outcome",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"stage", "status"},
	)

	stageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modeleur_stage_total",
			Help: "Total number of settled stage generations",
		},
		[]string{"stage", "status"}, // status: "success"/"error"
	)

	// Run metrics
	runTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modeleur_run_total",
			Help: "Total number of generation runs by outcome",
		},
		[]string{"outcome"}, // "completed", "partial", "failed", "rejected"
	)

	runInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modeleur_run_in_progress",
			Help: "1 while a generation run is active",
		},
	)
)

// Collector provides convenience methods for recording metrics
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{
		logger: logger,
	}
}

// RecordAPIRequest records an API request duration
func (c *Collector) RecordAPIRequest(model string, duration time.Duration, success bool) {
	apiRequestDuration.WithLabelValues(model, statusLabel(success)).Observe(duration.Seconds())
}

// RecordRateLimiterWait records rate limiter wait time
func (c *Collector) RecordRateLimiterWait(model string, duration time.Duration) {
	rateLimiterWaitDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordStage records one settled stage
func (c *Collector) RecordStage(stage string, success bool, duration time.Duration) {
	status := statusLabel(success)
	stageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
	stageTotal.WithLabelValues(stage, status).Inc()
}

// RecordRun increments the run counter for an outcome
func (c *Collector) RecordRun(outcome string) {
	runTotal.WithLabelValues(outcome).Inc()
	c.logger.Debug("Run recorded", "outcome", outcome)
}

// SetRunInProgress flips the in-progress gauge
func (c *Collector) SetRunInProgress(active bool) {
	if active {
		runInProgress.Set(1)
		return
	}
	runInProgress.Set(0)
}

// Handler exposes the default registry for scraping
func (c *Collector) Handler() http.Handler {
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
