package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lamim/modeleur/internal/config"
	"github.com/lamim/modeleur/internal/metrics"
	"github.com/lamim/modeleur/internal/stage"
	"github.com/lamim/modeleur/internal/util"
	"github.com/lamim/modeleur/pkg/models"
)

var (
	// ErrRunInProgress is returned when Run is called while another run is active.
	// The call has no effect on the store.
	ErrRunInProgress = errors.New("a generation run is already in progress")

	// ErrStageFourFailed means the reference stage failed and the run was abandoned
	ErrStageFourFailed = errors.New("stage 4 failed")
)

// State is the orchestrator's run state
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
)

// StageGenerator renders a single stage, optionally from a reference image
type StageGenerator interface {
	Generate(ctx context.Context, description string, stage models.StageID, reference []byte) ([]byte, error)
}

// RunResult aggregates the per-stage outcomes of one run
type RunResult struct {
	RunID       string                `json:"run_id"`
	Description string                `json:"description"`
	Outcomes    []models.StageOutcome `json:"outcomes"` // display order: stages 1..4
	Stats       models.RunStats       `json:"stats"`
	Fatal       bool                  `json:"fatal"`
}

// Outcome returns the outcome recorded for a stage
func (r *RunResult) Outcome(id models.StageID) models.StageOutcome {
	for _, o := range r.Outcomes {
		if o.Stage == id {
			return o
		}
	}
	return models.StageOutcome{Stage: id}
}

// OutcomeLabel summarizes the run for metrics and logs
func (r *RunResult) OutcomeLabel() string {
	switch {
	case r.Fatal:
		return "failed"
	case r.Stats.FailureCount > 0:
		return "partial"
	default:
		return "completed"
	}
}

// Orchestrator drives the four-stage sequence: stage 4 alone, then stages
// 1-3 concurrently from stage 4's image.
type Orchestrator struct {
	generator StageGenerator
	store     *stage.Store
	metrics   *metrics.Collector
	logger    *slog.Logger
	tracer    trace.Tracer

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	last   *RunResult
}

// New creates a new orchestrator writing into store
func New(generator StageGenerator, store *stage.Store, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		generator: generator,
		store:     store,
		logger:    logger,
		tracer:    otel.Tracer("github.com/lamim/modeleur/internal/orchestrator"),
		state:     StateIdle,
	}
}

// SetMetrics attaches a metrics collector
func (o *Orchestrator) SetMetrics(m *metrics.Collector) {
	o.metrics = m
}

// Store returns the stage store the orchestrator writes to
func (o *Orchestrator) Store() *stage.Store {
	return o.store
}

// State returns the current run state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastResult returns the result of the most recent finished run, if any
func (o *Orchestrator) LastResult() *RunResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Cancel aborts the active run's pending requests. It reports whether a run was active.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateRunning || o.cancel == nil {
		return false
	}
	o.cancel()
	return true
}

// Run executes one generation run and blocks until every stage has settled.
// Stage 1-3 failures are reported in the result only; a stage 4 failure marks
// every stage as errored and returns an error wrapping ErrStageFourFailed.
func (o *Orchestrator) Run(ctx context.Context, req models.GenerationRequest) (*RunResult, error) {
	result, runCtx, err := o.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return result, o.execute(runCtx, result)
}

// Start begins a run in the background and returns its ID once the run has
// been accepted. The returned channel yields Run's error and is then closed.
func (o *Orchestrator) Start(ctx context.Context, req models.GenerationRequest) (string, <-chan error, error) {
	result, runCtx, err := o.begin(ctx, req)
	if err != nil {
		return "", nil, err
	}

	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- o.execute(runCtx, result)
	}()
	return result.RunID, done, nil
}

// begin validates the request and claims the running state
func (o *Orchestrator) begin(ctx context.Context, req models.GenerationRequest) (*RunResult, context.Context, error) {
	if err := config.ValidateDescription(req.Description); err != nil {
		return nil, nil, fmt.Errorf("invalid request: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	if o.state == StateRunning {
		o.mu.Unlock()
		cancel()
		if o.metrics != nil {
			o.metrics.RecordRun("rejected")
		}
		return nil, nil, ErrRunInProgress
	}
	o.state = StateRunning
	o.cancel = cancel
	o.mu.Unlock()

	// Stages show Loading before the caller learns the run was accepted
	o.store.ResetAll()
	o.store.ResetAllToLoading()

	result := &RunResult{
		RunID:       uuid.NewString(),
		Description: req.Description,
		Outcomes:    make([]models.StageOutcome, len(models.AllStages)),
		Stats:       models.RunStats{StartTime: time.Now()},
	}
	for i, id := range models.AllStages {
		result.Outcomes[i] = models.StageOutcome{Stage: id, Status: models.StatusLoading}
	}

	if o.metrics != nil {
		o.metrics.SetRunInProgress(true)
	}
	return result, runCtx, nil
}

func (o *Orchestrator) execute(runCtx context.Context, result *RunResult) error {
	defer func() {
		o.mu.Lock()
		if o.cancel != nil {
			o.cancel()
		}
		o.state = StateCompleted
		o.cancel = nil
		o.last = result
		o.mu.Unlock()
		if o.metrics != nil {
			o.metrics.SetRunInProgress(false)
			o.metrics.RecordRun(result.OutcomeLabel())
		}
	}()

	runCtx, span := o.tracer.Start(runCtx, "orchestrator.Run", trace.WithAttributes(
		attribute.String("run.id", result.RunID),
	))
	defer span.End()

	logger := o.logger.With("run_id", result.RunID)
	logger.Info("Starting generation run", "description", util.TruncateString(result.Description, 80))

	// Stage 4 establishes what the sculpture looks like; nothing else can start without it
	finalImage, err := o.runStage(runCtx, logger, result, models.StageFinal, nil)
	if err != nil {
		o.store.FailAll()
		for i := range result.Outcomes {
			if result.Outcomes[i].Stage != models.StageFinal {
				result.Outcomes[i].Status = models.StatusError
				result.Outcomes[i].Error = ErrStageFourFailed.Error()
			}
		}
		result.Fatal = true
		o.finish(result)

		span.SetStatus(codes.Error, "stage 4 failed")
		logger.Error("Reference stage failed, abandoning run", "error", err)
		return fmt.Errorf("%w: %w", ErrStageFourFailed, err)
	}

	var g errgroup.Group
	for _, id := range models.DerivedStages {
		g.Go(func() error {
			// Failures stay local to the stage; returning nil keeps Wait from short-circuiting
			_, _ = o.runStage(runCtx, logger, result, id, finalImage)
			return nil
		})
	}
	_ = g.Wait()

	o.finish(result)
	logger.Info("Generation run completed",
		"successful", result.Stats.SuccessCount,
		"failed", result.Stats.FailureCount,
		"duration", result.Stats.TotalDuration)

	return nil
}

// runStage generates one stage and records its outcome in the store and result.
// Each stage writes only its own slot in result.Outcomes.
func (o *Orchestrator) runStage(
	ctx context.Context,
	logger *slog.Logger,
	result *RunResult,
	id models.StageID,
	reference []byte,
) ([]byte, error) {
	start := time.Now()
	img, err := o.generator.Generate(ctx, result.Description, id, reference)
	duration := time.Since(start)

	outcome := &result.Outcomes[int(id)-1]
	outcome.Duration = duration

	if o.metrics != nil {
		o.metrics.RecordStage(id.String(), err == nil, duration)
	}

	if err != nil {
		outcome.Status = models.StatusError
		outcome.Error = err.Error()
		if setErr := o.store.SetResult(id, models.StatusError, nil); setErr != nil {
			logger.Error("Failed to record stage result", "stage", int(id), "error", setErr)
		}
		logger.Warn("Stage failed", "stage", int(id), "error", err)
		return nil, err
	}

	outcome.Status = models.StatusSuccess
	outcome.Bytes = len(img)
	if setErr := o.store.SetResult(id, models.StatusSuccess, img); setErr != nil {
		logger.Error("Failed to record stage result", "stage", int(id), "error", setErr)
	}
	logger.Info("Stage completed", "stage", int(id), "bytes", len(img), "duration", duration)
	return img, nil
}

func (o *Orchestrator) finish(result *RunResult) {
	result.Stats.EndTime = time.Now()
	result.Stats.TotalDuration = result.Stats.EndTime.Sub(result.Stats.StartTime)
	result.Stats.SuccessCount, result.Stats.FailureCount = 0, 0
	for _, outcome := range result.Outcomes {
		switch outcome.Status {
		case models.StatusSuccess:
			result.Stats.SuccessCount++
		case models.StatusError:
			result.Stats.FailureCount++
		}
	}
}
