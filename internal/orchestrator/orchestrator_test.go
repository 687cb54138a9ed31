package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamim/modeleur/internal/config"
	"github.com/lamim/modeleur/internal/metrics"
	"github.com/lamim/modeleur/internal/stage"
	"github.com/lamim/modeleur/pkg/models"
)

type call struct {
	stage     models.StageID
	reference []byte
}

// fakeGenerator returns "img-<stage>" unless an error is configured for the stage.
// When gate is set, every call blocks until it is closed or ctx is done.
type fakeGenerator struct {
	mu      sync.Mutex
	calls   []call
	errs    map[models.StageID]error
	gate    chan struct{}
	started chan models.StageID
}

func (f *fakeGenerator) Generate(ctx context.Context, _ string, id models.StageID, reference []byte) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{stage: id, reference: reference})
	f.mu.Unlock()

	if f.started != nil {
		f.started <- id
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	return []byte("img-" + id.String()), nil
}

func (f *fakeGenerator) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func newOrchestrator(gen StageGenerator) *Orchestrator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := New(gen, stage.NewStore(), logger)
	o.SetMetrics(metrics.NewCollector(logger))
	return o
}

func TestRunAllStagesSucceed(t *testing.T) {
	gen := &fakeGenerator{}
	o := newOrchestrator(gen)

	result, err := o.Run(context.Background(), models.GenerationRequest{Description: "a horse"})
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.False(t, result.Fatal)
	assert.Equal(t, 4, result.Stats.SuccessCount)
	assert.Equal(t, 0, result.Stats.FailureCount)
	assert.Equal(t, "completed", result.OutcomeLabel())
	assert.Equal(t, StateCompleted, o.State())
	assert.Same(t, result, o.LastResult())

	for _, st := range o.Store().Snapshot() {
		assert.Equal(t, models.StatusSuccess, st.Status, st.ID.String())
		assert.Equal(t, []byte("img-"+st.ID.String()), st.Image)
	}
}

func TestRunStageFourFirstAndSharedReference(t *testing.T) {
	gen := &fakeGenerator{}
	o := newOrchestrator(gen)

	_, err := o.Run(context.Background(), models.GenerationRequest{Description: "a horse"})
	require.NoError(t, err)

	calls := gen.recorded()
	require.Len(t, calls, 4)
	assert.Equal(t, models.StageFinal, calls[0].stage)
	assert.Nil(t, calls[0].reference)

	seen := map[models.StageID]bool{}
	for _, c := range calls[1:] {
		seen[c.stage] = true
		assert.Equal(t, []byte("img-"+models.StageFinal.String()), c.reference)
	}
	for _, id := range models.DerivedStages {
		assert.True(t, seen[id], "stage %d not requested", id)
	}
}

func TestRunDerivedStagesRunConcurrently(t *testing.T) {
	gen := &fakeGenerator{
		gate:    make(chan struct{}),
		started: make(chan models.StageID, 4),
	}
	o := newOrchestrator(gen)

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), models.GenerationRequest{Description: "a horse"})
		done <- err
	}()

	// Stage 4 blocks alone until released
	require.Equal(t, models.StageFinal, <-gen.started)
	select {
	case id := <-gen.started:
		t.Fatalf("stage %d started before stage 4 settled", id)
	case <-time.After(50 * time.Millisecond):
	}

	close(gen.gate)

	// All three derived stages start without waiting on each other
	for range models.DerivedStages {
		select {
		case <-gen.started:
		case <-time.After(2 * time.Second):
			t.Fatal("derived stages did not start")
		}
	}
	require.NoError(t, <-done)
}

func TestRunStageFourFailureAborts(t *testing.T) {
	gen := &fakeGenerator{errs: map[models.StageID]error{
		models.StageFinal: errors.New("quota exceeded"),
	}}
	o := newOrchestrator(gen)

	result, err := o.Run(context.Background(), models.GenerationRequest{Description: "a horse"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStageFourFailed)
	assert.Contains(t, err.Error(), "quota exceeded")

	assert.Len(t, gen.recorded(), 1)
	require.NotNil(t, result)
	assert.True(t, result.Fatal)
	assert.Equal(t, "failed", result.OutcomeLabel())
	assert.Equal(t, "quota exceeded", result.Outcome(models.StageFinal).Error)
	assert.Equal(t, 0, result.Stats.SuccessCount)
	assert.Equal(t, len(models.AllStages), result.Stats.FailureCount)

	for _, st := range o.Store().Snapshot() {
		assert.Equal(t, models.StatusError, st.Status, st.ID.String())
		assert.Nil(t, st.Image)
	}
}

func TestRunPartialFailure(t *testing.T) {
	gen := &fakeGenerator{errs: map[models.StageID]error{
		models.StageBlocking: errors.New("no image"),
	}}
	o := newOrchestrator(gen)

	result, err := o.Run(context.Background(), models.GenerationRequest{Description: "a horse"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Stats.SuccessCount)
	assert.Equal(t, 1, result.Stats.FailureCount)
	assert.Equal(t, "partial", result.OutcomeLabel())

	st, _ := o.Store().Get(models.StageBlocking)
	assert.Equal(t, models.StatusError, st.Status)
	for _, id := range []models.StageID{models.StageRoughMass, models.StageEmergence, models.StageFinal} {
		st, _ := o.Store().Get(id)
		assert.Equal(t, models.StatusSuccess, st.Status, id.String())
	}
}

func TestRunRejectsEmptyDescription(t *testing.T) {
	gen := &fakeGenerator{}
	o := newOrchestrator(gen)

	_, err := o.Run(context.Background(), models.GenerationRequest{Description: ""})
	assert.ErrorIs(t, err, config.ErrEmptyDescription)
	assert.Empty(t, gen.recorded())
	assert.Equal(t, StateIdle, o.State())
}

func TestRunWhileRunningIsRejected(t *testing.T) {
	gen := &fakeGenerator{
		gate:    make(chan struct{}),
		started: make(chan models.StageID, 4),
	}
	o := newOrchestrator(gen)

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), models.GenerationRequest{Description: "a horse"})
		done <- err
	}()
	<-gen.started

	before := o.Store().Version()
	_, err := o.Run(context.Background(), models.GenerationRequest{Description: "a cat"})
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, before, o.Store().Version())
	assert.Equal(t, StateRunning, o.State())

	close(gen.gate)
	require.NoError(t, <-done)
	assert.Len(t, gen.recorded(), 4)
}

func TestCancelAbortsRun(t *testing.T) {
	gen := &fakeGenerator{
		gate:    make(chan struct{}),
		started: make(chan models.StageID, 4),
	}
	o := newOrchestrator(gen)
	assert.False(t, o.Cancel())

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), models.GenerationRequest{Description: "a horse"})
		done <- err
	}()
	<-gen.started

	assert.True(t, o.Cancel())
	err := <-done
	assert.ErrorIs(t, err, ErrStageFourFailed)
	assert.ErrorIs(t, err, context.Canceled)

	for _, st := range o.Store().Snapshot() {
		assert.Equal(t, models.StatusError, st.Status)
	}
}

func TestSequentialRunsResetState(t *testing.T) {
	gen := &fakeGenerator{errs: map[models.StageID]error{
		models.StageFinal: errors.New("boom"),
	}}
	o := newOrchestrator(gen)

	_, err := o.Run(context.Background(), models.GenerationRequest{Description: "a horse"})
	require.Error(t, err)

	gen.mu.Lock()
	gen.errs = nil
	gen.mu.Unlock()

	result, err := o.Run(context.Background(), models.GenerationRequest{Description: "a horse"})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Stats.SuccessCount)
}

func TestStartRunsInBackground(t *testing.T) {
	gen := &fakeGenerator{
		gate:    make(chan struct{}),
		started: make(chan models.StageID, 4),
	}
	o := newOrchestrator(gen)

	runID, done, err := o.Start(context.Background(), models.GenerationRequest{Description: "a horse"})
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
	assert.Equal(t, StateRunning, o.State())

	// The running state is claimed before Start returns
	_, _, err = o.Start(context.Background(), models.GenerationRequest{Description: "a cat"})
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(gen.gate)
	require.NoError(t, <-done)
	assert.Equal(t, StateCompleted, o.State())
	require.NotNil(t, o.LastResult())
	assert.Equal(t, runID, o.LastResult().RunID)
}

func TestRunStartShowsEveryStageLoading(t *testing.T) {
	gen := &fakeGenerator{}
	o := newOrchestrator(gen)

	_, err := o.Run(context.Background(), models.GenerationRequest{Description: "a horse"})
	require.NoError(t, err)
	for _, st := range o.Store().Snapshot() {
		require.Equal(t, models.StatusSuccess, st.Status)
		require.NotNil(t, st.Image)
	}

	gen.gate = make(chan struct{})
	gen.started = make(chan models.StageID, 4)
	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), models.GenerationRequest{Description: "a cat"})
		done <- err
	}()

	require.Equal(t, models.StageFinal, <-gen.started)
	for _, st := range o.Store().Snapshot() {
		assert.Equal(t, models.StatusLoading, st.Status, st.ID.String())
		assert.Nil(t, st.Image, st.ID.String())
	}

	close(gen.gate)
	require.NoError(t, <-done)
}

func TestStartResetsStagesBeforeReturning(t *testing.T) {
	gen := &fakeGenerator{}
	o := newOrchestrator(gen)

	_, err := o.Run(context.Background(), models.GenerationRequest{Description: "a horse"})
	require.NoError(t, err)

	gen.gate = make(chan struct{})
	_, done, err := o.Start(context.Background(), models.GenerationRequest{Description: "a cat"})
	require.NoError(t, err)

	// No wait: the reset belongs to accepting the run
	for _, st := range o.Store().Snapshot() {
		assert.Equal(t, models.StatusLoading, st.Status, st.ID.String())
		assert.Nil(t, st.Image, st.ID.String())
	}

	close(gen.gate)
	require.NoError(t, <-done)
}
