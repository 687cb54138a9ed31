package stage

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lamim/modeleur/pkg/models"
)

func TestNewStoreIsIdle(t *testing.T) {
	s := NewStore()
	snap := s.Snapshot()

	require.Len(t, snap, 4)
	for i, st := range snap {
		assert.Equal(t, models.AllStages[i], st.ID)
		assert.Equal(t, models.StatusIdle, st.Status)
		assert.Nil(t, st.Image)
		assert.NotEmpty(t, st.Label)
	}
}

func TestResetAllToLoadingClearsImages(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.SetResult(models.StageFinal, models.StatusSuccess, []byte("img")))
	require.NoError(t, s.SetResult(models.StageRoughMass, models.StatusError, nil))

	s.ResetAllToLoading()

	for _, st := range s.Snapshot() {
		assert.Equal(t, models.StatusLoading, st.Status)
		assert.Nil(t, st.Image)
	}
}

func TestResetAllToLoadingIsIdempotent(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.SetResult(models.StageBlocking, models.StatusSuccess, []byte("img")))

	s.ResetAllToLoading()
	once := s.Snapshot()
	s.ResetAllToLoading()
	twice := s.Snapshot()

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("second reset changed state (-once +twice):\n%s", diff)
	}
}

func TestSetResultKeepsImageOnlyOnSuccess(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.SetResult(models.StageEmergence, models.StatusError, []byte("ignored")))
	st, ok := s.Get(models.StageEmergence)
	require.True(t, ok)
	assert.Equal(t, models.StatusError, st.Status)
	assert.Nil(t, st.Image)

	require.NoError(t, s.SetResult(models.StageEmergence, models.StatusSuccess, []byte("kept")))
	st, _ = s.Get(models.StageEmergence)
	assert.Equal(t, []byte("kept"), st.Image)
	assert.True(t, st.HasImage())
}

func TestSetResultRejectsUnknownInputs(t *testing.T) {
	s := NewStore()
	assert.Error(t, s.SetResult(models.StageID(7), models.StatusSuccess, nil))
	assert.Error(t, s.SetResult(models.StageFinal, models.StageStatus("done"), nil))
}

func TestFailAll(t *testing.T) {
	s := NewStore()
	s.ResetAllToLoading()
	s.FailAll()

	for _, st := range s.Snapshot() {
		assert.Equal(t, models.StatusError, st.Status)
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	s := NewStore()
	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	require.NoError(t, s.SetResult(models.StageFinal, models.StatusSuccess, []byte("img")))

	u := <-sub
	assert.Equal(t, models.StageFinal, u.Stage.ID)
	assert.Equal(t, models.StatusSuccess, u.Stage.Status)
	assert.Equal(t, s.Version(), u.Version)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	s := NewStore()
	sub := s.Subscribe()
	s.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)

	// Mutations after unsubscribe must not panic
	s.ResetAll()
}

func TestSlowSubscriberDoesNotBlockWriters(t *testing.T) {
	s := NewStore()
	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	for i := 0; i < subscriberBuffer*4; i++ {
		s.ResetAllToLoading()
	}
	assert.Equal(t, uint64(subscriberBuffer*4*4), s.Version())
}

func TestConcurrentSetResult(t *testing.T) {
	s := NewStore()
	s.ResetAllToLoading()

	var wg sync.WaitGroup
	for _, id := range models.DerivedStages {
		wg.Add(1)
		go func(id models.StageID) {
			defer wg.Done()
			_ = s.SetResult(id, models.StatusSuccess, []byte(id.String()))
		}(id)
	}
	wg.Wait()

	for _, id := range models.DerivedStages {
		st, _ := s.Get(id)
		assert.Equal(t, models.StatusSuccess, st.Status)
		assert.Equal(t, []byte(id.String()), st.Image)
	}
	st, _ := s.Get(models.StageFinal)
	assert.Equal(t, models.StatusLoading, st.Status)
}
