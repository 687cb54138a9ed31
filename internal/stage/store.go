// Package stage holds the four stage records that display layers read.
package stage

import (
	"fmt"
	"sync"

	"github.com/lamim/modeleur/pkg/models"
)

// subscriberBuffer bounds how many updates a slow subscriber may lag behind
// before further updates to it are dropped.
const subscriberBuffer = 16

// Update is published to subscribers after every mutation
type Update struct {
	Stage models.Stage
	// Version increases by one per mutation across the whole store
	Version uint64
}

// Store is the single source of truth for stage status and images.
// Writers and readers may run on different goroutines; every mutation is
// serialized by the store's mutex.
type Store struct {
	mu          sync.RWMutex
	stages      map[models.StageID]models.Stage
	version     uint64
	subscribers map[chan Update]struct{}
}

// NewStore creates a store with all four stages idle
func NewStore() *Store {
	s := &Store{
		stages:      make(map[models.StageID]models.Stage, len(models.AllStages)),
		subscribers: make(map[chan Update]struct{}),
	}
	for _, id := range models.AllStages {
		s.stages[id] = models.NewStage(id)
	}
	return s
}

// ResetAll puts every stage back to idle and clears images
func (s *Store) ResetAll() {
	s.setAll(models.StatusIdle)
}

// ResetAllToLoading marks every stage as loading and clears images.
// Calling it twice in a row leaves the same observable state as once.
func (s *Store) ResetAllToLoading() {
	s.setAll(models.StatusLoading)
}

// FailAll marks every stage as errored, keeping no images
func (s *Store) FailAll() {
	s.setAll(models.StatusError)
}

func (s *Store) setAll(status models.StageStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range models.AllStages {
		st := s.stages[id]
		st.Status = status
		st.Image = nil
		s.stages[id] = st
		s.publishLocked(st)
	}
}

// SetResult records the outcome of one stage. The image is kept only for
// StatusSuccess.
func (s *Store) SetResult(id models.StageID, status models.StageStatus, image []byte) error {
	if !id.Valid() {
		return fmt.Errorf("unknown stage %d", id)
	}
	if !status.IsValid() {
		return fmt.Errorf("unknown status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stages[id]
	st.Status = status
	st.Image = nil
	if status == models.StatusSuccess {
		st.Image = image
	}
	s.stages[id] = st
	s.publishLocked(st)
	return nil
}

// Get returns a copy of one stage
func (s *Store) Get(id models.StageID) (models.Stage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stages[id]
	return st, ok
}

// Snapshot returns the four stages in display order
func (s *Store) Snapshot() []models.Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Stage, 0, len(models.AllStages))
	for _, id := range models.AllStages {
		out = append(out, s.stages[id])
	}
	return out
}

// Version returns the number of mutations applied so far
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Subscribe returns a channel receiving every subsequent update.
// Updates are dropped for a subscriber whose buffer is full.
func (s *Store) Subscribe() <-chan Update {
	ch := make(chan Update, subscriberBuffer)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	return ch
}

// Unsubscribe stops delivery and closes the channel
func (s *Store) Unsubscribe(sub <-chan Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.subscribers {
		if ch == sub {
			delete(s.subscribers, ch)
			close(ch)
			return
		}
	}
}

func (s *Store) publishLocked(st models.Stage) {
	s.version++
	u := Update{Stage: st, Version: s.version}
	for ch := range s.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
}
