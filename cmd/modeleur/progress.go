package main

import (
	"github.com/lamim/modeleur/internal/stage"
	"github.com/lamim/modeleur/pkg/models"
)

// trackSettled calls advance once per stage the first time it settles.
// FailAll republishes stages that already settled, so later updates are ignored.
// It returns when updates is closed.
func trackSettled(updates <-chan stage.Update, advance func() error) error {
	settled := make(map[models.StageID]bool, len(models.AllStages))
	var firstErr error
	for u := range updates {
		if !u.Stage.Status.IsSettled() || settled[u.Stage.ID] {
			continue
		}
		settled[u.Stage.ID] = true
		if err := advance(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
