package app

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spigell/auto-applier/internal/dispatch"
	"github.com/spigell/auto-applier/internal/logger"
)

var ErrMatchingDisabled = errors.New("matching is not enabled")

// LockKey is the run lock name for a candidate.
func LockKey(candidateID string) string {
	return "dispatch:" + candidateID
}

// Dispatch runs one candidate while holding its run lock.
// lock.ErrHeld is returned when another run for the same candidate is active.
func (a *App) Dispatch(ctx context.Context, candidateID string, opts dispatch.Options) (*dispatch.Report, error) {
	if a.Dispatcher == nil {
		return nil, ErrMatchingDisabled
	}

	release, err := a.Locker.Acquire(ctx, LockKey(candidateID), a.Config.Dispatch.LockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			a.Logger.Warn("releasing run lock", zap.String(logger.FieldCandidateID, candidateID), zap.Error(err))
		}
	}()

	return a.Dispatcher.Run(ctx, candidateID, opts)
}
