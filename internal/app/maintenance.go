package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/m3rciful/requestbot/core/logger"
)

// maintainer is implemented by stores with housekeeping of their own.
type maintainer interface {
	Maintain(ctx context.Context) error
}

// Maintain prunes sessions that no longer affect behaviour and lets the store
// run its own housekeeping. It is the body of the scheduled maintenance job.
func (a *App) Maintain(ctx context.Context) error {
	if a.manager == nil {
		return errors.New("app: maintenance before the request manager is built")
	}
	start := time.Now()
	pruned, err := a.manager.Compact(ctx)
	if err != nil {
		return err
	}
	if m, ok := a.store.(maintainer); ok {
		if err := m.Maintain(ctx); err != nil {
			return err
		}
	}
	remaining, err := a.manager.SessionCount(ctx)
	if err != nil {
		return err
	}
	logger.SCHED.InfoContext(ctx, "store maintenance",
		slog.String("event", "store.maintenance"),
		slog.String("driver", a.cfg.Store.Driver),
		slog.Int("pruned", pruned),
		slog.Int("sessions", remaining),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return nil
}
