// Package worker holds background jobs that run alongside the HTTP server.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// SessionExpirer removes voice sessions past their expiry.
type SessionExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// SessionSweeper periodically deletes expired voice sessions. Reads already
// ignore expired sessions, so the sweep only bounds storage growth.
type SessionSweeper struct {
	sessions SessionExpirer
	interval time.Duration
	logger   *slog.Logger
}

func NewSessionSweeper(sessions SessionExpirer, interval time.Duration, logger *slog.Logger) *SessionSweeper {
	return &SessionSweeper{
		sessions: sessions,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps once immediately and then every interval until ctx is done. It
// always returns nil; a failed sweep is logged and retried on the next tick.
func (w *SessionSweeper) Run(ctx context.Context) error {
	w.logger.Info("session sweeper started", slog.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.RunOnce(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info("session sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep and returns how many sessions it removed.
func (w *SessionSweeper) RunOnce(ctx context.Context) int64 {
	start := time.Now()

	removed, err := w.sessions.ExpireStale(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("session sweep failed", slog.String("error", err.Error()))
		}
		return 0
	}

	if removed > 0 {
		w.logger.Info("session sweep completed",
			slog.Int64("removed", removed),
			slog.Int64("durationMs", time.Since(start).Milliseconds()),
		)
	}
	return removed
}
