package worker

import (
	"context"
	"log/slog"
	"time"
)

type Cleaner interface {
	CleanupResolvedOlderThan(ctx context.Context, days int) (int, error)
}

// CleanupWorker periodically drops resolved failure records that are
// older than a retention window.
type CleanupWorker struct {
	store    Cleaner
	interval time.Duration
	days     func() int
}

func NewCleanupWorker(store Cleaner, interval time.Duration, days func() int) *CleanupWorker {
	return &CleanupWorker{
		store:    store,
		interval: interval,
		days:     days,
	}
}

// Start blocks until ctx is done. A non-positive interval disables the
// worker; a non-positive retention skips the tick.
func (w *CleanupWorker) Start(ctx context.Context) {
	if w.interval <= 0 {
		slog.Info("cleanup worker disabled")
		return
	}

	slog.Info("starting cleanup worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	days := w.days()
	if days <= 0 {
		return
	}

	removed, err := w.store.CleanupResolvedOlderThan(ctx, days)
	if err != nil {
		slog.Error("failure cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("old resolved failures removed", "count", removed, "days", days)
	}
}
