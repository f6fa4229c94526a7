package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultExpiryInterval is how often the expiry worker sweeps.
const DefaultExpiryInterval = time.Minute

// orphanGrace bounds how long metadata of sessions not owned by this process
// (for example from before a restart) is kept.
const orphanGrace = 24 * time.Hour

// ExpiredSessionCleaner removes stale metadata rows.
type ExpiredSessionCleaner interface {
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)
}

// StartExpiryWorker runs a background goroutine that periodically closes
// sessions idle for longer than ttl. It stops when ctx is cancelled.
func StartExpiryWorker(ctx context.Context, mgr *Manager, cleaner ExpiredSessionCleaner, ttl, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultExpiryInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session expiry worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepExpired(ctx, mgr, cleaner, ttl)
			case <-ctx.Done():
				slog.Info("Session expiry worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpired(ctx context.Context, mgr *Manager, cleaner ExpiredSessionCleaner, ttl time.Duration) {
	if n := mgr.Sweep(ctx, ttl); n > 0 {
		slog.Info("Session expiry worker closed idle sessions", "count", n)
	}

	if cleaner == nil {
		return
	}
	grace := ttl
	if grace < orphanGrace {
		grace = orphanGrace
	}
	if deleted, err := cleaner.CleanupExpiredSessions(ctx, grace); err != nil {
		slog.Error("Session expiry worker failed to cleanup orphaned sessions", "error", err)
	} else if deleted > 0 {
		slog.Info("Session expiry worker cleaned up orphaned sessions", "count", deleted)
	}
}
