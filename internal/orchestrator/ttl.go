package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/ashureev/ecoplan/internal/metrics"
	"github.com/ashureev/ecoplan/internal/shared"
)

const ttlWorkerInterval = 5 * time.Minute

var allStatuses = []domain.Status{
	domain.StatusCollecting,
	domain.StatusGenerating,
	domain.StatusAwaitingBlueprintConfirmation,
	domain.StatusGeneratingIsometric,
	domain.StatusComplete,
	domain.StatusFailed,
	domain.StatusHalted,
}

// StartTTLWorker runs a background goroutine that periodically deletes
// sessions idle for longer than ttl and closes their watchers. The same tick
// fails attempts abandoned by other instances.
func (o *Orchestrator) StartTTLWorker(ctx context.Context, ttl time.Duration) {
	ticker := time.NewTicker(ttlWorkerInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", ttlWorkerInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				o.cleanupExpiredSessions(ctx, ttl)
				if _, err := o.recoverStale(ctx); err != nil {
					slog.Error("TTL worker failed to recover stale attempts", "error", err)
				}
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (o *Orchestrator) cleanupExpiredSessions(ctx context.Context, ttl time.Duration) int {
	sessions, err := o.repo.ListByStatus(ctx, allStatuses...)
	if err != nil {
		slog.Error("TTL worker failed to list sessions", "error", err)
		return 0
	}

	cutoff := o.now().Add(-ttl)
	cleaned := 0
	for _, s := range sessions {
		if !s.UpdatedAt.Before(cutoff) {
			continue
		}
		if o.expire(ctx, s.SessionID, cutoff) {
			cleaned++
		}
	}
	if cleaned > 0 {
		metrics.SessionsExpired.Add(float64(cleaned))
		slog.Info("TTL worker cleanup completed", "cleaned", cleaned)
	}

	// Catches records the listing could not see, such as orphaned logs.
	if deleted, err := o.repo.DeleteExpired(ctx, ttl); err != nil {
		slog.Error("TTL worker failed to delete expired records", "error", err)
	} else if deleted > 0 {
		slog.Info("TTL worker deleted expired records", "count", deleted)
	}
	return cleaned
}

// expire deletes one session if it is still idle past cutoff once its lock
// is held.
func (o *Orchestrator) expire(ctx context.Context, sessionID string, cutoff time.Time) bool {
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	s, err := o.repo.Get(ctx, sessionID)
	if err != nil || !s.UpdatedAt.Before(cutoff) {
		return false
	}
	slog.Info("TTL worker expiring session", "session_id", sessionID, "status", s.Status, "idle", o.now().Sub(s.UpdatedAt))

	o.hub.CloseSession(sessionID)
	err = shared.RetryOnSQLiteConflict(ctx, "delete session", 3, 100*time.Millisecond, func() error {
		return o.repo.Delete(ctx, sessionID)
	})
	if err != nil {
		slog.Warn("TTL worker failed to delete session after retries", "session_id", sessionID, "error", err)
		return false
	}
	return true
}
