package workspace

import (
	"context"
	"log/slog"
	"time"
)

const defaultTTLWorkerInterval = 5 * time.Minute

// TTLConfig controls StartTTLWorker.
type TTLConfig struct {
	// WorkspaceTTL is how long an unused workspace stays in memory.
	WorkspaceTTL time.Duration
	// HistoryTTL is how long persisted sessions survive without updates.
	HistoryTTL time.Duration
	Interval   time.Duration
	// OnEvict, if set, is called with each evicted client ID.
	OnEvict func(clientID string)
}

// StartTTLWorker runs a background goroutine that periodically evicts idle
// workspaces and deletes expired history.
func StartTTLWorker(ctx context.Context, reg *Registry, cfg TTLConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultTTLWorkerInterval
	}
	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", cfg.Interval, "workspace_ttl", cfg.WorkspaceTTL, "history_ttl", cfg.HistoryTTL)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, reg, cfg)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, reg *Registry, cfg TTLConfig) {
	if cfg.WorkspaceTTL > 0 {
		evicted := reg.EvictIdle(cfg.WorkspaceTTL)
		for _, id := range evicted {
			if cfg.OnEvict != nil {
				cfg.OnEvict(id)
			}
		}
		if len(evicted) > 0 {
			slog.Info("TTL worker evicted idle workspaces", "count", len(evicted))
		}
	}

	if cfg.HistoryTTL <= 0 || reg.cfg.Repo == nil {
		return
	}
	deleted, err := reg.cfg.Repo.CleanupExpired(ctx, cfg.HistoryTTL)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("TTL worker: context canceled during history cleanup", "error", err)
			return
		}
		slog.Error("TTL worker failed to clean up expired history", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("TTL worker cleaned up expired sessions", "count", deleted)
	}
}
