package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/sandwichfarm/strand/internal/config"
	"github.com/sandwichfarm/strand/internal/storage"
)

// RetentionManager prunes old events from the local cache. Events written by
// the protected authors (the user's own) are never pruned.
type RetentionManager struct {
	storage *storage.Storage
	config  *config.Retention
	logger  *Logger
	now     func() time.Time
}

// NewRetentionManager creates a new retention manager
func NewRetentionManager(st *storage.Storage, cfg *config.Retention, logger *Logger) *RetentionManager {
	return &RetentionManager{
		storage: st,
		config:  cfg,
		logger:  logger.WithComponent("retention"),
		now:     time.Now,
	}
}

// ShouldPruneOnStart returns true if pruning should run on startup
func (r *RetentionManager) ShouldPruneOnStart() bool {
	return r.config.PruneOnStart && r.config.KeepDays > 0
}

// PruneOldEvents applies the configured keep_days. It is a no-op when
// keep_days is zero.
func (r *RetentionManager) PruneOldEvents(ctx context.Context, protect ...string) (int64, error) {
	if r.config.KeepDays <= 0 {
		return 0, nil
	}
	return r.PruneBefore(ctx, r.now().AddDate(0, 0, -r.config.KeepDays), protect...)
}

// PruneBefore deletes cached events created before cutoff
func (r *RetentionManager) PruneBefore(ctx context.Context, cutoff time.Time, protect ...string) (int64, error) {
	start := time.Now()

	r.logger.Debug("starting cache pruning",
		"cutoff", cutoff.Format(time.RFC3339),
		"protected", len(protect))

	deleted, err := r.storage.DeleteEventsBefore(ctx, cutoff, protect...)
	if err != nil {
		r.logger.LogRetentionPrune(int(deleted), time.Since(start), err)
		return 0, fmt.Errorf("failed to prune old events: %w", err)
	}

	r.logger.LogRetentionPrune(int(deleted), time.Since(start), nil)
	return deleted, nil
}
