package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Cleaner periodically removes expired records from stores that do not expire
// them on their own.
type Cleaner struct {
	store    Store
	interval time.Duration
	batch    int
	logger   *zap.Logger
	now      func() time.Time
}

// NewCleaner builds a Cleaner. A non-positive interval disables Run.
func NewCleaner(store Store, interval time.Duration, batch int, logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{store: store, interval: interval, batch: batch, logger: logger, now: time.Now}
}

// Run blocks until ctx is cancelled, cleaning once per interval.
func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.store == nil || c.interval <= 0 {
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single bounded cleanup pass.
func (c *Cleaner) RunOnce(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	removed, err := c.store.CleanupExpired(runCtx, c.now().UTC(), c.batch)
	if err != nil {
		c.logger.Error("idempotency cleanup failed", zap.Error(err))
		return 0
	}
	if removed > 0 {
		c.logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
	}
	return removed
}
