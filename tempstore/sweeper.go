package tempstore

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically removes expired entries from a Store.
type Sweeper struct {
	store    *Store
	logger   *slog.Logger
	interval time.Duration
}

// NewSweeper creates a Sweeper. Interval defaults to 1h.
func NewSweeper(store *Store, logger *slog.Logger, interval time.Duration) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{store: store, logger: logger, interval: interval}
}

// Run launches the periodic sweep. Blocks until ctx.Done().
func (sw *Sweeper) Run(ctx context.Context) {
	sw.logger.Info("sweeper: started", "interval", sw.interval)
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("sweeper: stopped")
			return
		case <-ticker.C:
			removed, err := sw.store.SweepExpired(ctx)
			if err != nil {
				sw.logger.Warn("sweeper: cycle failed", "error", err)
				continue
			}
			if removed > 0 {
				sw.logger.Info("sweeper: cycle done", "removed", removed)
			}
		}
	}
}
