package services

import (
	"context"
	"errors"
	"time"
)

// BookingSweeper periodically cancels bookings that never received a payment signal.
type BookingSweeper struct {
	bookings  BookingService
	interval  time.Duration
	olderThan time.Duration
	batch     int
	logger    Logger
}

// BookingSweeperConfig controls the sweep cadence.
type BookingSweeperConfig struct {
	Interval  time.Duration
	OlderThan time.Duration
	Batch     int
	Logger    Logger
}

// NewBookingSweeper returns a sweeper over svc.
func NewBookingSweeper(svc BookingService, cfg BookingSweeperConfig) (*BookingSweeper, error) {
	if svc == nil {
		return nil, errors.New("booking sweeper: booking service is required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("booking sweeper: interval must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &BookingSweeper{
		bookings:  svc,
		interval:  cfg.Interval,
		olderThan: cfg.OlderThan,
		batch:     cfg.Batch,
		logger:    logger,
	}, nil
}

// Run sweeps once per interval until ctx is cancelled.
func (w *BookingSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *BookingSweeper) sweep(ctx context.Context) {
	for {
		result, err := w.bookings.SweepStalePending(ctx, SweepCommand{OlderThan: w.olderThan, Limit: w.batch})
		if err != nil {
			if ctx.Err() == nil {
				w.logger(ctx, "booking.sweep.error", map[string]any{"error": err.Error()})
			}
			return
		}
		// a full batch of cancellations means more may be waiting
		if w.batch <= 0 || len(result.Cancelled) < w.batch {
			return
		}
	}
}
