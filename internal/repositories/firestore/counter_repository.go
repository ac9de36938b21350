package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/bookings/internal/platform/firestore"
	"github.com/hanko-field/bookings/internal/repositories"
)

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository allocates booking reference sequences with transactional increments.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
	ceiling  int64
	now      func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Firestore-backed counter repository. Newly
// created counters are capped at ceiling when it is positive.
func NewCounterRepository(provider *pfirestore.Provider, ceiling int64) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
		ceiling:  ceiling,
		now:      time.Now,
	}, nil
}

// Next atomically advances counterID by step (1 when zero) and returns the new value.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	const op = "counters.next"
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(op, repositories.CounterErrorInvalidInput, "counter id is required")
	}
	if step < 0 {
		return 0, repositories.NewCounterError(op, repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step))
	}
	if step == 0 {
		step = 1
	}

	var next int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, ref, err := r.counters.TxGet(ctx, tx, id)
		switch {
		case err == nil:
		case repositories.IsNotFound(err):
			doc = counterDocument{}
			if r.ceiling > 0 {
				ceiling := r.ceiling
				doc.MaxValue = &ceiling
			}
		default:
			return err
		}

		value := doc.CurrentValue + step
		if doc.MaxValue != nil && value > *doc.MaxValue {
			return repositories.NewCounterError(op, repositories.CounterErrorExhausted, fmt.Sprintf("counter %s exceeded max value %d", id, *doc.MaxValue))
		}
		doc.CurrentValue = value
		doc.UpdatedAt = r.now().UTC()
		next = value
		return tx.Set(ref, doc)
	})
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return 0, counterErr
		}
		return 0, pfirestore.WrapError(op, err)
	}
	return next, nil
}
