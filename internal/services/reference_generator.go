package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hanko-field/bookings/internal/repositories"
)

var (
	// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted indicates the yearly reference sequence ran out.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

const bookingCounterScope = "bookings"

// ReferenceGeneratorDeps bundles collaborators required to construct a reference generator.
type ReferenceGeneratorDeps struct {
	Counters repositories.CounterRepository
	Clock    func() time.Time
	// Location decides which calendar year a reference belongs to. Defaults to UTC.
	Location *time.Location
}

type referenceGenerator struct {
	counters repositories.CounterRepository
	clock    func() time.Time
	location *time.Location
}

// NewReferenceGenerator returns a generator of BK-<year>-<sequence> booking references.
func NewReferenceGenerator(deps ReferenceGeneratorDeps) (ReferenceGenerator, error) {
	if deps.Counters == nil {
		return nil, errors.New("reference generator: counter repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &referenceGenerator{counters: deps.Counters, clock: clock, location: loc}, nil
}

func (g *referenceGenerator) NextBookingReference(ctx context.Context) (string, error) {
	year := g.clock().In(g.location).Year()
	counterID := fmt.Sprintf("%s:%04d", bookingCounterScope, year)

	seq, err := g.counters.Next(ctx, counterID, 1)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			switch counterErr.Code {
			case repositories.CounterErrorInvalidInput:
				return "", fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
			case repositories.CounterErrorExhausted:
				return "", fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
			}
		}
		return "", err
	}
	return formatBookingReference(year, seq), nil
}

func formatBookingReference(year int, seq int64) string {
	return fmt.Sprintf("BK-%04d-%06d", year, seq)
}
