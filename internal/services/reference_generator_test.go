package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hanko-field/bookings/internal/repositories"
)

type stubCounterRepository struct {
	mu     sync.Mutex
	nextFn func(context.Context, string, int64) (int64, error)
	calls  []string
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	s.mu.Lock()
	s.calls = append(s.calls, counterID)
	s.mu.Unlock()
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 0, nil
}

func TestReferenceGeneratorFormatsYearlySequence(t *testing.T) {
	repo := &stubCounterRepository{nextFn: func(context.Context, string, int64) (int64, error) {
		return 42, nil
	}}
	gen, err := NewReferenceGenerator(ReferenceGeneratorDeps{Counters: repo, Clock: func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}})
	if err != nil {
		t.Fatalf("new reference generator: %v", err)
	}

	ref, err := gen.NextBookingReference(context.Background())
	if err != nil {
		t.Fatalf("next reference: %v", err)
	}
	if ref != "BK-2025-000042" {
		t.Fatalf("expected BK-2025-000042, got %s", ref)
	}
	if len(repo.calls) != 1 || repo.calls[0] != "bookings:2025" {
		t.Fatalf("unexpected counter calls %v", repo.calls)
	}
}

func TestReferenceGeneratorUsesConfiguredLocationForYear(t *testing.T) {
	repo := &stubCounterRepository{nextFn: func(context.Context, string, int64) (int64, error) { return 1, nil }}
	ahead := time.FixedZone("UTC+5:30", 5*3600+1800)
	gen, err := NewReferenceGenerator(ReferenceGeneratorDeps{
		Counters: repo,
		Location: ahead,
		Clock: func() time.Time {
			return time.Date(2024, 12, 31, 20, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("new reference generator: %v", err)
	}
	ref, err := gen.NextBookingReference(context.Background())
	if err != nil {
		t.Fatalf("next reference: %v", err)
	}
	if ref != "BK-2025-000001" {
		t.Fatalf("expected local new year reference, got %s", ref)
	}
}

func TestReferenceGeneratorMapsCounterErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "exhausted", err: repositories.NewCounterError("counters.next", repositories.CounterErrorExhausted, "max reached"), want: ErrCounterExhausted},
		{name: "invalid", err: repositories.NewCounterError("counters.next", repositories.CounterErrorInvalidInput, "bad id"), want: ErrCounterInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubCounterRepository{nextFn: func(context.Context, string, int64) (int64, error) { return 0, tc.err }}
			gen, err := NewReferenceGenerator(ReferenceGeneratorDeps{Counters: repo})
			if err != nil {
				t.Fatalf("new reference generator: %v", err)
			}
			if _, err := gen.NextBookingReference(context.Background()); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	passthrough := errors.New("datastore down")
	repo := &stubCounterRepository{nextFn: func(context.Context, string, int64) (int64, error) { return 0, passthrough }}
	gen, _ := NewReferenceGenerator(ReferenceGeneratorDeps{Counters: repo})
	if _, err := gen.NextBookingReference(context.Background()); !errors.Is(err, passthrough) {
		t.Fatalf("expected passthrough error, got %v", err)
	}
}

func TestNewReferenceGeneratorRequiresRepository(t *testing.T) {
	if _, err := NewReferenceGenerator(ReferenceGeneratorDeps{}); err == nil {
		t.Fatalf("expected error without counter repository")
	}
}
