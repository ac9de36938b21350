package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type scriptedSweepService struct {
	BookingService
	mu      sync.Mutex
	batches []int
	calls   []SweepCommand
	err     error
}

func (s *scriptedSweepService) SweepStalePending(_ context.Context, cmd SweepCommand) (SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, cmd)
	if s.err != nil {
		return SweepResult{}, s.err
	}
	var n int
	if len(s.batches) > 0 {
		n, s.batches = s.batches[0], s.batches[1:]
	}
	result := SweepResult{Scanned: n}
	for i := 0; i < n; i++ {
		result.Cancelled = append(result.Cancelled, "bkg")
	}
	return result, nil
}

func TestBookingSweeperDrainsFullBatches(t *testing.T) {
	svc := &scriptedSweepService{batches: []int{2, 2, 1}}
	sweeper, err := NewBookingSweeper(svc, BookingSweeperConfig{Interval: time.Minute, OlderThan: time.Hour, Batch: 2})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	sweeper.sweep(context.Background())

	if len(svc.calls) != 3 {
		t.Fatalf("expected sweep to repeat while batches are full, got %d calls", len(svc.calls))
	}
	if svc.calls[0].OlderThan != time.Hour || svc.calls[0].Limit != 2 {
		t.Fatalf("unexpected sweep command %+v", svc.calls[0])
	}
}

func TestBookingSweeperLogsErrors(t *testing.T) {
	logs := &recordingLogger{}
	svc := &scriptedSweepService{err: errors.New("firestore unavailable")}
	sweeper, err := NewBookingSweeper(svc, BookingSweeperConfig{Interval: time.Minute, Batch: 10, Logger: logs.log})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	sweeper.sweep(context.Background())
	if len(svc.calls) != 1 || !logs.has("booking.sweep.error") {
		t.Fatalf("expected a single logged failure, got %d calls", len(svc.calls))
	}
}

func TestBookingSweeperRunStopsWithContext(t *testing.T) {
	svc := &scriptedSweepService{}
	sweeper, err := NewBookingSweeper(svc, BookingSweeperConfig{Interval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		svc.mu.Lock()
		n := len(svc.calls)
		svc.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("sweeper never ran")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("sweeper did not stop after cancellation")
	}
}

func TestNewBookingSweeperValidation(t *testing.T) {
	if _, err := NewBookingSweeper(nil, BookingSweeperConfig{Interval: time.Minute}); err == nil {
		t.Fatalf("expected error without service")
	}
	if _, err := NewBookingSweeper(&scriptedSweepService{}, BookingSweeperConfig{}); err == nil {
		t.Fatalf("expected error without interval")
	}
}
