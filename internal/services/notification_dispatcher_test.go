package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/bookings/internal/domain"
	"github.com/hanko-field/bookings/internal/repositories/memory"
)

type blockingNotifier struct {
	release chan struct{}
}

func (n blockingNotifier) SendBookingConfirmation(ctx context.Context, _ Booking, _ Listing) error {
	select {
	case <-n.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (blockingNotifier) SendOwnerNotification(context.Context, Booking, Listing) error { return nil }

type panickingNotifier struct {
	owner chan struct{}
}

func (panickingNotifier) SendBookingConfirmation(context.Context, Booking, Listing) error {
	panic("template missing")
}

func (n panickingNotifier) SendOwnerNotification(context.Context, Booking, Listing) error {
	close(n.owner)
	return nil
}

func TestNotificationDispatcherSurvivesCallerCancellation(t *testing.T) {
	store := memory.New()
	store.PutListing(domain.Listing{ID: "lst_1", Name: "Glow Studio"})
	notifier := &recordingNotifier{}
	dispatcher := NewNotificationDispatcher(NotificationDispatcherDeps{Notifier: notifier, Listings: store.Listings()})

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Dispatch(ctx, Booking{ID: "bkg_1", ListingID: "lst_1"})
	cancel()

	waitCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := dispatcher.Wait(waitCtx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if customer, owner := notifier.counts(); customer != 1 || owner != 1 {
		t.Fatalf("expected both notifications after the request ended, got %d/%d", customer, owner)
	}
}

func TestNotificationDispatcherLogsFailuresAndContinues(t *testing.T) {
	store := memory.New()
	store.PutListing(domain.Listing{ID: "lst_1"})
	notifier := &recordingNotifier{failFirst: true}
	logs := &recordingLogger{}
	dispatcher := NewNotificationDispatcher(NotificationDispatcherDeps{Notifier: notifier, Listings: store.Listings(), Logger: logs.log})

	dispatcher.Dispatch(context.Background(), Booking{ID: "bkg_1", ListingID: "lst_1"})
	dispatcher.Dispatch(context.Background(), Booking{ID: "bkg_2", ListingID: "lst_missing"})
	if err := dispatcher.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if _, owner := notifier.counts(); owner != 1 {
		t.Fatalf("owner notification must still be attempted after a customer failure, got %d", owner)
	}

	stages := map[string]bool{}
	for _, entry := range logs.entries {
		if entry.event == "notification.failed" {
			stages[entry.fields["stage"].(string)] = true
		}
	}
	if !stages["customer_confirmation"] || !stages["load_listing"] {
		t.Fatalf("expected failures to be logged per stage, got %v", stages)
	}
}

func TestNotificationDispatcherRecoversNotifierPanic(t *testing.T) {
	store := memory.New()
	store.PutListing(domain.Listing{ID: "lst_1"})
	logs := &recordingLogger{}
	notifier := panickingNotifier{owner: make(chan struct{})}
	dispatcher := NewNotificationDispatcher(NotificationDispatcherDeps{Notifier: notifier, Listings: store.Listings(), Logger: logs.log})

	dispatcher.Dispatch(context.Background(), Booking{ID: "bkg_1", ListingID: "lst_1"})
	waitCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := dispatcher.Wait(waitCtx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	select {
	case <-notifier.owner:
	default:
		t.Fatalf("owner notification must still be sent after a customer send panics")
	}

	logs.mu.Lock()
	defer logs.mu.Unlock()
	for _, entry := range logs.entries {
		if entry.event == "notification.failed" && entry.fields["panic"] == true {
			if entry.fields["stage"] != "customer_confirmation" || entry.fields["error"] != "template missing" || entry.fields["bookingId"] != "bkg_1" {
				t.Fatalf("unexpected panic log %+v", entry.fields)
			}
			return
		}
	}
	t.Fatalf("expected recovered panic to be logged, got %+v", logs.entries)
}

func TestNotificationDispatcherWaitHonoursContext(t *testing.T) {
	notifier := blockingNotifier{release: make(chan struct{})}
	dispatcher := NewNotificationDispatcher(NotificationDispatcherDeps{Notifier: notifier, Timeout: time.Minute})
	dispatcher.Dispatch(context.Background(), Booking{ID: "bkg_1"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := dispatcher.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected interrupted drain, got %v", err)
	}
	close(notifier.release)
	if err := dispatcher.Wait(context.Background()); err != nil {
		t.Fatalf("wait after release: %v", err)
	}
}

func TestNilNotificationDispatcherIsSafe(t *testing.T) {
	var dispatcher *NotificationDispatcher
	dispatcher.Dispatch(context.Background(), Booking{ID: "bkg_1"})
	if err := dispatcher.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
}
