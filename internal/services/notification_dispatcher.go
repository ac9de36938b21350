package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hanko-field/bookings/internal/repositories"
)

const defaultNotificationTimeout = 30 * time.Second

// NotificationDispatcherDeps bundles collaborators for the confirmation fan-out.
type NotificationDispatcherDeps struct {
	Notifier BookingNotifier
	Listings repositories.ListingRepository
	Timeout  time.Duration
	Logger   Logger
}

// NotificationDispatcher sends confirmation messages in the background. Send
// failures are logged and never reach the caller.
type NotificationDispatcher struct {
	notifier BookingNotifier
	listings repositories.ListingRepository
	timeout  time.Duration
	logger   Logger
	wg       sync.WaitGroup
}

// NewNotificationDispatcher returns a dispatcher. A nil notifier disables sending.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) *NotificationDispatcher {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultNotificationTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &NotificationDispatcher{
		notifier: deps.Notifier,
		listings: deps.Listings,
		timeout:  timeout,
		logger:   logger,
	}
}

// Dispatch notifies the customer and the listing owner about a confirmed booking.
// It returns immediately; the sends run detached from ctx's cancellation.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, booking Booking) {
	if d == nil || d.notifier == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				d.logger(sendCtx, "notification.failed", map[string]any{
					"bookingId": booking.ID,
					"stage":     "dispatch",
					"error":     fmt.Sprint(r),
					"panic":     true,
					"stack":     string(debug.Stack()),
				})
			}
		}()
		d.send(sendCtx, booking)
	}()
}

func (d *NotificationDispatcher) send(ctx context.Context, booking Booking) {
	var listing Listing
	if d.listings != nil {
		loaded, err := d.listings.FindByID(ctx, booking.ListingID)
		if err != nil {
			d.logger(ctx, "notification.failed", map[string]any{
				"bookingId": booking.ID,
				"stage":     "load_listing",
				"error":     err.Error(),
			})
			return
		}
		listing = loaded
	} else {
		listing.ID = booking.ListingID
	}

	d.attempt(ctx, booking.ID, "customer_confirmation", func() error {
		return d.notifier.SendBookingConfirmation(ctx, booking, listing)
	})
	d.attempt(ctx, booking.ID, "owner_notification", func() error {
		return d.notifier.SendOwnerNotification(ctx, booking, listing)
	})
}

// attempt runs one send and logs its error or panic under stage.
func (d *NotificationDispatcher) attempt(ctx context.Context, bookingID, stage string, send func() error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger(ctx, "notification.failed", map[string]any{
				"bookingId": bookingID,
				"stage":     stage,
				"error":     fmt.Sprint(r),
				"panic":     true,
				"stack":     string(debug.Stack()),
			})
		}
	}()
	if err := send(); err != nil {
		d.logger(ctx, "notification.failed", map[string]any{
			"bookingId": bookingID,
			"stage":     stage,
			"error":     err.Error(),
		})
	}
}

// Wait blocks until every dispatched notification finished or ctx is done.
func (d *NotificationDispatcher) Wait(ctx context.Context) error {
	if d == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("notification dispatcher: drain interrupted"), ctx.Err())
	}
}
