// Package notifications delivers booking confirmations to customers and new
// booking alerts to listing owners.
package notifications

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/hanko-field/bookings/internal/domain"
)

// Sender delivers one message about a booking over one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, booking domain.Booking, listing domain.Listing) error
}

// ErrNoRecipient marks a channel that has nobody to deliver to. Fan-out treats it as a skip.
var ErrNoRecipient = errors.New("notifications: no recipient")

// Notifier fans a confirmed booking out to customer and owner channels.
type Notifier struct {
	customer []Sender
	owner    []Sender
}

// NewNotifier builds a Notifier. Nil senders are ignored.
func NewNotifier(customer []Sender, owner []Sender) *Notifier {
	return &Notifier{customer: compact(customer), owner: compact(owner)}
}

// SendBookingConfirmation implements services.BookingNotifier.
func (n *Notifier) SendBookingConfirmation(ctx context.Context, booking domain.Booking, listing domain.Listing) error {
	return fanOut(ctx, n.customer, booking, listing)
}

// SendOwnerNotification implements services.BookingNotifier.
func (n *Notifier) SendOwnerNotification(ctx context.Context, booking domain.Booking, listing domain.Listing) error {
	return fanOut(ctx, n.owner, booking, listing)
}

func fanOut(ctx context.Context, senders []Sender, booking domain.Booking, listing domain.Listing) error {
	var errs []error
	for _, sender := range senders {
		if err := sender.Send(ctx, booking, listing); err != nil && !errors.Is(err, ErrNoRecipient) {
			errs = append(errs, fmt.Errorf("%s: %w", sender.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func compact(senders []Sender) []Sender {
	out := make([]Sender, 0, len(senders))
	for _, s := range senders {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

var printer = message.NewPrinter(language.English)

// formatAmount renders minor units in the currency's standard precision,
// e.g. "INR 1,694.92".
func formatAmount(minor int64, code string) string {
	scale := 2
	if unit, err := currency.ParseISO(code); err == nil {
		s, _ := currency.Standard.Rounding(unit)
		scale = s
		code = unit.String()
	}
	major := decimal.New(minor, -int32(scale)).InexactFloat64()
	return printer.Sprintf(fmt.Sprintf("%%s %%.%df", scale), code, major)
}
