package notifications

import (
	"context"
	"strings"

	domain "github.com/hanko-field/bookings/internal/domain"
)

// JobPublisher enqueues a payload on a topic. jobs.PubSubPublisher satisfies it.
type JobPublisher interface {
	Publish(ctx context.Context, payload any, attrs map[string]string, orderingKey string) (string, error)
}

// CustomerConfirmationJob asks the messaging worker to email or text a customer.
type CustomerConfirmationJob struct {
	Kind           string `json:"kind"`
	BookingID      string `json:"bookingId"`
	Reference      string `json:"reference"`
	CustomerName   string `json:"customerName"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	ListingName    string `json:"listingName"`
	ServiceTitle   string `json:"serviceTitle"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	Timezone       string `json:"timezone,omitempty"`
	AmountPaid     string `json:"amountPaid"`
	AmountAtVenue  string `json:"amountAtVenue,omitempty"`
	CouponCode     string `json:"couponCode,omitempty"`
	IdempotencyKey string `json:"idempotencyKey"`
}

const confirmationJobKind = "booking_confirmation"

// CustomerJobs hands confirmations to the messaging worker through Pub/Sub.
type CustomerJobs struct {
	publisher JobPublisher
}

// NewCustomerJobs returns nil when publisher is nil so callers can pass the
// result straight to NewNotifier.
func NewCustomerJobs(publisher JobPublisher) Sender {
	if publisher == nil {
		return nil
	}
	return &CustomerJobs{publisher: publisher}
}

// Name implements Sender.
func (c *CustomerJobs) Name() string { return "customer_pubsub" }

// Send implements Sender.
func (c *CustomerJobs) Send(ctx context.Context, booking domain.Booking, listing domain.Listing) error {
	email := strings.TrimSpace(booking.Contact.Email)
	phone := strings.TrimSpace(booking.Contact.Phone)
	if email == "" && phone == "" {
		return ErrNoRecipient
	}

	job := CustomerConfirmationJob{
		Kind:           confirmationJobKind,
		BookingID:      booking.ID,
		Reference:      booking.Reference,
		CustomerName:   booking.Contact.Name,
		Email:          email,
		Phone:          phone,
		ListingName:    listing.Name,
		ServiceTitle:   booking.Service.Title,
		Date:           booking.Schedule.Date.String(),
		Time:           booking.Schedule.Time,
		Timezone:       listing.Timezone,
		AmountPaid:     formatAmount(booking.Pricing.AmountDueNow, booking.Pricing.Currency),
		IdempotencyKey: booking.ID + ":" + confirmationJobKind,
	}
	if booking.Pricing.AmountDeferred > 0 {
		job.AmountAtVenue = formatAmount(booking.Pricing.AmountDeferred, booking.Pricing.Currency)
	}
	if booking.Coupon != nil {
		job.CouponCode = booking.Coupon.Code
	}

	_, err := c.publisher.Publish(ctx, job, map[string]string{
		"kind":           confirmationJobKind,
		"bookingId":      booking.ID,
		"idempotencyKey": job.IdempotencyKey,
	}, "")
	return err
}
