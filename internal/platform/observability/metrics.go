package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/bookings/internal/domain"
)

const meterName = "github.com/hanko-field/bookings"

// BookingMetrics records ledger counters through OpenTelemetry.
type BookingMetrics struct {
	created   metric.Int64Counter
	confirmed metric.Int64Counter
	cancelled metric.Int64Counter
	redeemed  metric.Int64Counter
	rejected  metric.Int64Counter
}

// NewBookingMetrics registers the booking counters on meter, falling back to the
// global meter provider.
func NewBookingMetrics(meter metric.Meter) (*BookingMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	var errs []error
	counter := func(name, description, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
		errs = append(errs, err)
		return c
	}
	m := &BookingMetrics{
		created:   counter("bookings.created", "Pending bookings created", "{booking}"),
		confirmed: counter("bookings.confirmed", "Bookings confirmed by a captured payment", "{booking}"),
		cancelled: counter("bookings.cancelled", "Bookings cancelled", "{booking}"),
		redeemed:  counter("coupons.redeemed", "Coupon redemptions applied at capture", "{redemption}"),
		rejected:  counter("payments.signature_rejected", "Payment signatures that failed verification", "{signature}"),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *BookingMetrics) BookingCreated(ctx context.Context, listingID string, mode domain.PaymentMode) {
	m.created.Add(ctx, 1, metric.WithAttributes(
		attribute.String("listing_id", listingID),
		attribute.String("payment_mode", string(mode)),
	))
}

func (m *BookingMetrics) BookingConfirmed(ctx context.Context, listingID string, paymentStatus domain.PaymentStatus) {
	m.confirmed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("listing_id", listingID),
		attribute.String("payment_status", string(paymentStatus)),
	))
}

func (m *BookingMetrics) BookingCancelled(ctx context.Context, listingID, reason string) {
	m.cancelled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("listing_id", listingID),
		attribute.String("reason", reason),
	))
}

func (m *BookingMetrics) CouponRedeemed(ctx context.Context, code string, limitReached bool) {
	m.redeemed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("coupon_code", code),
		attribute.Bool("limit_reached", limitReached),
	))
}

func (m *BookingMetrics) SignatureRejected(ctx context.Context, provider, channel string) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("channel", channel),
	))
}
