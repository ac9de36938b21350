package memory

import (
	"time"

	domain "github.com/hanko-field/bookings/internal/domain"
)

func cloneCoupon(c domain.Coupon) domain.Coupon {
	c.ListingID = cloneString(c.ListingID)
	c.UsageLimit = cloneInt(c.UsageLimit)
	c.PerCustomerLimit = cloneInt(c.PerCustomerLimit)
	return c
}

func cloneListing(l domain.Listing) domain.Listing {
	if l.ClosedWeekday != nil {
		day := *l.ClosedWeekday
		l.ClosedWeekday = &day
	}
	l.Services = append([]domain.ListingService(nil), l.Services...)
	return l
}

func cloneBooking(b domain.Booking) domain.Booking {
	b.CustomerID = cloneString(b.CustomerID)
	if b.Coupon != nil {
		applied := *b.Coupon
		b.Coupon = &applied
	}
	b.ProviderPaymentID = cloneString(b.ProviderPaymentID)
	b.ProviderSignature = cloneString(b.ProviderSignature)
	b.PaidAt = cloneTime(b.PaidAt)
	b.CancelledAt = cloneTime(b.CancelledAt)
	b.CompletedAt = cloneTime(b.CompletedAt)
	b.RefundedAt = cloneTime(b.RefundedAt)
	return b
}

func clonePayment(p domain.Payment) domain.Payment {
	p.PaymentRef = cloneString(p.PaymentRef)
	p.RefundRef = cloneString(p.RefundRef)
	if p.Method != nil {
		method := *p.Method
		p.Method = &method
	}
	p.AuthorizedAt = cloneTime(p.AuthorizedAt)
	p.CapturedAt = cloneTime(p.CapturedAt)
	p.FailedAt = cloneTime(p.FailedAt)
	p.RefundedAt = cloneTime(p.RefundedAt)
	return p
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
