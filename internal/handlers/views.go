package handlers

import (
	"time"

	domain "github.com/hanko-field/bookings/internal/domain"
	"github.com/hanko-field/bookings/internal/services"
)

type pricingView struct {
	Currency       string `json:"currency"`
	OriginalAmount int64  `json:"originalAmount"`
	DiscountAmount int64  `json:"discountAmount"`
	BaseAmount     int64  `json:"baseAmount"`
	TaxAmount      int64  `json:"taxAmount"`
	FinalAmount    int64  `json:"finalAmount"`
	AmountDueNow   int64  `json:"amountDueNow"`
	AmountDeferred int64  `json:"amountDeferred"`
	TaxRateBPS     int64  `json:"taxRateBps"`
	BookingFee     int64  `json:"bookingFee,omitempty"`
}

type serviceView struct {
	ServiceID       string `json:"serviceId"`
	Title           string `json:"title"`
	UnitPrice       int64  `json:"unitPrice"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
}

type scheduleView struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type appliedCouponView struct {
	Code           string `json:"code"`
	DiscountAmount int64  `json:"discountAmount"`
}

type couponRemovedView struct {
	Code    string `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type quoteView struct {
	ListingID     string             `json:"listingId"`
	Service       serviceView        `json:"service"`
	Schedule      scheduleView       `json:"schedule"`
	PaymentMode   string             `json:"paymentMode"`
	Coupon        *appliedCouponView `json:"coupon,omitempty"`
	CouponRemoved *couponRemovedView `json:"couponRemoved,omitempty"`
	Pricing       pricingView        `json:"pricing"`
}

type bookingView struct {
	ID                 string             `json:"id"`
	Reference          string             `json:"reference"`
	ListingID          string             `json:"listingId"`
	Status             string             `json:"status"`
	PaymentStatus      string             `json:"paymentStatus"`
	PaymentMode        string             `json:"paymentMode"`
	Service            serviceView        `json:"service"`
	Schedule           scheduleView       `json:"schedule"`
	Coupon             *appliedCouponView `json:"coupon,omitempty"`
	Pricing            pricingView        `json:"pricing"`
	Provider           string             `json:"provider,omitempty"`
	ProviderOrderID    string             `json:"providerOrderId,omitempty"`
	CancellationReason string             `json:"cancellationReason,omitempty"`
	PaidAt             string             `json:"paidAt,omitempty"`
	CancelledAt        string             `json:"cancelledAt,omitempty"`
	CompletedAt        string             `json:"completedAt,omitempty"`
	RefundedAt         string             `json:"refundedAt,omitempty"`
	CreatedAt          string             `json:"createdAt"`
	UpdatedAt          string             `json:"updatedAt"`
}

type paymentView struct {
	ID             string `json:"id"`
	Provider       string `json:"provider"`
	OrderRef       string `json:"orderRef"`
	PaymentRef     string `json:"paymentRef,omitempty"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	RefundedAmount int64  `json:"refundedAmount,omitempty"`
	Orphaned       bool   `json:"orphaned,omitempty"`
}

type checkoutView struct {
	Booking      bookingView `json:"booking"`
	Payment      paymentView `json:"payment"`
	ClientSecret string      `json:"clientSecret,omitempty"`
}

type reconcileView struct {
	Outcome string      `json:"outcome"`
	Booking bookingView `json:"booking"`
}

type couponView struct {
	ID               string  `json:"id"`
	Code             string  `json:"code"`
	DiscountType     string  `json:"discountType"`
	Value            int64   `json:"value"`
	Scope            string  `json:"scope"`
	ListingID        *string `json:"listingId,omitempty"`
	ValidFrom        string  `json:"validFrom"`
	ValidUntil       string  `json:"validUntil"`
	UsageLimit       *int64  `json:"usageLimit,omitempty"`
	UsedCount        int64   `json:"usedCount"`
	PerCustomerLimit *int64  `json:"perCustomerLimit,omitempty"`
	MinOrderAmount   int64   `json:"minOrderAmount"`
	IsActive         bool    `json:"isActive"`
}

func newPricingView(p domain.PricingSnapshot) pricingView {
	return pricingView{
		Currency:       p.Currency,
		OriginalAmount: p.OriginalAmount,
		DiscountAmount: p.DiscountAmount,
		BaseAmount:     p.BaseAmount,
		TaxAmount:      p.TaxAmount,
		FinalAmount:    p.FinalAmount,
		AmountDueNow:   p.AmountDueNow,
		AmountDeferred: p.AmountDeferred,
		TaxRateBPS:     p.TaxRateBPS,
		BookingFee:     p.BookingFee,
	}
}

func newServiceView(s domain.ServiceSnapshot) serviceView {
	return serviceView{
		ServiceID:       s.ServiceID,
		Title:           s.Title,
		UnitPrice:       s.UnitPrice,
		DurationMinutes: s.DurationMinutes,
	}
}

func newScheduleView(s domain.Schedule) scheduleView {
	return scheduleView{Date: s.Date.String(), Time: s.Time}
}

func newAppliedCouponView(c *domain.AppliedCoupon) *appliedCouponView {
	if c == nil {
		return nil
	}
	return &appliedCouponView{Code: c.Code, DiscountAmount: c.DiscountAmount}
}

func newQuoteView(q services.BookingQuote) quoteView {
	view := quoteView{
		ListingID:   q.ListingID,
		Service:     newServiceView(q.Service),
		Schedule:    newScheduleView(q.Schedule),
		PaymentMode: string(q.Mode),
		Coupon:      newAppliedCouponView(q.Coupon),
		Pricing:     newPricingView(q.Pricing),
	}
	if q.CouponRemoved != nil {
		view.CouponRemoved = &couponRemovedView{
			Code:    q.CouponRemoved.Code,
			Reason:  string(q.CouponRemoved.Reason),
			Message: q.CouponRemoved.Message,
		}
	}
	return view
}

func newBookingView(b domain.Booking) bookingView {
	return bookingView{
		ID:                 b.ID,
		Reference:          b.Reference,
		ListingID:          b.ListingID,
		Status:             string(b.Status),
		PaymentStatus:      string(b.PaymentStatus),
		PaymentMode:        string(b.Mode),
		Service:            newServiceView(b.Service),
		Schedule:           newScheduleView(b.Schedule),
		Coupon:             newAppliedCouponView(b.Coupon),
		Pricing:            newPricingView(b.Pricing),
		Provider:           b.Provider,
		ProviderOrderID:    b.ProviderOrderID,
		CancellationReason: b.CancellationReason,
		PaidAt:             formatTimePtr(b.PaidAt),
		CancelledAt:        formatTimePtr(b.CancelledAt),
		CompletedAt:        formatTimePtr(b.CompletedAt),
		RefundedAt:         formatTimePtr(b.RefundedAt),
		CreatedAt:          formatTime(b.CreatedAt),
		UpdatedAt:          formatTime(b.UpdatedAt),
	}
}

func newPaymentView(p domain.Payment) paymentView {
	view := paymentView{
		ID:             p.ID,
		Provider:       p.Provider,
		OrderRef:       p.OrderRef,
		Status:         string(p.Status),
		Amount:         p.Amount,
		Currency:       p.Currency,
		RefundedAmount: p.RefundedAmount,
		Orphaned:       p.Orphaned,
	}
	if p.PaymentRef != nil {
		view.PaymentRef = *p.PaymentRef
	}
	return view
}

func newCheckoutView(c services.BookingCheckout) checkoutView {
	return checkoutView{
		Booking:      newBookingView(c.Booking),
		Payment:      newPaymentView(c.Payment),
		ClientSecret: c.ClientSecret,
	}
}

func newCouponView(c domain.Coupon) couponView {
	return couponView{
		ID:               c.ID,
		Code:             c.Code,
		DiscountType:     string(c.DiscountType),
		Value:            c.Value,
		Scope:            string(c.Scope),
		ListingID:        c.ListingID,
		ValidFrom:        c.ValidFrom.String(),
		ValidUntil:       c.ValidUntil.String(),
		UsageLimit:       c.UsageLimit,
		UsedCount:        c.UsedCount,
		PerCustomerLimit: c.PerCustomerLimit,
		MinOrderAmount:   c.MinOrderAmount,
		IsActive:         c.IsActive,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
