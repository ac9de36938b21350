package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/hanko-field/bookings/internal/domain"
	"github.com/hanko-field/bookings/internal/services"
)

type fakeCouponService struct {
	validateFn func(context.Context, services.ValidateCouponCommand) (services.CouponValidation, error)
	createFn   func(context.Context, services.CreateCouponCommand) (services.Coupon, error)
}

func (f *fakeCouponService) Validate(ctx context.Context, cmd services.ValidateCouponCommand) (services.CouponValidation, error) {
	return f.validateFn(ctx, cmd)
}

func (f *fakeCouponService) CreateCoupon(ctx context.Context, cmd services.CreateCouponCommand) (services.Coupon, error) {
	return f.createFn(ctx, cmd)
}

type fakeBookingService struct {
	quoteFn    func(context.Context, services.QuoteBookingCommand) (services.BookingQuote, error)
	createFn   func(context.Context, services.CreateBookingCommand) (services.BookingCheckout, error)
	getFn      func(context.Context, string) (services.Booking, error)
	cancelFn   func(context.Context, services.CancelBookingCommand) (services.Booking, error)
	completeFn func(context.Context, services.CompleteBookingCommand) (services.Booking, error)
	reissueFn  func(context.Context, services.ReissueOrderCommand) (services.BookingCheckout, error)
	sweepFn    func(context.Context, services.SweepCommand) (services.SweepResult, error)
}

func (f *fakeBookingService) QuoteBooking(ctx context.Context, cmd services.QuoteBookingCommand) (services.BookingQuote, error) {
	return f.quoteFn(ctx, cmd)
}

func (f *fakeBookingService) CreatePendingBooking(ctx context.Context, cmd services.CreateBookingCommand) (services.BookingCheckout, error) {
	return f.createFn(ctx, cmd)
}

func (f *fakeBookingService) GetBooking(ctx context.Context, id string) (services.Booking, error) {
	return f.getFn(ctx, id)
}

func (f *fakeBookingService) CancelPendingBooking(ctx context.Context, cmd services.CancelBookingCommand) (services.Booking, error) {
	return f.cancelFn(ctx, cmd)
}

func (f *fakeBookingService) CompleteBooking(ctx context.Context, cmd services.CompleteBookingCommand) (services.Booking, error) {
	return f.completeFn(ctx, cmd)
}

func (f *fakeBookingService) ReissuePaymentOrder(ctx context.Context, cmd services.ReissueOrderCommand) (services.BookingCheckout, error) {
	return f.reissueFn(ctx, cmd)
}

func (f *fakeBookingService) SweepStalePending(ctx context.Context, cmd services.SweepCommand) (services.SweepResult, error) {
	return f.sweepFn(ctx, cmd)
}

type fakeReconciler struct {
	verifyFn  func(context.Context, services.VerifyPaymentCommand) (services.ReconcileResult, error)
	webhookFn func(context.Context, services.HandleWebhookCommand) (services.ReconcileResult, error)
	refundFn  func(context.Context, services.RefundBookingCommand) (services.ReconcileResult, error)
}

func (f *fakeReconciler) VerifyClientPayment(ctx context.Context, cmd services.VerifyPaymentCommand) (services.ReconcileResult, error) {
	return f.verifyFn(ctx, cmd)
}

func (f *fakeReconciler) HandleWebhook(ctx context.Context, cmd services.HandleWebhookCommand) (services.ReconcileResult, error) {
	return f.webhookFn(ctx, cmd)
}

func (f *fakeReconciler) ApplyCapture(context.Context, services.CaptureSignal) (services.ReconcileResult, error) {
	return services.ReconcileResult{}, nil
}

func (f *fakeReconciler) ApplyFailure(context.Context, services.FailureSignal) (services.ReconcileResult, error) {
	return services.ReconcileResult{}, nil
}

func (f *fakeReconciler) ApplyRefund(context.Context, services.RefundSignal) (services.ReconcileResult, error) {
	return services.ReconcileResult{}, nil
}

func (f *fakeReconciler) RefundBooking(ctx context.Context, cmd services.RefundBookingCommand) (services.ReconcileResult, error) {
	return f.refundFn(ctx, cmd)
}

func sampleBooking(id string, customerID *string) domain.Booking {
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return domain.Booking{
		ID:         id,
		Reference:  "BK-2025-000001",
		ListingID:  "lst_1",
		CustomerID: customerID,
		Service:    domain.ServiceSnapshot{ServiceID: "svc_1", Title: "Massage", UnitPrice: 200000},
		Schedule:   domain.Schedule{Date: domain.Date{Year: 2025, Month: 3, Day: 14}, Time: "10:30"},
		Pricing: domain.PricingSnapshot{
			Currency:       "INR",
			OriginalAmount: 200000,
			BaseAmount:     169492,
			TaxAmount:      30508,
			FinalAmount:    200000,
			AmountDueNow:   200000,
			TaxRateBPS:     1800,
		},
		Mode:            domain.PaymentModeFull,
		Provider:        "gateway",
		ProviderOrderID: "order_1",
		PaymentStatus:   domain.PaymentStatusPending,
		Status:          domain.BookingStatusPending,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func strPtr(s string) *string { return &s }
