package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/bookings/internal/domain"
	"github.com/hanko-field/bookings/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Coupon          = domain.Coupon
	Listing         = domain.Listing
	Booking         = domain.Booking
	Payment         = domain.Payment
	PaymentMethod   = domain.PaymentMethod
	PricingSnapshot = domain.PricingSnapshot
	Contact         = domain.Contact
)

// CouponService validates coupon codes for customers and provisions new coupons.
type CouponService interface {
	Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponValidation, error)
	CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (Coupon, error)
}

// BookingService owns the booking lifecycle up to the payment hand-off.
type BookingService interface {
	QuoteBooking(ctx context.Context, cmd QuoteBookingCommand) (BookingQuote, error)
	CreatePendingBooking(ctx context.Context, cmd CreateBookingCommand) (BookingCheckout, error)
	GetBooking(ctx context.Context, bookingID string) (Booking, error)
	CancelPendingBooking(ctx context.Context, cmd CancelBookingCommand) (Booking, error)
	CompleteBooking(ctx context.Context, cmd CompleteBookingCommand) (Booking, error)
	ReissuePaymentOrder(ctx context.Context, cmd ReissueOrderCommand) (BookingCheckout, error)
	SweepStalePending(ctx context.Context, cmd SweepCommand) (SweepResult, error)
}

// PaymentReconciler applies provider signals to the ledger exactly once.
type PaymentReconciler interface {
	VerifyClientPayment(ctx context.Context, cmd VerifyPaymentCommand) (ReconcileResult, error)
	HandleWebhook(ctx context.Context, cmd HandleWebhookCommand) (ReconcileResult, error)
	ApplyCapture(ctx context.Context, signal CaptureSignal) (ReconcileResult, error)
	ApplyFailure(ctx context.Context, signal FailureSignal) (ReconcileResult, error)
	ApplyRefund(ctx context.Context, signal RefundSignal) (ReconcileResult, error)
	RefundBooking(ctx context.Context, cmd RefundBookingCommand) (ReconcileResult, error)
}

// PaymentGateway abstracts payments.Manager for easier testing.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, paymentCtx payments.PaymentContext, req payments.OrderRequest) (payments.Order, error)
	Provider(name string) (payments.Provider, error)
}

// ReferenceGenerator allocates human readable booking references.
type ReferenceGenerator interface {
	NextBookingReference(ctx context.Context) (string, error)
}

// BookingNotifier sends best effort messages after a booking is confirmed.
type BookingNotifier interface {
	SendBookingConfirmation(ctx context.Context, booking Booking, listing Listing) error
	SendOwnerNotification(ctx context.Context, booking Booking, listing Listing) error
}

// BookingEventPublisher publishes booking lifecycle events for downstream consumers.
type BookingEventPublisher interface {
	PublishBookingEvent(ctx context.Context, event BookingEvent) (string, error)
}

// BookingEvent is the payload published on every ledger transition.
type BookingEvent struct {
	Type          string    `json:"type"`
	BookingID     string    `json:"bookingId"`
	Reference     string    `json:"reference"`
	ListingID     string    `json:"listingId"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"paymentStatus"`
	FinalAmount   int64     `json:"finalAmount"`
	AmountDueNow  int64     `json:"amountDueNow"`
	Currency      string    `json:"currency"`
	CouponCode    string    `json:"couponCode,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Booking event types.
const (
	BookingEventCreated   = "booking.created"
	BookingEventConfirmed = "booking.confirmed"
	BookingEventCancelled = "booking.cancelled"
	BookingEventCompleted = "booking.completed"
	BookingEventRefunded  = "booking.refunded"
)

// Metrics records business counters. Implementations must be safe for concurrent use.
type Metrics interface {
	BookingCreated(ctx context.Context, listingID string, mode domain.PaymentMode)
	BookingConfirmed(ctx context.Context, listingID string, paymentStatus domain.PaymentStatus)
	BookingCancelled(ctx context.Context, listingID, reason string)
	CouponRedeemed(ctx context.Context, code string, limitReached bool)
	SignatureRejected(ctx context.Context, provider, channel string)
}

type noopMetrics struct{}

func (noopMetrics) BookingCreated(context.Context, string, domain.PaymentMode) {}
func (noopMetrics) BookingConfirmed(context.Context, string, domain.PaymentStatus) {}
func (noopMetrics) BookingCancelled(context.Context, string, string) {}
func (noopMetrics) CouponRedeemed(context.Context, string, bool) {}
func (noopMetrics) SignatureRejected(context.Context, string, string) {}

// Logger mirrors the structured logging hook every service accepts.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// ValidateCouponCommand asks whether code applies to an order.
type ValidateCouponCommand struct {
	Code        string
	ListingID   string
	ServiceID   string
	OrderAmount int64
	BookingDate domain.Date
	CustomerID  string
}

// CouponValidation is the successful result of Validate.
type CouponValidation struct {
	Coupon         Coupon
	DiscountAmount int64
	Pricing        PricingSnapshot
}

// CreateCouponCommand provisions a coupon.
type CreateCouponCommand struct {
	Code             string
	DiscountType     domain.DiscountType
	Value            int64
	Scope            domain.CouponScope
	ListingID        *string
	ValidFrom        domain.Date
	ValidUntil       domain.Date
	UsageLimit       *int64
	PerCustomerLimit *int64
	MinOrderAmount   int64
	IsActive         bool
}

// QuoteBookingCommand prices a prospective booking without persisting anything.
type QuoteBookingCommand struct {
	ListingID   string
	ServiceID   string
	Date        string
	Time        string
	CouponCode  string
	CustomerID  string
	PaymentMode domain.PaymentMode
}

// CouponRemoved explains why a previously applied coupon no longer applies.
type CouponRemoved struct {
	Code    string
	Reason  CouponRejection
	Message string
}

// BookingQuote is the priced preview of a booking.
type BookingQuote struct {
	ListingID     string
	Service       domain.ServiceSnapshot
	Schedule      domain.Schedule
	Coupon        *domain.AppliedCoupon
	CouponRemoved *CouponRemoved
	Pricing       PricingSnapshot
	Mode          domain.PaymentMode
}

// CreateBookingCommand carries the customer's booking request.
type CreateBookingCommand struct {
	ListingID         string
	ServiceID         string
	Date              string
	Time              string
	CouponCode        string
	CustomerID        string
	Contact           Contact
	Notes             string
	PaymentMode       domain.PaymentMode
	PreferredProvider string
	IdempotencyKey    string
}

// BookingCheckout is what the client needs to start paying.
type BookingCheckout struct {
	Booking Booking
	Payment Payment
	// ClientSecret is set for providers whose SDK needs one.
	ClientSecret string
}

// CancelBookingCommand cancels a pending booking.
type CancelBookingCommand struct {
	BookingID string
	Reason    string
	ActorID   string
}

// CompleteBookingCommand marks a confirmed booking as delivered.
type CompleteBookingCommand struct {
	BookingID string
	ActorID   string
}

// ReissueOrderCommand requests a fresh provider order for a pending booking.
type ReissueOrderCommand struct {
	BookingID         string
	PreferredProvider string
}

// SweepCommand bounds one stale-pending sweep.
type SweepCommand struct {
	OlderThan time.Duration
	Limit     int
}

// SweepResult reports what a sweep did.
type SweepResult struct {
	Scanned   int
	Cancelled []string
	Skipped   int
	Failed    int
}

// VerifyPaymentCommand is the client side confirmation of a payment.
type VerifyPaymentCommand struct {
	BookingID string
	// Provider defaults to the booking's current provider.
	Provider   string
	OrderRef   string
	PaymentRef string
	Signature  string
}

// HandleWebhookCommand carries a raw provider webhook.
type HandleWebhookCommand struct {
	Provider  string
	RawBody   []byte
	Signature string
}

// CaptureSignal reports a captured payment.
type CaptureSignal struct {
	Provider   string
	OrderRef   string
	PaymentRef string
	Signature  string
	Method     *PaymentMethod
	CapturedAt time.Time
	Channel    string
}

// FailureSignal reports a definitive payment failure.
type FailureSignal struct {
	Provider         string
	OrderRef         string
	PaymentRef       string
	ErrorCode        string
	ErrorDescription string
	FailedAt         time.Time
	Channel          string
}

// RefundSignal reports a refund issued by the provider.
type RefundSignal struct {
	Provider   string
	PaymentRef string
	RefundRef  string
	Amount     int64
	RefundedAt time.Time
	Channel    string
}

// RefundBookingCommand asks the provider to refund a confirmed booking.
type RefundBookingCommand struct {
	BookingID string
	Amount    *int64
	Reason    string
	ActorID   string
}

// ReconcileOutcome classifies what a reconciliation did.
type ReconcileOutcome string

const (
	// ReconcileApplied means the ledger changed.
	ReconcileApplied ReconcileOutcome = "applied"
	// ReconcileAlreadyProcessed means the signal was a duplicate; this is success.
	ReconcileAlreadyProcessed ReconcileOutcome = "already_processed"
	// ReconcileOrphaned means money moved for a booking that could not be confirmed.
	ReconcileOrphaned ReconcileOutcome = "orphaned"
	// ReconcileIgnored means the signal carried nothing to apply.
	ReconcileIgnored ReconcileOutcome = "ignored"
	// ReconcilePending means the provider has not settled the payment yet.
	ReconcilePending ReconcileOutcome = "pending"
)

// ReconcileResult is returned by every reconciler entry point.
type ReconcileResult struct {
	Outcome   ReconcileOutcome
	Booking   Booking
	Payment   Payment
	EventType string
}
