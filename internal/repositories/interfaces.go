package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/bookings/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Coupons() CouponRepository
	Listings() ListingRepository
	Bookings() BookingRepository
	Payments() PaymentRepository
	Ledger() LedgerRepository
	Counters() CounterRepository
	Ping(ctx context.Context) error
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CouponRepository persists coupon definitions. Usage counters are only mutated
// through LedgerRepository so the increment shares the confirmation transaction.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.Coupon) error
	FindByID(ctx context.Context, couponID string) (domain.Coupon, error)
	// FindByCode looks up an already normalised code.
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
}

// ListingRepository reads listings and their price lists.
type ListingRepository interface {
	FindByID(ctx context.Context, listingID string) (domain.Listing, error)
}

// BookingRepository reads booking records. Writes go through LedgerRepository.
type BookingRepository interface {
	FindByID(ctx context.Context, bookingID string) (domain.Booking, error)
	// CountConfirmedRedemptions counts the customer's bookings that carry code and
	// reached confirmation (paid or partial, including those completed later).
	CountConfirmedRedemptions(ctx context.Context, customerID, code string) (int64, error)
	// ListStalePending pages through pending bookings created before createdBefore,
	// ordered by creation time then ID. A nil cursor starts from the oldest.
	ListStalePending(ctx context.Context, createdBefore time.Time, after *StaleCursor, limit int) ([]domain.Booking, error)
}

// StaleCursor is the position of the last booking of a ListStalePending page.
type StaleCursor struct {
	CreatedAt time.Time
	ID        string
}

// Precedes reports whether b sorts strictly after the cursor.
func (c *StaleCursor) Precedes(b domain.Booking) bool {
	if c == nil {
		return true
	}
	if !b.CreatedAt.Equal(c.CreatedAt) {
		return b.CreatedAt.After(c.CreatedAt)
	}
	return b.ID > c.ID
}

// PaymentRepository reads payment records.
type PaymentRepository interface {
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	FindByOrderRef(ctx context.Context, provider, orderRef string) (domain.Payment, error)
	FindByPaymentRef(ctx context.Context, provider, paymentRef string) (domain.Payment, error)
}

// CounterRepository provides atomic sequence generation.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// LedgerRepository groups the multi-record mutations that must be atomic. Every
// commit re-checks the current statuses inside its transaction, so concurrent or
// duplicate callers observe exactly one winner.
type LedgerRepository interface {
	CreateBooking(ctx context.Context, booking domain.Booking, payment domain.Payment) error
	CommitCapture(ctx context.Context, commit CaptureCommit) (CaptureOutcome, error)
	CommitAuthorization(ctx context.Context, commit AuthorizationCommit) (bool, error)
	CommitFailure(ctx context.Context, commit FailureCommit) (FailureOutcome, error)
	CommitRefund(ctx context.Context, commit RefundCommit) (RefundOutcome, error)
	CancelPending(ctx context.Context, commit CancelCommit) (bool, error)
	Complete(ctx context.Context, bookingID string, at time.Time) (bool, error)
	ReplacePayment(ctx context.Context, commit ReplacePaymentCommit) error
}

// CaptureCommit marks a payment captured and confirms its booking.
type CaptureCommit struct {
	PaymentID     string
	BookingID     string
	PaymentRef    string
	Signature     string
	Method        *domain.PaymentMethod
	PaymentStatus domain.PaymentStatus
	CapturedAt    time.Time
}

// CaptureOutcome reports what the capture commit changed.
type CaptureOutcome struct {
	// AlreadyCaptured means the payment had been captured before; nothing changed.
	AlreadyCaptured bool
	// BookingConfirmed is false when the booking was no longer pending.
	BookingConfirmed bool
	CouponIncremented bool
	// CouponLimitReached is set when the guarded increment found the limit used up.
	CouponLimitReached bool
	Booking            domain.Booking
	Payment            domain.Payment
}

// AuthorizationCommit records a provider authorisation that has not been captured.
type AuthorizationCommit struct {
	PaymentID    string
	PaymentRef   string
	Method       *domain.PaymentMethod
	AuthorizedAt time.Time
}

// FailureCommit marks a payment failed and cancels its pending booking.
type FailureCommit struct {
	PaymentID        string
	BookingID        string
	PaymentRef       string
	ErrorCode        string
	ErrorDescription string
	FailedAt         time.Time
}

// FailureOutcome reports what the failure commit changed.
type FailureOutcome struct {
	// AlreadySettled means the payment was captured, failed or refunded already.
	AlreadySettled   bool
	BookingCancelled bool
	Booking          domain.Booking
	Payment          domain.Payment
}

// RefundCommit marks a captured payment refunded and cancels its booking.
type RefundCommit struct {
	PaymentID  string
	BookingID  string
	RefundRef  string
	Amount     int64
	RefundedAt time.Time
}

// RefundOutcome reports what the refund commit changed.
type RefundOutcome struct {
	AlreadyRefunded  bool
	NotCaptured      bool
	BookingCancelled bool
	Booking          domain.Booking
	Payment          domain.Payment
}

// CancelCommit cancels a pending booking and fails its open payment.
type CancelCommit struct {
	BookingID   string
	Reason      string
	ErrorCode   string
	CancelledAt time.Time
}

// ReplacePaymentCommit supersedes the booking's current payment with a new one.
type ReplacePaymentCommit struct {
	BookingID         string
	PreviousPaymentID string
	Payment           domain.Payment
	At                time.Time
}
