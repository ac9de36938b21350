package repositories

import (
	"time"

	domain "github.com/hanko-field/bookings/internal/domain"
)

// The Plan* helpers hold the ledger transitions shared by every backend. Each
// backend loads the records inside its own transaction, calls the plan and writes
// back whatever the plan changed, so the status re-check and the mutation happen
// in one atomic unit.

// CapturePlan is the result of applying a capture to loaded records.
type CapturePlan struct {
	Booking domain.Booking
	Payment domain.Payment
	Outcome CaptureOutcome
	// IncrementCoupon is set when the booking carries a coupon and was confirmed by
	// this capture. The backend performs the guarded increment.
	IncrementCoupon bool
	Changed         bool
}

// PlanCapture marks payment captured and confirms booking when it is still pending.
func PlanCapture(booking domain.Booking, payment domain.Payment, commit CaptureCommit) CapturePlan {
	plan := CapturePlan{Booking: booking, Payment: payment}
	if !payment.Status.Capturable() {
		plan.Outcome = CaptureOutcome{AlreadyCaptured: true, Booking: booking, Payment: payment}
		return plan
	}

	at := commit.CapturedAt.UTC()
	p := payment
	p.Status = domain.PaymentRecordCaptured
	if ref := commit.PaymentRef; ref != "" {
		p.PaymentRef = &ref
	}
	if commit.Method != nil {
		method := *commit.Method
		p.Method = &method
	}
	p.ErrorCode = ""
	p.ErrorDescription = ""
	p.CapturedAt = &at
	p.UpdatedAt = at

	b := booking
	confirmed := false
	if b.Status == domain.BookingStatusPending {
		confirmed = true
		b.Status = domain.BookingStatusConfirmed
		b.PaymentStatus = commit.PaymentStatus
		b.PaymentID = p.ID
		b.Provider = p.Provider
		b.ProviderOrderID = p.OrderRef
		b.ProviderPaymentID = p.PaymentRef
		if sig := commit.Signature; sig != "" {
			b.ProviderSignature = &sig
		}
		b.PaidAt = &at
		b.UpdatedAt = at
	} else {
		p.Orphaned = true
	}

	plan.Booking = b
	plan.Payment = p
	plan.Changed = true
	plan.IncrementCoupon = confirmed && b.Coupon != nil && b.Coupon.CouponID != ""
	plan.Outcome = CaptureOutcome{BookingConfirmed: confirmed, Booking: b, Payment: p}
	return plan
}

// CouponIncrementAllowed reports whether one more redemption fits the coupon's limit.
func CouponIncrementAllowed(coupon domain.Coupon) bool {
	return coupon.UsageLimit == nil || coupon.UsedCount < *coupon.UsageLimit
}

// PlanAuthorization records an authorisation on a freshly created attempt.
func PlanAuthorization(payment domain.Payment, commit AuthorizationCommit) (domain.Payment, bool) {
	if payment.Status != domain.PaymentRecordCreated {
		return payment, false
	}
	at := commit.AuthorizedAt.UTC()
	p := payment
	p.Status = domain.PaymentRecordAuthorized
	if ref := commit.PaymentRef; ref != "" {
		p.PaymentRef = &ref
	}
	if commit.Method != nil {
		method := *commit.Method
		p.Method = &method
	}
	p.AuthorizedAt = &at
	p.UpdatedAt = at
	return p, true
}

// FailurePlan is the result of applying a provider failure to loaded records.
type FailurePlan struct {
	Booking        domain.Booking
	Payment        domain.Payment
	Outcome        FailureOutcome
	BookingChanged bool
	PaymentChanged bool
}

// PlanFailure marks an open attempt failed. The booking is cancelled only when
// the failed attempt is the booking's current one and the booking is pending.
func PlanFailure(booking domain.Booking, payment domain.Payment, commit FailureCommit) FailurePlan {
	plan := FailurePlan{Booking: booking, Payment: payment}
	switch payment.Status {
	case domain.PaymentRecordCaptured, domain.PaymentRecordFailed, domain.PaymentRecordRefunded:
		plan.Outcome = FailureOutcome{AlreadySettled: true, Booking: booking, Payment: payment}
		return plan
	}

	at := commit.FailedAt.UTC()
	p := payment
	p.Status = domain.PaymentRecordFailed
	if ref := commit.PaymentRef; ref != "" && p.PaymentRef == nil {
		p.PaymentRef = &ref
	}
	p.ErrorCode = commit.ErrorCode
	p.ErrorDescription = commit.ErrorDescription
	p.FailedAt = &at
	p.UpdatedAt = at
	plan.Payment = p
	plan.PaymentChanged = true

	b := booking
	if b.Status == domain.BookingStatusPending && b.PaymentID == p.ID {
		cancelBooking(&b, "payment_failed", at)
		plan.Booking = b
		plan.BookingChanged = true
	}
	plan.Outcome = FailureOutcome{BookingCancelled: plan.BookingChanged, Booking: plan.Booking, Payment: p}
	return plan
}

// RefundPlan is the result of applying a refund to loaded records.
type RefundPlan struct {
	Booking        domain.Booking
	Payment        domain.Payment
	Outcome        RefundOutcome
	BookingChanged bool
	PaymentChanged bool
}

// PlanRefund marks a captured payment refunded and cancels a confirmed booking.
// Coupon usage is left untouched.
func PlanRefund(booking domain.Booking, payment domain.Payment, commit RefundCommit) RefundPlan {
	plan := RefundPlan{Booking: booking, Payment: payment}
	switch payment.Status {
	case domain.PaymentRecordRefunded:
		plan.Outcome = RefundOutcome{AlreadyRefunded: true, Booking: booking, Payment: payment}
		return plan
	case domain.PaymentRecordCaptured:
	default:
		plan.Outcome = RefundOutcome{NotCaptured: true, Booking: booking, Payment: payment}
		return plan
	}

	at := commit.RefundedAt.UTC()
	p := payment
	p.Status = domain.PaymentRecordRefunded
	if ref := commit.RefundRef; ref != "" {
		p.RefundRef = &ref
	}
	amount := commit.Amount
	if amount <= 0 || amount > p.Amount {
		amount = p.Amount
	}
	p.RefundedAmount = amount
	p.RefundedAt = &at
	p.UpdatedAt = at
	plan.Payment = p
	plan.PaymentChanged = true

	b := booking
	if b.Status == domain.BookingStatusConfirmed && b.PaymentID == p.ID {
		b.Status = domain.BookingStatusCancelled
		b.PaymentStatus = domain.PaymentStatusRefunded
		b.CancellationReason = "refunded"
		b.CancelledAt = &at
		b.RefundedAt = &at
		b.UpdatedAt = at
		plan.Booking = b
		plan.BookingChanged = true
	}
	plan.Outcome = RefundOutcome{BookingCancelled: plan.BookingChanged, Booking: plan.Booking, Payment: p}
	return plan
}

// PlanCancel cancels a pending booking and fails its open attempt. The returned
// payment is nil when the attempt needs no write.
func PlanCancel(booking domain.Booking, payment *domain.Payment, commit CancelCommit) (domain.Booking, *domain.Payment, bool) {
	if booking.Status != domain.BookingStatusPending {
		return booking, nil, false
	}
	at := commit.CancelledAt.UTC()
	b := booking
	reason := commit.Reason
	if reason == "" {
		reason = "cancelled"
	}
	cancelBooking(&b, reason, at)

	if payment == nil || !payment.Status.Open() {
		return b, nil, true
	}
	p := *payment
	p.Status = domain.PaymentRecordFailed
	p.ErrorCode = commit.ErrorCode
	if p.ErrorCode == "" {
		p.ErrorCode = "booking_cancelled"
	}
	p.ErrorDescription = reason
	p.FailedAt = &at
	p.UpdatedAt = at
	return b, &p, true
}

// PlanComplete moves a confirmed booking to completed.
func PlanComplete(booking domain.Booking, at time.Time) (domain.Booking, bool) {
	if booking.Status != domain.BookingStatusConfirmed {
		return booking, false
	}
	at = at.UTC()
	b := booking
	b.Status = domain.BookingStatusCompleted
	b.CompletedAt = &at
	b.UpdatedAt = at
	return b, true
}

// PlanReplacement supersedes the booking's current attempt with commit.Payment.
func PlanReplacement(booking domain.Booking, previous domain.Payment, commit ReplacePaymentCommit) (domain.Booking, domain.Payment, error) {
	const op = "ledger.replacePayment"
	if booking.Status != domain.BookingStatusPending {
		return booking, previous, ConflictError(op, errBookingNotPending)
	}
	if booking.PaymentID != commit.PreviousPaymentID || previous.ID != commit.PreviousPaymentID {
		return booking, previous, ConflictError(op, errPaymentNotCurrent)
	}
	if !previous.Status.Open() {
		return booking, previous, ConflictError(op, errPaymentNotOpen)
	}
	at := commit.At.UTC()
	p := previous
	p.Status = domain.PaymentRecordSuperseded
	p.UpdatedAt = at

	b := booking
	b.PaymentID = commit.Payment.ID
	b.Provider = commit.Payment.Provider
	b.ProviderOrderID = commit.Payment.OrderRef
	b.UpdatedAt = at
	return b, p, nil
}

func cancelBooking(b *domain.Booking, reason string, at time.Time) {
	b.Status = domain.BookingStatusCancelled
	b.PaymentStatus = domain.PaymentStatusFailed
	b.CancellationReason = reason
	b.CancelledAt = &at
	b.UpdatedAt = at
}
