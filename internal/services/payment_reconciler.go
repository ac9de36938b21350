package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/hanko-field/bookings/internal/domain"
	"github.com/hanko-field/bookings/internal/payments"
	"github.com/hanko-field/bookings/internal/repositories"
)

const (
	channelClient   = "client"
	channelWebhook  = "webhook"
	channelOperator = "operator"
	channelZeroDue  = "zero_due"
)

var (
	// ErrSignatureInvalid indicates a client or webhook signature did not verify.
	ErrSignatureInvalid = errors.New("payment: signature invalid")
	// ErrProviderUnavailable indicates the payment provider could not be reached.
	ErrProviderUnavailable = errors.New("payment: provider unavailable")
	// ErrPaymentNotFound indicates no payment record matches the provider references.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentInvalidInput indicates a malformed reconciliation request.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotRefundable indicates the booking has no captured payment to refund.
	ErrPaymentNotRefundable = errors.New("payment: not refundable")
	// ErrWebhookPayloadInvalid indicates a verified webhook body could not be parsed.
	ErrWebhookPayloadInvalid = errors.New("payment: webhook payload invalid")
)

// PaymentReconcilerDeps bundles collaborators required by the reconciler.
type PaymentReconcilerDeps struct {
	Bookings      repositories.BookingRepository
	Payments      repositories.PaymentRepository
	Ledger        repositories.LedgerRepository
	Gateway       PaymentGateway
	Notifications *NotificationDispatcher
	Events        BookingEventPublisher
	Metrics       Metrics
	Clock         func() time.Time
	Logger        Logger
}

type paymentReconciler struct {
	bookings repositories.BookingRepository
	payments repositories.PaymentRepository
	gateway  PaymentGateway
	effects  *ledgerEffects
	clock    func() time.Time
	logger   Logger
}

// NewPaymentReconciler wires the reconciler. Both verification channels end in
// the same ledger commits, so duplicate or racing signals apply at most once.
func NewPaymentReconciler(deps PaymentReconcilerDeps) (PaymentReconciler, error) {
	if deps.Bookings == nil || deps.Payments == nil || deps.Ledger == nil {
		return nil, errors.New("payment reconciler: booking, payment and ledger repositories are required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment reconciler: payment gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &paymentReconciler{
		bookings: deps.Bookings,
		payments: deps.Payments,
		gateway:  deps.Gateway,
		effects:  newLedgerEffects(deps.Ledger, deps.Notifications, deps.Events, deps.Metrics, logger),
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

func (r *paymentReconciler) VerifyClientPayment(ctx context.Context, cmd VerifyPaymentCommand) (ReconcileResult, error) {
	bookingID := strings.TrimSpace(cmd.BookingID)
	orderRef := strings.TrimSpace(cmd.OrderRef)
	paymentRef := strings.TrimSpace(cmd.PaymentRef)
	switch {
	case bookingID == "":
		return ReconcileResult{}, fmt.Errorf("%w: booking id is required", ErrPaymentInvalidInput)
	case orderRef == "":
		return ReconcileResult{}, fmt.Errorf("%w: order ref is required", ErrPaymentInvalidInput)
	case strings.TrimSpace(cmd.Signature) == "":
		return ReconcileResult{}, fmt.Errorf("%w: signature is required", ErrPaymentInvalidInput)
	}

	booking, err := r.loadBooking(ctx, bookingID)
	if err != nil {
		return ReconcileResult{}, err
	}
	providerName := strings.TrimSpace(cmd.Provider)
	if providerName == "" {
		providerName = booking.Provider
	}
	payment, err := r.payments.FindByOrderRef(ctx, providerName, orderRef)
	if err != nil {
		if repositories.IsNotFound(err) {
			return ReconcileResult{}, fmt.Errorf("%w: order %s", ErrPaymentNotFound, orderRef)
		}
		return ReconcileResult{}, err
	}
	if payment.BookingID != booking.ID {
		return ReconcileResult{}, fmt.Errorf("%w: order %s does not belong to booking %s", ErrPaymentNotFound, orderRef, booking.ID)
	}

	provider, err := r.gateway.Provider(payment.Provider)
	if err != nil {
		return ReconcileResult{}, err
	}
	verified, err := provider.VerifySignature(ctx, orderRef, paymentRef, cmd.Signature)
	if err != nil {
		r.logger(ctx, "payment.signature.check_failed", map[string]any{
			"bookingId": booking.ID,
			"provider":  payment.Provider,
			"error":     err.Error(),
		})
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if !verified {
		r.signatureRejected(ctx, payment.Provider, channelClient, map[string]any{
			"bookingId": booking.ID,
			"orderRef":  orderRef,
		})
		return ReconcileResult{}, ErrSignatureInvalid
	}

	fetchRef := paymentRef
	if fetchRef == "" {
		fetchRef = orderRef
	}
	details, err := provider.FetchPayment(ctx, fetchRef)
	if err != nil {
		if payments.SignatureProvesCapture(provider) && paymentRef != "" {
			r.logger(ctx, "payment.fetch.failed", map[string]any{
				"bookingId": booking.ID,
				"provider":  payment.Provider,
				"fallback":  "signature",
				"error":     err.Error(),
			})
			return r.ApplyCapture(ctx, CaptureSignal{
				Provider:   payment.Provider,
				OrderRef:   orderRef,
				PaymentRef: paymentRef,
				Signature:  cmd.Signature,
				Channel:    channelClient,
			})
		}
		r.logger(ctx, "payment.fetch.failed", map[string]any{
			"bookingId": booking.ID,
			"provider":  payment.Provider,
			"error":     err.Error(),
		})
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if details.OrderRef != "" && details.OrderRef != orderRef {
		r.signatureRejected(ctx, payment.Provider, channelClient, map[string]any{
			"bookingId":     booking.ID,
			"orderRef":      orderRef,
			"providerOrder": details.OrderRef,
			"paymentRef":    fetchRef,
			"reason":        "order_mismatch",
		})
		return ReconcileResult{}, ErrSignatureInvalid
	}
	if paymentRef == "" {
		paymentRef = details.PaymentRef
	}

	switch details.Status {
	case payments.StatusCaptured:
		signal := CaptureSignal{
			Provider:   payment.Provider,
			OrderRef:   orderRef,
			PaymentRef: paymentRef,
			Signature:  cmd.Signature,
			Method:     details.Method,
			Channel:    channelClient,
		}
		if details.CapturedAt != nil {
			signal.CapturedAt = *details.CapturedAt
		}
		return r.ApplyCapture(ctx, signal)
	case payments.StatusFailed:
		return r.ApplyFailure(ctx, FailureSignal{
			Provider:         payment.Provider,
			OrderRef:         orderRef,
			PaymentRef:       paymentRef,
			ErrorCode:        details.ErrorCode,
			ErrorDescription: details.ErrorDescription,
			Channel:          channelClient,
		})
	case payments.StatusAuthorized:
		return r.applyAuthorization(ctx, payment, paymentRef, details.Method, r.clock())
	case payments.StatusPending:
		return ReconcileResult{Outcome: ReconcilePending, Booking: booking, Payment: payment}, nil
	default:
		r.logger(ctx, "payment.verify.ignored", map[string]any{
			"bookingId": booking.ID,
			"status":    string(details.Status),
		})
		return ReconcileResult{Outcome: ReconcileIgnored, Booking: booking, Payment: payment}, nil
	}
}

func (r *paymentReconciler) HandleWebhook(ctx context.Context, cmd HandleWebhookCommand) (ReconcileResult, error) {
	providerName := strings.ToLower(strings.TrimSpace(cmd.Provider))
	provider, err := r.gateway.Provider(providerName)
	if err != nil {
		return ReconcileResult{}, err
	}
	if len(cmd.RawBody) == 0 || !provider.VerifyWebhookSignature(cmd.RawBody, cmd.Signature) {
		r.signatureRejected(ctx, providerName, channelWebhook, map[string]any{"bodyBytes": len(cmd.RawBody)})
		return ReconcileResult{}, ErrSignatureInvalid
	}
	event, err := provider.ParseWebhookEvent(cmd.RawBody)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrWebhookPayloadInvalid, err)
	}

	var result ReconcileResult
	switch event.Type {
	case payments.EventPaymentCaptured:
		result, err = r.ApplyCapture(ctx, CaptureSignal{
			Provider:   providerName,
			OrderRef:   event.OrderRef,
			PaymentRef: event.PaymentRef,
			Method:     event.Method,
			CapturedAt: event.OccurredAt,
			Channel:    channelWebhook,
		})
	case payments.EventPaymentFailed:
		result, err = r.ApplyFailure(ctx, FailureSignal{
			Provider:         providerName,
			OrderRef:         event.OrderRef,
			PaymentRef:       event.PaymentRef,
			ErrorCode:        event.ErrorCode,
			ErrorDescription: event.ErrorDescription,
			FailedAt:         event.OccurredAt,
			Channel:          channelWebhook,
		})
	case payments.EventPaymentDeclined:
		r.logger(ctx, "payment.attempt.declined", map[string]any{
			"provider":         providerName,
			"eventId":          event.ID,
			"orderRef":         event.OrderRef,
			"errorCode":        event.ErrorCode,
			"errorDescription": event.ErrorDescription,
		})
		return ReconcileResult{Outcome: ReconcileIgnored, EventType: string(event.Type)}, nil
	case payments.EventPaymentAuthorized:
		var payment Payment
		payment, err = r.findPayment(ctx, providerName, event.OrderRef, event.PaymentRef)
		if err == nil {
			result, err = r.applyAuthorization(ctx, payment, event.PaymentRef, event.Method, event.OccurredAt)
		}
	case payments.EventRefundCreated:
		result, err = r.ApplyRefund(ctx, RefundSignal{
			Provider:   providerName,
			PaymentRef: event.PaymentRef,
			RefundRef:  event.RefundRef,
			Amount:     event.Amount,
			RefundedAt: event.OccurredAt,
			Channel:    channelWebhook,
		})
	default:
		r.logger(ctx, "payment.webhook.ignored", map[string]any{
			"provider":  providerName,
			"eventId":   event.ID,
			"eventType": string(event.Type),
		})
		return ReconcileResult{Outcome: ReconcileIgnored, EventType: string(event.Type)}, nil
	}

	if errors.Is(err, ErrPaymentNotFound) {
		// unknown orders are acknowledged and dropped
		r.logger(ctx, "payment.webhook.unknown_order", map[string]any{
			"provider":   providerName,
			"eventId":    event.ID,
			"eventType":  string(event.Type),
			"orderRef":   event.OrderRef,
			"paymentRef": event.PaymentRef,
		})
		return ReconcileResult{Outcome: ReconcileIgnored, EventType: string(event.Type)}, nil
	}
	if err != nil {
		return ReconcileResult{}, err
	}
	result.EventType = string(event.Type)
	return result, nil
}

func (r *paymentReconciler) ApplyCapture(ctx context.Context, signal CaptureSignal) (ReconcileResult, error) {
	payment, err := r.findPayment(ctx, signal.Provider, signal.OrderRef, signal.PaymentRef)
	if err != nil {
		return ReconcileResult{}, err
	}
	booking, err := r.loadBooking(ctx, payment.BookingID)
	if err != nil {
		return ReconcileResult{}, err
	}
	if signal.CapturedAt.IsZero() {
		signal.CapturedAt = r.clock()
	}
	return r.effects.commitCapture(ctx, booking, payment, signal)
}

func (r *paymentReconciler) ApplyFailure(ctx context.Context, signal FailureSignal) (ReconcileResult, error) {
	payment, err := r.findPayment(ctx, signal.Provider, signal.OrderRef, signal.PaymentRef)
	if err != nil {
		return ReconcileResult{}, err
	}
	failedAt := signal.FailedAt
	if failedAt.IsZero() {
		failedAt = r.clock()
	}
	out, err := r.effects.ledger.CommitFailure(ctx, repositories.FailureCommit{
		PaymentID:        payment.ID,
		BookingID:        payment.BookingID,
		PaymentRef:       signal.PaymentRef,
		ErrorCode:        signal.ErrorCode,
		ErrorDescription: signal.ErrorDescription,
		FailedAt:         failedAt,
	})
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("payment reconciler: commit failure: %w", err)
	}
	if out.AlreadySettled {
		return ReconcileResult{Outcome: ReconcileAlreadyProcessed, Booking: out.Booking, Payment: out.Payment}, nil
	}

	r.logger(ctx, "payment.failed", map[string]any{
		"bookingId":        out.Booking.ID,
		"paymentId":        out.Payment.ID,
		"provider":         signal.Provider,
		"channel":          signal.Channel,
		"errorCode":        signal.ErrorCode,
		"bookingCancelled": out.BookingCancelled,
	})
	if out.BookingCancelled {
		r.effects.metrics.BookingCancelled(ctx, out.Booking.ListingID, out.Booking.CancellationReason)
		r.effects.publish(ctx, BookingEventCancelled, out.Booking, failedAt)
	}
	return ReconcileResult{Outcome: ReconcileApplied, Booking: out.Booking, Payment: out.Payment}, nil
}

func (r *paymentReconciler) ApplyRefund(ctx context.Context, signal RefundSignal) (ReconcileResult, error) {
	if strings.TrimSpace(signal.PaymentRef) == "" {
		return ReconcileResult{}, fmt.Errorf("%w: payment ref is required", ErrPaymentInvalidInput)
	}
	payment, err := r.payments.FindByPaymentRef(ctx, signal.Provider, signal.PaymentRef)
	if err != nil {
		if repositories.IsNotFound(err) {
			return ReconcileResult{}, fmt.Errorf("%w: payment %s", ErrPaymentNotFound, signal.PaymentRef)
		}
		return ReconcileResult{}, err
	}
	refundedAt := signal.RefundedAt
	if refundedAt.IsZero() {
		refundedAt = r.clock()
	}
	out, err := r.effects.ledger.CommitRefund(ctx, repositories.RefundCommit{
		PaymentID:  payment.ID,
		BookingID:  payment.BookingID,
		RefundRef:  signal.RefundRef,
		Amount:     signal.Amount,
		RefundedAt: refundedAt,
	})
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("payment reconciler: commit refund: %w", err)
	}
	switch {
	case out.AlreadyRefunded:
		return ReconcileResult{Outcome: ReconcileAlreadyProcessed, Booking: out.Booking, Payment: out.Payment}, nil
	case out.NotCaptured:
		r.logger(ctx, "payment.refund.not_captured", map[string]any{
			"paymentId": payment.ID,
			"refundRef": signal.RefundRef,
			"status":    string(payment.Status),
		})
		return ReconcileResult{Outcome: ReconcileIgnored, Booking: out.Booking, Payment: out.Payment}, nil
	}

	r.logger(ctx, "payment.refunded", map[string]any{
		"bookingId": out.Booking.ID,
		"paymentId": out.Payment.ID,
		"refundRef": signal.RefundRef,
		"amount":    out.Payment.RefundedAmount,
		"channel":   signal.Channel,
	})
	if out.BookingCancelled {
		r.effects.metrics.BookingCancelled(ctx, out.Booking.ListingID, out.Booking.CancellationReason)
		r.effects.publish(ctx, BookingEventRefunded, out.Booking, refundedAt)
	}
	return ReconcileResult{Outcome: ReconcileApplied, Booking: out.Booking, Payment: out.Payment}, nil
}

func (r *paymentReconciler) RefundBooking(ctx context.Context, cmd RefundBookingCommand) (ReconcileResult, error) {
	bookingID := strings.TrimSpace(cmd.BookingID)
	if bookingID == "" {
		return ReconcileResult{}, fmt.Errorf("%w: booking id is required", ErrPaymentInvalidInput)
	}
	booking, err := r.loadBooking(ctx, bookingID)
	if err != nil {
		return ReconcileResult{}, err
	}
	payment, err := r.payments.FindByID(ctx, booking.PaymentID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return ReconcileResult{}, fmt.Errorf("%w: booking %s has no payment", ErrPaymentNotRefundable, booking.ID)
		}
		return ReconcileResult{}, err
	}
	if payment.Status == domain.PaymentRecordRefunded {
		return ReconcileResult{Outcome: ReconcileAlreadyProcessed, Booking: booking, Payment: payment}, nil
	}
	if booking.Status != domain.BookingStatusConfirmed || payment.Status != domain.PaymentRecordCaptured || payment.PaymentRef == nil {
		return ReconcileResult{}, fmt.Errorf("%w: booking %s is %s with payment %s", ErrPaymentNotRefundable, booking.ID, booking.Status, payment.Status)
	}

	amount := payment.Amount
	if cmd.Amount != nil {
		amount = *cmd.Amount
	}
	if amount <= 0 || amount > payment.Amount {
		return ReconcileResult{}, fmt.Errorf("%w: refund amount must be between 1 and %d", ErrPaymentInvalidInput, payment.Amount)
	}

	provider, err := r.gateway.Provider(payment.Provider)
	if err != nil {
		return ReconcileResult{}, err
	}
	refund, err := provider.Refund(ctx, payments.RefundRequest{
		PaymentRef:     *payment.PaymentRef,
		Amount:         &amount,
		Reason:         strings.TrimSpace(cmd.Reason),
		Notes:          map[string]string{"bookingId": booking.ID, "reference": booking.Reference},
		IdempotencyKey: refundIdempotencyKey(payment.ID, amount),
	})
	if err != nil {
		r.logger(ctx, "payment.refund.failed", map[string]any{
			"bookingId": booking.ID,
			"provider":  payment.Provider,
			"error":     err.Error(),
		})
		if payments.IsTemporary(err) {
			return ReconcileResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return ReconcileResult{}, fmt.Errorf("payment reconciler: refund: %w", err)
	}
	refunded := refund.Amount
	if refunded <= 0 {
		refunded = amount
	}
	r.logger(ctx, "payment.refund.requested", map[string]any{
		"bookingId": booking.ID,
		"refundRef": refund.RefundRef,
		"actorId":   cmd.ActorID,
		"amount":    refunded,
	})
	return r.ApplyRefund(ctx, RefundSignal{
		Provider:   payment.Provider,
		PaymentRef: *payment.PaymentRef,
		RefundRef:  refund.RefundRef,
		Amount:     refunded,
		Channel:    channelOperator,
	})
}

func (r *paymentReconciler) applyAuthorization(ctx context.Context, payment Payment, paymentRef string, method *PaymentMethod, at time.Time) (ReconcileResult, error) {
	if at.IsZero() {
		at = r.clock()
	}
	applied, err := r.effects.ledger.CommitAuthorization(ctx, repositories.AuthorizationCommit{
		PaymentID:    payment.ID,
		PaymentRef:   paymentRef,
		Method:       method,
		AuthorizedAt: at,
	})
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("payment reconciler: commit authorization: %w", err)
	}
	booking, err := r.loadBooking(ctx, payment.BookingID)
	if err != nil {
		return ReconcileResult{}, err
	}
	current, err := r.payments.FindByID(ctx, payment.ID)
	if err != nil {
		return ReconcileResult{}, err
	}
	outcome := ReconcileAlreadyProcessed
	if applied {
		outcome = ReconcileApplied
	}
	return ReconcileResult{Outcome: outcome, Booking: booking, Payment: current}, nil
}

func (r *paymentReconciler) findPayment(ctx context.Context, provider, orderRef, paymentRef string) (Payment, error) {
	orderRef = strings.TrimSpace(orderRef)
	paymentRef = strings.TrimSpace(paymentRef)
	if orderRef == "" && paymentRef == "" {
		return Payment{}, fmt.Errorf("%w: order ref or payment ref is required", ErrPaymentInvalidInput)
	}
	if orderRef != "" {
		payment, err := r.payments.FindByOrderRef(ctx, provider, orderRef)
		if err == nil {
			return payment, nil
		}
		if !repositories.IsNotFound(err) {
			return Payment{}, err
		}
	}
	if paymentRef != "" {
		payment, err := r.payments.FindByPaymentRef(ctx, provider, paymentRef)
		if err == nil {
			return payment, nil
		}
		if !repositories.IsNotFound(err) {
			return Payment{}, err
		}
	}
	return Payment{}, fmt.Errorf("%w: provider %s order %q payment %q", ErrPaymentNotFound, provider, orderRef, paymentRef)
}

func (r *paymentReconciler) loadBooking(ctx context.Context, bookingID string) (Booking, error) {
	booking, err := r.bookings.FindByID(ctx, bookingID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Booking{}, fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
		}
		return Booking{}, err
	}
	return booking, nil
}

func (r *paymentReconciler) signatureRejected(ctx context.Context, provider, channel string, fields map[string]any) {
	r.effects.metrics.SignatureRejected(ctx, provider, channel)
	if fields == nil {
		fields = map[string]any{}
	}
	fields["provider"] = provider
	fields["channel"] = channel
	fields["security"] = true
	r.logger(ctx, "payment.signature.invalid", fields)
}

func refundIdempotencyKey(paymentID string, amount int64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("refund:%s:%d", paymentID, amount))).String()
}

// ledgerEffects commits a capture and runs its follow-ups. The booking service
// shares it so zero-due bookings confirm through the same path as paid ones.
type ledgerEffects struct {
	ledger        repositories.LedgerRepository
	notifications *NotificationDispatcher
	events        BookingEventPublisher
	metrics       Metrics
	logger        Logger
}

func newLedgerEffects(ledger repositories.LedgerRepository, notifications *NotificationDispatcher, events BookingEventPublisher, metrics Metrics, logger Logger) *ledgerEffects {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = noopLogger
	}
	return &ledgerEffects{
		ledger:        ledger,
		notifications: notifications,
		events:        events,
		metrics:       metrics,
		logger:        logger,
	}
}

func (e *ledgerEffects) commitCapture(ctx context.Context, booking Booking, payment Payment, signal CaptureSignal) (ReconcileResult, error) {
	status := domain.PaymentStatusPaid
	if booking.Pricing.AmountDeferred > 0 {
		status = domain.PaymentStatusPartial
	}
	out, err := e.ledger.CommitCapture(ctx, repositories.CaptureCommit{
		PaymentID:     payment.ID,
		BookingID:     booking.ID,
		PaymentRef:    signal.PaymentRef,
		Signature:     signal.Signature,
		Method:        signal.Method,
		PaymentStatus: status,
		CapturedAt:    signal.CapturedAt,
	})
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("payment reconciler: commit capture: %w", err)
	}
	if out.AlreadyCaptured {
		e.logger(ctx, "payment.capture.duplicate", map[string]any{
			"bookingId": booking.ID,
			"paymentId": payment.ID,
			"channel":   signal.Channel,
		})
		return ReconcileResult{Outcome: ReconcileAlreadyProcessed, Booking: out.Booking, Payment: out.Payment}, nil
	}
	if !out.BookingConfirmed {
		e.logger(ctx, "payment.capture.orphaned", map[string]any{
			"bookingId":     out.Booking.ID,
			"bookingStatus": string(out.Booking.Status),
			"paymentId":     out.Payment.ID,
			"amount":        out.Payment.Amount,
			"channel":       signal.Channel,
			"action":        "manual_refund_required",
		})
		return ReconcileResult{Outcome: ReconcileOrphaned, Booking: out.Booking, Payment: out.Payment}, nil
	}

	e.logger(ctx, "booking.confirmed", map[string]any{
		"bookingId":     out.Booking.ID,
		"reference":     out.Booking.Reference,
		"paymentStatus": string(out.Booking.PaymentStatus),
		"channel":       signal.Channel,
	})
	e.metrics.BookingConfirmed(ctx, out.Booking.ListingID, out.Booking.PaymentStatus)
	if coupon := out.Booking.Coupon; coupon != nil {
		if out.CouponLimitReached {
			e.logger(ctx, "coupon.limit.exceeded", map[string]any{
				"bookingId": out.Booking.ID,
				"couponId":  coupon.CouponID,
				"code":      coupon.Code,
			})
		}
		if out.CouponIncremented || out.CouponLimitReached {
			e.metrics.CouponRedeemed(ctx, coupon.Code, out.CouponLimitReached)
		}
	}
	e.publish(ctx, BookingEventConfirmed, out.Booking, signal.CapturedAt)
	e.notifications.Dispatch(ctx, out.Booking)
	return ReconcileResult{Outcome: ReconcileApplied, Booking: out.Booking, Payment: out.Payment}, nil
}

func (e *ledgerEffects) publish(ctx context.Context, eventType string, booking Booking, at time.Time) {
	if e.events == nil {
		return
	}
	event := BookingEvent{
		Type:          eventType,
		BookingID:     booking.ID,
		Reference:     booking.Reference,
		ListingID:     booking.ListingID,
		Status:        string(booking.Status),
		PaymentStatus: string(booking.PaymentStatus),
		FinalAmount:   booking.Pricing.FinalAmount,
		AmountDueNow:  booking.Pricing.AmountDueNow,
		Currency:      booking.Pricing.Currency,
		OccurredAt:    at.UTC(),
	}
	if booking.Coupon != nil {
		event.CouponCode = booking.Coupon.Code
	}
	if _, err := e.events.PublishBookingEvent(ctx, event); err != nil {
		e.logger(ctx, "booking.event.publish_failed", map[string]any{
			"bookingId": booking.ID,
			"eventType": eventType,
			"error":     err.Error(),
		})
	}
}
