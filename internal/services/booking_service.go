package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/bookings/internal/domain"
	"github.com/hanko-field/bookings/internal/payments"
	"github.com/hanko-field/bookings/internal/platform/textutil"
	"github.com/hanko-field/bookings/internal/repositories"
)

const (
	bookingIDPrefix = "bkg_"
	paymentIDPrefix = "pay_"

	// ZeroDueProvider marks payment records of bookings that owed nothing online.
	ZeroDueProvider = "none"

	// DefaultPendingTimeout is how long a booking may wait for payment before the sweep cancels it.
	DefaultPendingTimeout = 24 * time.Hour
	defaultSweepLimit     = 100

	maxContactNameLen  = 120
	maxContactEmailLen = 254
	maxContactPhoneLen = 32
	maxNotesLen        = 1000

	clockLayout = "15:04"
)

var (
	// ErrBookingInvalidInput signals the caller provided invalid data.
	ErrBookingInvalidInput = errors.New("booking: invalid input")
	// ErrBookingNotFound indicates the booking could not be located.
	ErrBookingNotFound = errors.New("booking: not found")
	// ErrBookingInvalidState indicates an invalid status transition was attempted.
	ErrBookingInvalidState = errors.New("booking: invalid status transition")
	// ErrListingNotFound indicates the listing or its service could not be located.
	ErrListingNotFound = errors.New("booking: listing not found")
	// ErrScheduleClosedDay indicates the requested date is the listing's weekly closure day.
	ErrScheduleClosedDay = errors.New("booking: listing is closed on the requested day")
	// ErrScheduleOutOfHours indicates the requested time is outside opening hours.
	ErrScheduleOutOfHours = errors.New("booking: requested time is outside opening hours")
	// ErrListingMisconfigured indicates the listing's timezone or hours cannot be interpreted.
	ErrListingMisconfigured = errors.New("booking: listing schedule is misconfigured")
)

var bookingStateTransitions = map[domain.BookingStatus][]domain.BookingStatus{
	domain.BookingStatusPending:   {domain.BookingStatusConfirmed, domain.BookingStatusCancelled},
	domain.BookingStatusConfirmed: {domain.BookingStatusCancelled, domain.BookingStatusCompleted},
}

func canTransitionBooking(current, target domain.BookingStatus) bool {
	return slices.Contains(bookingStateTransitions[current], target)
}

// BookingServiceDeps bundles collaborators required to construct the booking service.
type BookingServiceDeps struct {
	Listings      repositories.ListingRepository
	Coupons       repositories.CouponRepository
	Bookings      repositories.BookingRepository
	Payments      repositories.PaymentRepository
	Ledger        repositories.LedgerRepository
	References    ReferenceGenerator
	Gateway       PaymentGateway
	Pricing       *PricingCalculator
	Notifications *NotificationDispatcher
	Events        BookingEventPublisher
	Metrics       Metrics
	// PendingTimeout is the default age for SweepStalePending.
	PendingTimeout time.Duration
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         Logger
}

type bookingService struct {
	listings       repositories.ListingRepository
	bookings       repositories.BookingRepository
	payments       repositories.PaymentRepository
	ledger         repositories.LedgerRepository
	coupons        couponLookup
	references     ReferenceGenerator
	gateway        PaymentGateway
	pricing        *PricingCalculator
	effects        *ledgerEffects
	pendingTimeout time.Duration
	clock          func() time.Time
	newID          func() string
	logger         Logger
}

// NewBookingService wires dependencies into a concrete BookingService implementation.
func NewBookingService(deps BookingServiceDeps) (BookingService, error) {
	switch {
	case deps.Listings == nil:
		return nil, errors.New("booking service: listing repository is required")
	case deps.Coupons == nil:
		return nil, errors.New("booking service: coupon repository is required")
	case deps.Bookings == nil || deps.Payments == nil || deps.Ledger == nil:
		return nil, errors.New("booking service: booking, payment and ledger repositories are required")
	case deps.References == nil:
		return nil, errors.New("booking service: reference generator is required")
	case deps.Gateway == nil:
		return nil, errors.New("booking service: payment gateway is required")
	}

	pricing := deps.Pricing
	if pricing == nil {
		var err error
		if pricing, err = NewPricingCalculator(PricingConfig{}); err != nil {
			return nil, err
		}
	}
	timeout := deps.PendingTimeout
	if timeout <= 0 {
		timeout = DefaultPendingTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &bookingService{
		listings:       deps.Listings,
		bookings:       deps.Bookings,
		payments:       deps.Payments,
		ledger:         deps.Ledger,
		coupons:        couponLookup{coupons: deps.Coupons, bookings: deps.Bookings},
		references:     deps.References,
		gateway:        deps.Gateway,
		pricing:        pricing,
		effects:        newLedgerEffects(deps.Ledger, deps.Notifications, deps.Events, deps.Metrics, logger),
		pendingTimeout: timeout,
		clock:          func() time.Time { return clock().UTC() },
		newID:          idGen,
		logger:         logger,
	}, nil
}

// bookingDraft is the validated, priced request shared by quote and create.
type bookingDraft struct {
	listing  Listing
	service  domain.ListingService
	schedule domain.Schedule
	coupon   *domain.AppliedCoupon
	removed  *CouponRemoved
	pricing  PricingSnapshot
	mode     domain.PaymentMode
}

func (s *bookingService) QuoteBooking(ctx context.Context, cmd QuoteBookingCommand) (BookingQuote, error) {
	draft, err := s.prepare(ctx, cmd, false)
	if err != nil {
		return BookingQuote{}, err
	}
	return BookingQuote{
		ListingID:     draft.listing.ID,
		Service:       snapshotService(draft.service),
		Schedule:      draft.schedule,
		Coupon:        draft.coupon,
		CouponRemoved: draft.removed,
		Pricing:       draft.pricing,
		Mode:          draft.mode,
	}, nil
}

// prepare validates the listing, schedule and coupon and computes pricing. When
// strictCoupon is set a rejected coupon aborts; otherwise it is reported as removed.
func (s *bookingService) prepare(ctx context.Context, cmd QuoteBookingCommand, strictCoupon bool) (bookingDraft, error) {
	listingID := strings.TrimSpace(cmd.ListingID)
	serviceID := strings.TrimSpace(cmd.ServiceID)
	if listingID == "" {
		return bookingDraft{}, fmt.Errorf("%w: listing id is required", ErrBookingInvalidInput)
	}
	if serviceID == "" {
		return bookingDraft{}, fmt.Errorf("%w: service id is required", ErrBookingInvalidInput)
	}
	mode := cmd.PaymentMode
	if mode == "" {
		mode = domain.PaymentModeFull
	}
	if !mode.Valid() {
		return bookingDraft{}, fmt.Errorf("%w: unsupported payment mode %q", ErrBookingInvalidInput, mode)
	}

	listing, err := s.listings.FindByID(ctx, listingID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return bookingDraft{}, fmt.Errorf("%w: %s", ErrListingNotFound, listingID)
		}
		return bookingDraft{}, err
	}
	service, ok := listing.FindService(serviceID)
	if !ok || !service.Active {
		return bookingDraft{}, fmt.Errorf("%w: service %s", ErrListingNotFound, serviceID)
	}
	if service.Price < 0 {
		return bookingDraft{}, fmt.Errorf("%w: service %s has a negative price", ErrBookingInvalidInput, serviceID)
	}

	schedule, err := s.validateSchedule(listing, cmd.Date, cmd.Time)
	if err != nil {
		return bookingDraft{}, err
	}

	draft := bookingDraft{listing: listing, service: service, schedule: schedule, mode: mode}
	var discount int64
	if code := textutil.NormalizeCode(cmd.CouponCode); code != "" {
		coupon, eval, err := s.coupons.evaluate(ctx, code, CouponContext{
			OrderAmount: service.Price,
			ListingID:   listing.ID,
			BookingDate: schedule.Date,
			CustomerID:  strings.TrimSpace(cmd.CustomerID),
		})
		if err != nil {
			return bookingDraft{}, fmt.Errorf("booking service: %w", err)
		}
		switch {
		case eval.Valid:
			discount = eval.DiscountAmount
			draft.coupon = &domain.AppliedCoupon{CouponID: coupon.ID, Code: coupon.Code, DiscountAmount: discount}
		case strictCoupon:
			return bookingDraft{}, newCouponInvalidError(code, eval)
		default:
			draft.removed = &CouponRemoved{Code: code, Reason: eval.Reason, Message: eval.Message}
		}
	}

	pricing, err := s.pricing.ComputePricing(service.Price, discount, mode)
	if err != nil {
		return bookingDraft{}, err
	}
	if listing.Currency == "" {
		listing.Currency = s.pricing.Currency()
	}
	draft.pricing = withCurrency(pricing, listing.Currency)
	return draft, nil
}

// validateSchedule checks the requested slot against the listing's hours in its
// own timezone. Start times must fall within [opensAt, closesAt). A window whose
// close is earlier than its open runs past midnight, and equal bounds mean the
// venue is open around the clock.
func (s *bookingService) validateSchedule(listing Listing, rawDate, rawTime string) (domain.Schedule, error) {
	date, err := domain.ParseDate(rawDate)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("%w: %v", ErrBookingInvalidInput, err)
	}
	start, err := parseClock(rawTime)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("%w: time must be HH:MM", ErrBookingInvalidInput)
	}

	loc, err := listingLocation(listing)
	if err != nil {
		return domain.Schedule{}, err
	}
	window, err := listingHours(listing)
	if err != nil {
		return domain.Schedule{}, err
	}

	if listing.ClosedWeekday != nil && date.Weekday() == *listing.ClosedWeekday {
		return domain.Schedule{}, fmt.Errorf("%w: %s is a %s", ErrScheduleClosedDay, date, date.Weekday())
	}
	if window != nil && !window.contains(start) {
		return domain.Schedule{}, fmt.Errorf("%w: %s is outside %s-%s", ErrScheduleOutOfHours, rawTime, listing.OpensAt, listing.ClosesAt)
	}

	startsAt := date.In(loc).Add(start)
	if startsAt.Before(s.clock().In(loc)) {
		return domain.Schedule{}, fmt.Errorf("%w: requested slot is in the past", ErrBookingInvalidInput)
	}
	return domain.Schedule{Date: date, Time: formatClock(start)}, nil
}

func listingLocation(listing Listing) (*time.Location, error) {
	tz := strings.TrimSpace(listing.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s timezone %q: %v", ErrListingMisconfigured, listing.ID, tz, err)
	}
	return loc, nil
}

type openingHours struct {
	opens, closes time.Duration
}

func (h openingHours) contains(start time.Duration) bool {
	switch {
	case h.opens == h.closes:
		return true
	case h.opens < h.closes:
		return start >= h.opens && start < h.closes
	default:
		return start >= h.opens || start < h.closes
	}
}

// listingHours returns nil when the listing sets no hours at all.
func listingHours(listing Listing) (*openingHours, error) {
	opensAt, closesAt := strings.TrimSpace(listing.OpensAt), strings.TrimSpace(listing.ClosesAt)
	if opensAt == "" && closesAt == "" {
		return nil, nil
	}
	opens, errOpen := parseClock(opensAt)
	closes, errClose := parseClock(closesAt)
	if errOpen != nil || errClose != nil {
		return nil, fmt.Errorf("%w: listing %s hours %q-%q", ErrListingMisconfigured, listing.ID, listing.OpensAt, listing.ClosesAt)
	}
	return &openingHours{opens: opens, closes: closes}, nil
}

func (s *bookingService) CreatePendingBooking(ctx context.Context, cmd CreateBookingCommand) (BookingCheckout, error) {
	contact, err := sanitizeContact(cmd.Contact)
	if err != nil {
		return BookingCheckout{}, err
	}
	draft, err := s.prepare(ctx, QuoteBookingCommand{
		ListingID:   cmd.ListingID,
		ServiceID:   cmd.ServiceID,
		Date:        cmd.Date,
		Time:        cmd.Time,
		CouponCode:  cmd.CouponCode,
		CustomerID:  cmd.CustomerID,
		PaymentMode: cmd.PaymentMode,
	}, true)
	if err != nil {
		return BookingCheckout{}, err
	}

	reference, err := s.references.NextBookingReference(ctx)
	if err != nil {
		return BookingCheckout{}, fmt.Errorf("booking service: allocate reference: %w", err)
	}

	now := s.clock()
	booking := Booking{
		ID:            bookingIDPrefix + s.newID(),
		Reference:     reference,
		ListingID:     draft.listing.ID,
		Contact:       contact,
		Notes:         textutil.PlainText(cmd.Notes, maxNotesLen),
		Service:       snapshotService(draft.service),
		Schedule:      draft.schedule,
		Coupon:        draft.coupon,
		Pricing:       draft.pricing,
		Mode:          draft.mode,
		PaymentStatus: domain.PaymentStatusPending,
		Status:        domain.BookingStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if customerID := strings.TrimSpace(cmd.CustomerID); customerID != "" {
		booking.CustomerID = &customerID
	}
	payment := Payment{
		ID:        paymentIDPrefix + s.newID(),
		BookingID: booking.ID,
		Status:    domain.PaymentRecordCreated,
		Amount:    booking.Pricing.AmountDueNow,
		Currency:  booking.Pricing.Currency,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var order payments.Order
	if payment.Amount > 0 {
		order, err = s.requestOrder(ctx, booking, cmd.PreferredProvider, checkoutOrderRequest(booking, cmd.IdempotencyKey))
		if err != nil {
			return BookingCheckout{}, err
		}
		payment.Provider = order.Provider
		payment.OrderRef = order.OrderRef
	} else {
		payment.Provider = ZeroDueProvider
		payment.OrderRef = booking.Reference
	}
	booking.PaymentID = payment.ID
	booking.Provider = payment.Provider
	booking.ProviderOrderID = payment.OrderRef

	if err := s.ledger.CreateBooking(ctx, booking, payment); err != nil {
		s.logger(ctx, "booking.persist.failed", map[string]any{
			"reference": booking.Reference,
			"orderRef":  payment.OrderRef,
			"error":     err.Error(),
		})
		return BookingCheckout{}, fmt.Errorf("booking service: persist booking: %w", err)
	}

	s.logger(ctx, "booking.created", map[string]any{
		"bookingId":    booking.ID,
		"reference":    booking.Reference,
		"listingId":    booking.ListingID,
		"provider":     payment.Provider,
		"amountDueNow": booking.Pricing.AmountDueNow,
		"guest":        booking.Guest(),
	})
	s.effects.metrics.BookingCreated(ctx, booking.ListingID, booking.Mode)
	s.effects.publish(ctx, BookingEventCreated, booking, now)

	if payment.Amount == 0 {
		result, err := s.effects.commitCapture(ctx, booking, payment, CaptureSignal{
			Provider:   payment.Provider,
			OrderRef:   payment.OrderRef,
			CapturedAt: now,
			Channel:    channelZeroDue,
		})
		if err != nil {
			return BookingCheckout{}, err
		}
		return BookingCheckout{Booking: result.Booking, Payment: result.Payment}, nil
	}
	return BookingCheckout{Booking: booking, Payment: payment, ClientSecret: order.ClientSecret}, nil
}

func (s *bookingService) requestOrder(ctx context.Context, booking Booking, preferred string, req payments.OrderRequest) (payments.Order, error) {
	order, err := s.gateway.CreateOrder(ctx, payments.PaymentContext{
		PreferredProvider: preferred,
		Currency:          booking.Pricing.Currency,
	}, req)
	if err != nil {
		s.logger(ctx, "payment.order.failed", map[string]any{
			"bookingId": booking.ID,
			"reference": booking.Reference,
			"error":     err.Error(),
		})
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return payments.Order{}, fmt.Errorf("%w: %v", ErrBookingInvalidInput, err)
		}
		return payments.Order{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if order.OrderRef == "" {
		return payments.Order{}, fmt.Errorf("%w: provider returned no order reference", ErrProviderUnavailable)
	}
	return order, nil
}

func (s *bookingService) GetBooking(ctx context.Context, bookingID string) (Booking, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return Booking{}, fmt.Errorf("%w: booking id is required", ErrBookingInvalidInput)
	}
	booking, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Booking{}, fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
		}
		return Booking{}, err
	}
	return booking, nil
}

func (s *bookingService) CancelPendingBooking(ctx context.Context, cmd CancelBookingCommand) (Booking, error) {
	booking, err := s.GetBooking(ctx, cmd.BookingID)
	if err != nil {
		return Booking{}, err
	}
	if booking.Status != domain.BookingStatusPending || !canTransitionBooking(booking.Status, domain.BookingStatusCancelled) {
		return Booking{}, fmt.Errorf("%w: cannot cancel a %s booking", ErrBookingInvalidState, booking.Status)
	}
	reason := textutil.PlainText(cmd.Reason, 200)
	if reason == "" {
		reason = "cancelled"
	}
	return s.cancel(ctx, booking, reason, "booking_cancelled", cmd.ActorID)
}

func (s *bookingService) cancel(ctx context.Context, booking Booking, reason, errorCode, actorID string) (Booking, error) {
	now := s.clock()
	applied, err := s.ledger.CancelPending(ctx, repositories.CancelCommit{
		BookingID:   booking.ID,
		Reason:      reason,
		ErrorCode:   errorCode,
		CancelledAt: now,
	})
	if err != nil {
		return Booking{}, fmt.Errorf("booking service: cancel: %w", err)
	}
	if !applied {
		return Booking{}, fmt.Errorf("%w: booking %s is no longer pending", ErrBookingInvalidState, booking.ID)
	}
	updated, err := s.GetBooking(ctx, booking.ID)
	if err != nil {
		return Booking{}, err
	}
	s.logger(ctx, "booking.cancelled", map[string]any{
		"bookingId": updated.ID,
		"reason":    reason,
		"actorId":   actorID,
	})
	s.effects.metrics.BookingCancelled(ctx, updated.ListingID, reason)
	s.effects.publish(ctx, BookingEventCancelled, updated, now)
	return updated, nil
}

func (s *bookingService) CompleteBooking(ctx context.Context, cmd CompleteBookingCommand) (Booking, error) {
	booking, err := s.GetBooking(ctx, cmd.BookingID)
	if err != nil {
		return Booking{}, err
	}
	if !canTransitionBooking(booking.Status, domain.BookingStatusCompleted) {
		return Booking{}, fmt.Errorf("%w: cannot complete a %s booking", ErrBookingInvalidState, booking.Status)
	}
	now := s.clock()
	applied, err := s.ledger.Complete(ctx, booking.ID, now)
	if err != nil {
		return Booking{}, fmt.Errorf("booking service: complete: %w", err)
	}
	if !applied {
		return Booking{}, fmt.Errorf("%w: booking %s is no longer confirmed", ErrBookingInvalidState, booking.ID)
	}
	updated, err := s.GetBooking(ctx, booking.ID)
	if err != nil {
		return Booking{}, err
	}
	s.logger(ctx, "booking.completed", map[string]any{
		"bookingId": updated.ID,
		"actorId":   cmd.ActorID,
	})
	s.effects.publish(ctx, BookingEventCompleted, updated, now)
	return updated, nil
}

func (s *bookingService) ReissuePaymentOrder(ctx context.Context, cmd ReissueOrderCommand) (BookingCheckout, error) {
	booking, err := s.GetBooking(ctx, cmd.BookingID)
	if err != nil {
		return BookingCheckout{}, err
	}
	if booking.Status != domain.BookingStatusPending {
		return BookingCheckout{}, fmt.Errorf("%w: cannot reissue an order for a %s booking", ErrBookingInvalidState, booking.Status)
	}
	if booking.Pricing.AmountDueNow == 0 {
		return BookingCheckout{}, fmt.Errorf("%w: booking %s owes nothing online", ErrBookingInvalidState, booking.ID)
	}
	previous, err := s.payments.FindByID(ctx, booking.PaymentID)
	if err != nil {
		return BookingCheckout{}, fmt.Errorf("booking service: load current payment: %w", err)
	}
	if !previous.Status.Open() {
		return BookingCheckout{}, fmt.Errorf("%w: current payment is %s", ErrBookingInvalidState, previous.Status)
	}

	order, err := s.requestOrder(ctx, booking, cmd.PreferredProvider, bookingOrderRequest(booking, uuid.NewString()))
	if err != nil {
		return BookingCheckout{}, err
	}
	now := s.clock()
	payment := Payment{
		ID:        paymentIDPrefix + s.newID(),
		BookingID: booking.ID,
		Provider:  order.Provider,
		OrderRef:  order.OrderRef,
		Status:    domain.PaymentRecordCreated,
		Amount:    booking.Pricing.AmountDueNow,
		Currency:  booking.Pricing.Currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.ledger.ReplacePayment(ctx, repositories.ReplacePaymentCommit{
		BookingID:         booking.ID,
		PreviousPaymentID: previous.ID,
		Payment:           payment,
		At:                now,
	})
	if err != nil {
		if repositories.IsConflict(err) {
			return BookingCheckout{}, fmt.Errorf("%w: %v", ErrBookingInvalidState, err)
		}
		return BookingCheckout{}, fmt.Errorf("booking service: replace payment: %w", err)
	}
	updated, err := s.GetBooking(ctx, booking.ID)
	if err != nil {
		return BookingCheckout{}, err
	}
	s.logger(ctx, "payment.order.reissued", map[string]any{
		"bookingId":         booking.ID,
		"previousPaymentId": previous.ID,
		"paymentId":         payment.ID,
		"provider":          payment.Provider,
	})
	return BookingCheckout{Booking: updated, Payment: payment, ClientSecret: order.ClientSecret}, nil
}

func (s *bookingService) SweepStalePending(ctx context.Context, cmd SweepCommand) (SweepResult, error) {
	olderThan := cmd.OlderThan
	if olderThan <= 0 {
		olderThan = s.pendingTimeout
	}
	limit := cmd.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	cutoff := s.clock().Add(-olderThan)

	// Limit caps the bookings acted on. Authorised ones are paged past so they
	// never starve newer stale bookings.
	var result SweepResult
	var after *repositories.StaleCursor
	processed := 0
	for processed < limit {
		page, err := s.bookings.ListStalePending(ctx, cutoff, after, limit)
		if err != nil {
			return result, fmt.Errorf("booking service: list stale bookings: %w", err)
		}
		for _, booking := range page {
			if processed == limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return result, err
			}
			result.Scanned++
			after = &repositories.StaleCursor{CreatedAt: booking.CreatedAt, ID: booking.ID}
			if payment, err := s.payments.FindByID(ctx, booking.PaymentID); err == nil && payment.Status == domain.PaymentRecordAuthorized {
				// authorised money may still be captured; leave it to the provider signal
				result.Skipped++
				continue
			}
			processed++
			if _, err := s.cancel(ctx, booking, "payment_timeout", "payment_timeout", "sweeper"); err != nil {
				if errors.Is(err, ErrBookingInvalidState) {
					result.Skipped++
					continue
				}
				result.Failed++
				s.logger(ctx, "booking.sweep.failed", map[string]any{
					"bookingId": booking.ID,
					"error":     err.Error(),
				})
				continue
			}
			result.Cancelled = append(result.Cancelled, booking.ID)
		}
		if len(page) < limit {
			break
		}
	}
	s.logger(ctx, "booking.sweep.completed", map[string]any{
		"scanned":   result.Scanned,
		"cancelled": len(result.Cancelled),
		"skipped":   result.Skipped,
		"failed":    result.Failed,
	})
	return result, nil
}

func sanitizeContact(in Contact) (Contact, error) {
	out := Contact{
		Name:  textutil.PlainText(in.Name, maxContactNameLen),
		Phone: textutil.PlainText(in.Phone, maxContactPhoneLen),
		Email: strings.ToLower(textutil.PlainText(in.Email, maxContactEmailLen)),
	}
	if out.Name == "" {
		return Contact{}, fmt.Errorf("%w: contact name is required", ErrBookingInvalidInput)
	}
	if out.Phone == "" && out.Email == "" {
		return Contact{}, fmt.Errorf("%w: contact phone or email is required", ErrBookingInvalidInput)
	}
	if out.Email != "" && !strings.Contains(out.Email, "@") {
		return Contact{}, fmt.Errorf("%w: contact email is invalid", ErrBookingInvalidInput)
	}
	return out, nil
}

func snapshotService(svc domain.ListingService) domain.ServiceSnapshot {
	return domain.ServiceSnapshot{
		ServiceID:       svc.ID,
		Title:           svc.Title,
		Description:     svc.Description,
		UnitPrice:       svc.Price,
		DurationMinutes: svc.DurationMinutes,
	}
}

// bookingOrderRequest ties a provider order to an already allocated booking.
func bookingOrderRequest(booking Booking, idempotencyKey string) payments.OrderRequest {
	return payments.OrderRequest{
		Amount:   booking.Pricing.AmountDueNow,
		Currency: booking.Pricing.Currency,
		Receipt:  booking.Reference,
		Notes: map[string]string{
			"bookingId": booking.ID,
			"listingId": booking.ListingID,
			"reference": booking.Reference,
		},
		IdempotencyKey: idempotencyKey,
	}
}

// checkoutOrderRequest derives the provider key from the client's
// Idempotency-Key. A retry of the same request allocates a new booking id and
// reference, so under a derived key only fields fixed by the request body are
// sent and the provider sees identical parameters.
func checkoutOrderRequest(booking Booking, clientKey string) payments.OrderRequest {
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		return bookingOrderRequest(booking, uuid.NewString())
	}
	key := uuid.NewSHA1(uuid.NameSpaceURL, []byte("booking-order:"+clientKey)).String()
	return payments.OrderRequest{
		Amount:   booking.Pricing.AmountDueNow,
		Currency: booking.Pricing.Currency,
		Receipt:  key,
		Notes: map[string]string{
			"listingId": booking.ListingID,
			"serviceId": booking.Service.ServiceID,
			"slot":      booking.Schedule.Date.String() + " " + booking.Schedule.Time,
		},
		IdempotencyKey: key,
	}
}

func parseClock(value string) (time.Duration, error) {
	t, err := time.Parse(clockLayout, strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func formatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
