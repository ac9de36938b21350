// Package memory keeps the whole ledger in process behind a single mutex. It backs
// local runs without cloud credentials and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/bookings/internal/domain"
	"github.com/hanko-field/bookings/internal/repositories"
)

// Store implements repositories.Registry and every repository contract.
type Store struct {
	mu       sync.Mutex
	coupons  map[string]domain.Coupon
	codes    map[string]string
	listings map[string]domain.Listing
	bookings map[string]domain.Booking
	payments map[string]domain.Payment
	orders   map[string]string
	counters map[string]int64
	ceiling  map[string]int64
}

var _ repositories.Registry = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		coupons:  make(map[string]domain.Coupon),
		codes:    make(map[string]string),
		listings: make(map[string]domain.Listing),
		bookings: make(map[string]domain.Booking),
		payments: make(map[string]domain.Payment),
		orders:   make(map[string]string),
		counters: make(map[string]int64),
		ceiling:  make(map[string]int64),
	}
}

func (s *Store) Close(context.Context) error { return nil }
func (s *Store) Ping(context.Context) error  { return nil }

func (s *Store) Coupons() repositories.CouponRepository   { return couponRepo{s} }
func (s *Store) Listings() repositories.ListingRepository { return listingRepo{s} }
func (s *Store) Bookings() repositories.BookingRepository { return bookingRepo{s} }
func (s *Store) Payments() repositories.PaymentRepository { return paymentRepo{s} }
func (s *Store) Ledger() repositories.LedgerRepository    { return s }
func (s *Store) Counters() repositories.CounterRepository { return s }

// PutListing seeds or replaces a listing.
func (s *Store) PutListing(listing domain.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[listing.ID] = cloneListing(listing)
}

// SetCounterCeiling caps a counter so Next fails once the value would pass max.
func (s *Store) SetCounterCeiling(counterID string, max int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ceiling[counterID] = max
}

type couponRepo struct{ s *Store }

// Insert stores a new coupon; codes are unique.
func (r couponRepo) Insert(_ context.Context, coupon domain.Coupon) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.coupons[coupon.ID]; ok {
		return repositories.ConflictError("coupons.insert", fmt.Errorf("coupon %s exists", coupon.ID))
	}
	if _, ok := r.s.codes[coupon.Code]; ok {
		return repositories.ConflictError("coupons.insert", fmt.Errorf("code %s exists", coupon.Code))
	}
	r.s.coupons[coupon.ID] = cloneCoupon(coupon)
	r.s.codes[coupon.Code] = coupon.ID
	return nil
}

func (r couponRepo) FindByID(_ context.Context, couponID string) (domain.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.coupons[couponID]
	if !ok {
		return domain.Coupon{}, repositories.NotFoundError("coupons.get")
	}
	return cloneCoupon(c), nil
}

func (r couponRepo) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.codes[code]
	if !ok {
		return domain.Coupon{}, repositories.NotFoundError("coupons.findByCode")
	}
	return cloneCoupon(r.s.coupons[id]), nil
}

// Next advances the named counter.
func (s *Store) Next(_ context.Context, counterID string, step int64) (int64, error) {
	const op = "counters.next"
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(op, repositories.CounterErrorInvalidInput, "counter id is required")
	}
	if step < 0 {
		return 0, repositories.NewCounterError(op, repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step))
	}
	if step == 0 {
		step = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.counters[id] + step
	if max, ok := s.ceiling[id]; ok && next > max {
		return 0, repositories.NewCounterError(op, repositories.CounterErrorExhausted, fmt.Sprintf("counter %s exceeded max value %d", id, max))
	}
	s.counters[id] = next
	return next, nil
}

// CreateBooking stores the pending booking together with its first payment attempt.
func (s *Store) CreateBooking(_ context.Context, booking domain.Booking, payment domain.Payment) error {
	const op = "ledger.createBooking"
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[booking.ID]; ok {
		return repositories.ConflictError(op, fmt.Errorf("booking %s exists", booking.ID))
	}
	if _, ok := s.payments[payment.ID]; ok {
		return repositories.ConflictError(op, fmt.Errorf("payment %s exists", payment.ID))
	}
	key := orderKey(payment.Provider, payment.OrderRef)
	if _, ok := s.orders[key]; ok {
		return repositories.ConflictError(op, fmt.Errorf("order %s exists", payment.OrderRef))
	}
	s.bookings[booking.ID] = cloneBooking(booking)
	s.payments[payment.ID] = clonePayment(payment)
	s.orders[key] = payment.ID
	return nil
}

func (s *Store) CommitCapture(_ context.Context, commit repositories.CaptureCommit) (repositories.CaptureOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	booking, payment, err := s.loadPair("ledger.commitCapture", commit.BookingID, commit.PaymentID)
	if err != nil {
		return repositories.CaptureOutcome{}, err
	}
	plan := repositories.PlanCapture(booking, payment, commit)
	if !plan.Changed {
		return plan.Outcome, nil
	}
	if plan.IncrementCoupon {
		if coupon, ok := s.coupons[plan.Booking.Coupon.CouponID]; ok {
			if repositories.CouponIncrementAllowed(coupon) {
				coupon.UsedCount++
				coupon.UpdatedAt = commit.CapturedAt.UTC()
				s.coupons[coupon.ID] = coupon
				plan.Outcome.CouponIncremented = true
			} else {
				plan.Outcome.CouponLimitReached = true
			}
		}
	}
	s.bookings[plan.Booking.ID] = cloneBooking(plan.Booking)
	s.payments[plan.Payment.ID] = clonePayment(plan.Payment)
	return plan.Outcome, nil
}

func (s *Store) CommitAuthorization(_ context.Context, commit repositories.AuthorizationCommit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment, ok := s.payments[commit.PaymentID]
	if !ok {
		return false, repositories.NotFoundError("ledger.commitAuthorization")
	}
	updated, applied := repositories.PlanAuthorization(payment, commit)
	if applied {
		s.payments[updated.ID] = clonePayment(updated)
	}
	return applied, nil
}

func (s *Store) CommitFailure(_ context.Context, commit repositories.FailureCommit) (repositories.FailureOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	booking, payment, err := s.loadPair("ledger.commitFailure", commit.BookingID, commit.PaymentID)
	if err != nil {
		return repositories.FailureOutcome{}, err
	}
	plan := repositories.PlanFailure(booking, payment, commit)
	if plan.PaymentChanged {
		s.payments[plan.Payment.ID] = clonePayment(plan.Payment)
	}
	if plan.BookingChanged {
		s.bookings[plan.Booking.ID] = cloneBooking(plan.Booking)
	}
	return plan.Outcome, nil
}

func (s *Store) CommitRefund(_ context.Context, commit repositories.RefundCommit) (repositories.RefundOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	booking, payment, err := s.loadPair("ledger.commitRefund", commit.BookingID, commit.PaymentID)
	if err != nil {
		return repositories.RefundOutcome{}, err
	}
	plan := repositories.PlanRefund(booking, payment, commit)
	if plan.PaymentChanged {
		s.payments[plan.Payment.ID] = clonePayment(plan.Payment)
	}
	if plan.BookingChanged {
		s.bookings[plan.Booking.ID] = cloneBooking(plan.Booking)
	}
	return plan.Outcome, nil
}

func (s *Store) CancelPending(_ context.Context, commit repositories.CancelCommit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	booking, ok := s.bookings[commit.BookingID]
	if !ok {
		return false, repositories.NotFoundError("ledger.cancelPending")
	}
	var current *domain.Payment
	if p, ok := s.payments[booking.PaymentID]; ok {
		current = &p
	}
	updated, payment, applied := repositories.PlanCancel(booking, current, commit)
	if !applied {
		return false, nil
	}
	s.bookings[updated.ID] = cloneBooking(updated)
	if payment != nil {
		s.payments[payment.ID] = clonePayment(*payment)
	}
	return true, nil
}

func (s *Store) Complete(_ context.Context, bookingID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	booking, ok := s.bookings[bookingID]
	if !ok {
		return false, repositories.NotFoundError("ledger.complete")
	}
	updated, applied := repositories.PlanComplete(booking, at)
	if applied {
		s.bookings[updated.ID] = cloneBooking(updated)
	}
	return applied, nil
}

func (s *Store) ReplacePayment(_ context.Context, commit repositories.ReplacePaymentCommit) error {
	const op = "ledger.replacePayment"
	s.mu.Lock()
	defer s.mu.Unlock()
	booking, previous, err := s.loadPair(op, commit.BookingID, commit.PreviousPaymentID)
	if err != nil {
		return err
	}
	key := orderKey(commit.Payment.Provider, commit.Payment.OrderRef)
	if _, ok := s.orders[key]; ok {
		return repositories.ConflictError(op, fmt.Errorf("order %s exists", commit.Payment.OrderRef))
	}
	updated, superseded, err := repositories.PlanReplacement(booking, previous, commit)
	if err != nil {
		return err
	}
	s.bookings[updated.ID] = cloneBooking(updated)
	s.payments[superseded.ID] = clonePayment(superseded)
	s.payments[commit.Payment.ID] = clonePayment(commit.Payment)
	s.orders[key] = commit.Payment.ID
	return nil
}

func (s *Store) loadPair(op, bookingID, paymentID string) (domain.Booking, domain.Payment, error) {
	booking, ok := s.bookings[bookingID]
	if !ok {
		return domain.Booking{}, domain.Payment{}, repositories.NotFoundError(op + ".booking")
	}
	payment, ok := s.payments[paymentID]
	if !ok || payment.BookingID != bookingID {
		return domain.Booking{}, domain.Payment{}, repositories.NotFoundError(op + ".payment")
	}
	return booking, payment, nil
}

type listingRepo struct{ s *Store }

func (r listingRepo) FindByID(_ context.Context, listingID string) (domain.Listing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.listings[listingID]
	if !ok {
		return domain.Listing{}, repositories.NotFoundError("listings.get")
	}
	return cloneListing(l), nil
}

type bookingRepo struct{ s *Store }

func (r bookingRepo) FindByID(_ context.Context, bookingID string) (domain.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[bookingID]
	if !ok {
		return domain.Booking{}, repositories.NotFoundError("bookings.get")
	}
	return cloneBooking(b), nil
}

func (r bookingRepo) CountConfirmedRedemptions(_ context.Context, customerID, code string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var count int64
	for _, b := range r.s.bookings {
		if b.CustomerID == nil || *b.CustomerID != customerID || b.Coupon == nil || b.Coupon.Code != code {
			continue
		}
		if b.Status == domain.BookingStatusConfirmed || b.Status == domain.BookingStatusCompleted {
			count++
		}
	}
	return count, nil
}

func (r bookingRepo) ListStalePending(_ context.Context, createdBefore time.Time, after *repositories.StaleCursor, limit int) ([]domain.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Booking
	for _, b := range r.s.bookings {
		if b.Status == domain.BookingStatusPending && b.CreatedAt.Before(createdBefore) && after.Precedes(b) {
			out = append(out, cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type paymentRepo struct{ s *Store }

func (r paymentRepo) FindByID(_ context.Context, paymentID string) (domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[paymentID]
	if !ok {
		return domain.Payment{}, repositories.NotFoundError("payments.get")
	}
	return clonePayment(p), nil
}

func (r paymentRepo) FindByOrderRef(_ context.Context, provider, orderRef string) (domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.orders[orderKey(provider, orderRef)]
	if !ok {
		return domain.Payment{}, repositories.NotFoundError("payments.findByOrderRef")
	}
	return clonePayment(r.s.payments[id]), nil
}

func (r paymentRepo) FindByPaymentRef(_ context.Context, provider, paymentRef string) (domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if p.Provider == provider && p.PaymentRef != nil && *p.PaymentRef == paymentRef {
			return clonePayment(p), nil
		}
	}
	return domain.Payment{}, repositories.NotFoundError("payments.findByPaymentRef")
}

func orderKey(provider, orderRef string) string {
	return provider + "/" + orderRef
}
