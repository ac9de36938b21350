package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/bookings/internal/domain"
	"github.com/hanko-field/bookings/internal/repositories"
)

var testNow = time.Date(2025, time.January, 10, 8, 0, 0, 0, time.UTC)

func seedBooking(t *testing.T, s *Store, id string, coupon *domain.AppliedCoupon, deferred int64) (domain.Booking, domain.Payment) {
	t.Helper()
	booking := domain.Booking{
		ID:            "bkg_" + id,
		ListingID:     "lst_1",
		Coupon:        coupon,
		Pricing:       domain.PricingSnapshot{FinalAmount: 200000, AmountDueNow: 200000 - deferred, AmountDeferred: deferred},
		Provider:      "gateway",
		PaymentID:     "pay_" + id,
		PaymentStatus: domain.PaymentStatusPending,
		Status:        domain.BookingStatusPending,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
	payment := domain.Payment{
		ID:        "pay_" + id,
		BookingID: booking.ID,
		Provider:  "gateway",
		OrderRef:  "order_" + id,
		Status:    domain.PaymentRecordCreated,
		Amount:    booking.Pricing.AmountDueNow,
		Currency:  "INR",
		CreatedAt: testNow,
	}
	booking.ProviderOrderID = payment.OrderRef
	if err := s.CreateBooking(context.Background(), booking, payment); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	return booking, payment
}

func limit(v int64) *int64 { return &v }

func TestCommitCaptureIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Coupons().Insert(ctx, domain.Coupon{ID: "cpn_1", Code: "SAVE20", UsageLimit: limit(50), UsedCount: 10, IsActive: true}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	booking, payment := seedBooking(t, s, "1", &domain.AppliedCoupon{CouponID: "cpn_1", Code: "SAVE20", DiscountAmount: 50000}, 0)

	commit := repositories.CaptureCommit{
		PaymentID:     payment.ID,
		BookingID:     booking.ID,
		PaymentRef:    "pay_ref_1",
		PaymentStatus: domain.PaymentStatusPaid,
		CapturedAt:    testNow.Add(time.Minute),
	}
	first, err := s.CommitCapture(ctx, commit)
	if err != nil {
		t.Fatalf("CommitCapture: %v", err)
	}
	if !first.BookingConfirmed || !first.CouponIncremented {
		t.Fatalf("expected confirmation with coupon increment, got %+v", first)
	}

	second, err := s.CommitCapture(ctx, commit)
	if err != nil {
		t.Fatalf("CommitCapture second: %v", err)
	}
	if !second.AlreadyCaptured || second.CouponIncremented {
		t.Fatalf("expected duplicate no-op, got %+v", second)
	}

	coupon, err := s.Coupons().FindByID(ctx, "cpn_1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if coupon.UsedCount != 11 {
		t.Fatalf("expected used count 11, got %d", coupon.UsedCount)
	}
	stored, _ := s.Bookings().FindByID(ctx, booking.ID)
	if stored.Status != domain.BookingStatusConfirmed || stored.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("unexpected booking state %s/%s", stored.Status, stored.PaymentStatus)
	}
	if stored.ProviderPaymentID == nil || *stored.ProviderPaymentID != "pay_ref_1" {
		t.Fatalf("expected provider payment id to be stamped")
	}
}

func TestCommitCaptureNeverExceedsUsageLimitUnderConcurrency(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Coupons().Insert(ctx, domain.Coupon{ID: "cpn_1", Code: "RUSH", UsageLimit: limit(5), IsActive: true}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	const attempts = 20
	commits := make([]repositories.CaptureCommit, attempts)
	for i := 0; i < attempts; i++ {
		b, p := seedBooking(t, s, fmt.Sprint(i), &domain.AppliedCoupon{CouponID: "cpn_1", Code: "RUSH"}, 0)
		commits[i] = repositories.CaptureCommit{
			PaymentID:     p.ID,
			BookingID:     b.ID,
			PaymentRef:    "ref_" + fmt.Sprint(i),
			PaymentStatus: domain.PaymentStatusPaid,
			CapturedAt:    testNow,
		}
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		incremented int
		limited     int
	)
	for i := 0; i < attempts; i++ {
		// every capture is delivered twice to mimic webhook and client racing
		for dup := 0; dup < 2; dup++ {
			wg.Add(1)
			go func(commit repositories.CaptureCommit) {
				defer wg.Done()
				out, err := s.CommitCapture(ctx, commit)
				if err != nil {
					t.Errorf("CommitCapture: %v", err)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if out.CouponIncremented {
					incremented++
				}
				if out.CouponLimitReached {
					limited++
				}
			}(commits[i])
		}
	}
	wg.Wait()

	coupon, _ := s.Coupons().FindByID(ctx, "cpn_1")
	if coupon.UsedCount != 5 {
		t.Fatalf("expected used count capped at 5, got %d", coupon.UsedCount)
	}
	if incremented != 5 || limited != attempts-5 {
		t.Fatalf("expected 5 increments and %d limit hits, got %d and %d", attempts-5, incremented, limited)
	}
}

func TestCommitCaptureOnCancelledBookingIsOrphaned(t *testing.T) {
	s := New()
	ctx := context.Background()
	booking, payment := seedBooking(t, s, "1", nil, 0)

	applied, err := s.CancelPending(ctx, repositories.CancelCommit{BookingID: booking.ID, Reason: "stale_pending", CancelledAt: testNow})
	if err != nil || !applied {
		t.Fatalf("CancelPending applied=%v err=%v", applied, err)
	}

	out, err := s.CommitCapture(ctx, repositories.CaptureCommit{PaymentID: payment.ID, BookingID: booking.ID, PaymentRef: "late", PaymentStatus: domain.PaymentStatusPaid, CapturedAt: testNow})
	if err != nil {
		t.Fatalf("CommitCapture: %v", err)
	}
	if out.BookingConfirmed || !out.Payment.Orphaned {
		t.Fatalf("expected orphaned capture, got %+v", out)
	}
	stored, _ := s.Bookings().FindByID(ctx, booking.ID)
	if stored.Status != domain.BookingStatusCancelled {
		t.Fatalf("cancelled booking must stay cancelled, got %s", stored.Status)
	}
}

func TestCommitFailureAndRefund(t *testing.T) {
	s := New()
	ctx := context.Background()
	booking, payment := seedBooking(t, s, "1", nil, 0)

	failed, err := s.CommitFailure(ctx, repositories.FailureCommit{PaymentID: payment.ID, BookingID: booking.ID, ErrorCode: "BAD_REQUEST_ERROR", FailedAt: testNow})
	if err != nil {
		t.Fatalf("CommitFailure: %v", err)
	}
	if !failed.BookingCancelled || failed.Booking.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected cancelled booking, got %+v", failed)
	}
	again, _ := s.CommitFailure(ctx, repositories.FailureCommit{PaymentID: payment.ID, BookingID: booking.ID, FailedAt: testNow})
	if !again.AlreadySettled {
		t.Fatalf("expected repeat failure to be a no-op")
	}

	other, otherPayment := seedBooking(t, s, "2", &domain.AppliedCoupon{CouponID: "cpn_x", Code: "X"}, 0)
	if _, err := s.CommitCapture(ctx, repositories.CaptureCommit{PaymentID: otherPayment.ID, BookingID: other.ID, PaymentRef: "r2", PaymentStatus: domain.PaymentStatusPaid, CapturedAt: testNow}); err != nil {
		t.Fatalf("CommitCapture: %v", err)
	}
	refund, err := s.CommitRefund(ctx, repositories.RefundCommit{PaymentID: otherPayment.ID, BookingID: other.ID, RefundRef: "rfnd_1", RefundedAt: testNow})
	if err != nil {
		t.Fatalf("CommitRefund: %v", err)
	}
	if !refund.BookingCancelled || refund.Booking.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded booking, got %+v", refund.Booking)
	}
	if refund.Payment.RefundedAmount != otherPayment.Amount {
		t.Fatalf("expected full refund amount, got %d", refund.Payment.RefundedAmount)
	}
	dup, _ := s.CommitRefund(ctx, repositories.RefundCommit{PaymentID: otherPayment.ID, BookingID: other.ID, RefundRef: "rfnd_1", RefundedAt: testNow})
	if !dup.AlreadyRefunded {
		t.Fatalf("expected duplicate refund to be a no-op")
	}
}

func TestReplacePaymentSupersedesCurrentAttempt(t *testing.T) {
	s := New()
	ctx := context.Background()
	booking, payment := seedBooking(t, s, "1", nil, 0)

	next := domain.Payment{ID: "pay_2", BookingID: booking.ID, Provider: "gateway", OrderRef: "order_2", Status: domain.PaymentRecordCreated, Amount: payment.Amount}
	if err := s.ReplacePayment(ctx, repositories.ReplacePaymentCommit{BookingID: booking.ID, PreviousPaymentID: payment.ID, Payment: next, At: testNow}); err != nil {
		t.Fatalf("ReplacePayment: %v", err)
	}
	prev, _ := s.Payments().FindByID(ctx, payment.ID)
	if prev.Status != domain.PaymentRecordSuperseded {
		t.Fatalf("expected superseded, got %s", prev.Status)
	}
	found, err := s.Payments().FindByOrderRef(ctx, "gateway", "order_2")
	if err != nil || found.ID != "pay_2" {
		t.Fatalf("FindByOrderRef: %v %+v", err, found)
	}
	stored, _ := s.Bookings().FindByID(ctx, booking.ID)
	if stored.PaymentID != "pay_2" || stored.ProviderOrderID != "order_2" {
		t.Fatalf("booking not pointed at new attempt: %+v", stored)
	}

	err = s.ReplacePayment(ctx, repositories.ReplacePaymentCommit{BookingID: booking.ID, PreviousPaymentID: payment.ID, Payment: domain.Payment{ID: "pay_3", BookingID: booking.ID, Provider: "gateway", OrderRef: "order_3"}, At: testNow})
	if !repositories.IsConflict(err) {
		t.Fatalf("expected conflict replacing a stale attempt, got %v", err)
	}
}

func TestCountConfirmedRedemptionsAndStalePending(t *testing.T) {
	s := New()
	ctx := context.Background()
	customer := "cus_1"
	for i := 0; i < 3; i++ {
		seedBooking(t, s, fmt.Sprint(i), &domain.AppliedCoupon{CouponID: "cpn_1", Code: "LOYAL"}, 0)
	}
	s.mu.Lock()
	for id, b := range s.bookings {
		b.CustomerID = &customer
		s.bookings[id] = b
	}
	s.mu.Unlock()

	for i := 0; i < 2; i++ {
		id := fmt.Sprint(i)
		if _, err := s.CommitCapture(ctx, repositories.CaptureCommit{PaymentID: "pay_" + id, BookingID: "bkg_" + id, PaymentRef: "r" + id, PaymentStatus: domain.PaymentStatusPaid, CapturedAt: testNow}); err != nil {
			t.Fatalf("CommitCapture: %v", err)
		}
	}

	count, err := s.Bookings().CountConfirmedRedemptions(ctx, customer, "LOYAL")
	if err != nil {
		t.Fatalf("CountConfirmedRedemptions: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 confirmed redemptions, got %d", count)
	}

	stale, err := s.Bookings().ListStalePending(ctx, testNow.Add(time.Hour), nil, 10)
	if err != nil {
		t.Fatalf("ListStalePending: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "bkg_2" {
		t.Fatalf("expected only bkg_2 to be stale, got %+v", stale)
	}
}

func TestListStalePendingPagesByCursor(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		seedBooking(t, s, id, nil, 0)
	}

	first, err := s.Bookings().ListStalePending(ctx, testNow.Add(time.Hour), nil, 2)
	if err != nil {
		t.Fatalf("ListStalePending: %v", err)
	}
	if len(first) != 2 || first[0].ID != "bkg_a" || first[1].ID != "bkg_b" {
		t.Fatalf("unexpected first page %+v", first)
	}
	last := first[len(first)-1]
	second, err := s.Bookings().ListStalePending(ctx, testNow.Add(time.Hour), &repositories.StaleCursor{CreatedAt: last.CreatedAt, ID: last.ID}, 2)
	if err != nil {
		t.Fatalf("ListStalePending: %v", err)
	}
	if len(second) != 1 || second[0].ID != "bkg_c" {
		t.Fatalf("unexpected second page %+v", second)
	}
}

func TestCounterNextHonoursCeiling(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SetCounterCeiling("bookings:2025", 2)
	for want := int64(1); want <= 2; want++ {
		got, err := s.Next(ctx, "bookings:2025", 1)
		if err != nil || got != want {
			t.Fatalf("Next: got %d err %v, want %d", got, err, want)
		}
	}
	_, err := s.Next(ctx, "bookings:2025", 1)
	counterErr, ok := err.(*repositories.CounterError)
	if !ok || counterErr.Code != repositories.CounterErrorExhausted {
		t.Fatalf("expected exhausted counter error, got %v", err)
	}
}
