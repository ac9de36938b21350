//go:build integration

package firestore

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/bookings/internal/domain"
	pconfig "github.com/hanko-field/bookings/internal/platform/config"
	pfirestore "github.com/hanko-field/bookings/internal/platform/firestore"
	"github.com/hanko-field/bookings/internal/repositories"
)

func newEmulatorRegistry(t *testing.T) *Registry {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "bookings-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	registry, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return registry
}

func TestLedgerCaptureRaceIncrementsCouponOnce(t *testing.T) {
	registry := newEmulatorRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	suffix := ulid.Make().String()
	limit := int64(1)
	coupon := domain.Coupon{
		ID:           "cpn_" + suffix,
		Code:         "RACE" + suffix,
		DiscountType: domain.DiscountTypeFixed,
		Value:        1000,
		Scope:        domain.CouponScopeGlobal,
		ValidFrom:    domain.Date{Year: 2025, Month: time.January, Day: 1},
		ValidUntil:   domain.Date{Year: 2025, Month: time.December, Day: 31},
		UsageLimit:   &limit,
		IsActive:     true,
	}
	if err := registry.Coupons().Insert(ctx, coupon); err != nil {
		t.Fatalf("Insert coupon: %v", err)
	}

	now := time.Now().UTC()
	commits := make([]repositories.CaptureCommit, 2)
	for i := range commits {
		id := ulid.Make().String()
		booking := domain.Booking{
			ID:              "bkg_" + id,
			ListingID:       "lst_1",
			Schedule:        domain.Schedule{Date: domain.Date{Year: 2025, Month: time.June, Day: 2}, Time: "10:00"},
			Coupon:          &domain.AppliedCoupon{CouponID: coupon.ID, Code: coupon.Code, DiscountAmount: 1000},
			Provider:        "gateway",
			ProviderOrderID: "order_" + id,
			PaymentID:       "pay_" + id,
			PaymentStatus:   domain.PaymentStatusPending,
			Status:          domain.BookingStatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		payment := domain.Payment{ID: booking.PaymentID, BookingID: booking.ID, Provider: "gateway", OrderRef: booking.ProviderOrderID, Status: domain.PaymentRecordCreated, Amount: 9000, Currency: "INR", CreatedAt: now}
		if err := registry.Ledger().CreateBooking(ctx, booking, payment); err != nil {
			t.Fatalf("CreateBooking: %v", err)
		}
		commits[i] = repositories.CaptureCommit{PaymentID: payment.ID, BookingID: booking.ID, PaymentRef: "ref_" + id, PaymentStatus: domain.PaymentStatusPaid, CapturedAt: now}
	}

	var wg sync.WaitGroup
	for _, commit := range commits {
		for dup := 0; dup < 2; dup++ {
			wg.Add(1)
			go func(commit repositories.CaptureCommit) {
				defer wg.Done()
				if _, err := registry.Ledger().CommitCapture(ctx, commit); err != nil {
					t.Errorf("CommitCapture: %v", err)
				}
			}(commit)
		}
	}
	wg.Wait()

	stored, err := registry.Coupons().FindByID(ctx, coupon.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.UsedCount != 1 {
		t.Fatalf("expected used count 1, got %d", stored.UsedCount)
	}
}

func TestCounterRepositoryExhaustsAtCeiling(t *testing.T) {
	registry := newEmulatorRegistry(t)
	ctx := context.Background()
	repo, err := NewCounterRepository(registry.provider, 2)
	if err != nil {
		t.Fatalf("NewCounterRepository: %v", err)
	}
	id := "bookings:" + ulid.Make().String()
	for want := int64(1); want <= 2; want++ {
		got, err := repo.Next(ctx, id, 1)
		if err != nil || got != want {
			t.Fatalf("Next: got %d err %v want %d", got, err, want)
		}
	}
	_, err = repo.Next(ctx, id, 1)
	var counterErr *repositories.CounterError
	if !errors.As(err, &counterErr) || counterErr.Code != repositories.CounterErrorExhausted {
		t.Fatalf("expected exhausted error, got %v", err)
	}
}
