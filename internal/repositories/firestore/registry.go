package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/hanko-field/bookings/internal/platform/firestore"
	"github.com/hanko-field/bookings/internal/repositories"
)

// Registry wires the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider
	coupons  *CouponRepository
	listings *ListingRepository
	bookings *BookingRepository
	payments *PaymentRepository
	ledger   *LedgerRepository
	counters *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every Firestore repository on top of one provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}
	listings, err := NewListingRepository(provider)
	if err != nil {
		return nil, err
	}
	bookings, err := NewBookingRepository(provider)
	if err != nil {
		return nil, err
	}
	payments, err := NewPaymentRepository(provider)
	if err != nil {
		return nil, err
	}
	ledger, err := NewLedgerRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider, repositories.CounterCeiling)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider: provider,
		coupons:  coupons,
		listings: listings,
		bookings: bookings,
		payments: payments,
		ledger:   ledger,
		counters: counters,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }
func (r *Registry) Ping(ctx context.Context) error  { return r.provider.Ping(ctx) }

func (r *Registry) Coupons() repositories.CouponRepository   { return r.coupons }
func (r *Registry) Listings() repositories.ListingRepository { return r.listings }
func (r *Registry) Bookings() repositories.BookingRepository { return r.bookings }
func (r *Registry) Payments() repositories.PaymentRepository { return r.payments }
func (r *Registry) Ledger() repositories.LedgerRepository    { return r.ledger }
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }
