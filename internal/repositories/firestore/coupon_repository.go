package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/bookings/internal/domain"
	pfirestore "github.com/hanko-field/bookings/internal/platform/firestore"
	"github.com/hanko-field/bookings/internal/repositories"
)

// CouponRepository stores coupons keyed by id with a code index collection that
// keeps codes unique.
type CouponRepository struct {
	provider *pfirestore.Provider
	coupons  *pfirestore.Collection[couponDocument]
	codes    *pfirestore.Collection[couponCodeDocument]
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{
		provider: provider,
		coupons:  pfirestore.NewCollection[couponDocument](provider, couponsCollection),
		codes:    pfirestore.NewCollection[couponCodeDocument](provider, couponCodesCollection),
	}, nil
}

// Insert creates the coupon and claims its code in one transaction.
func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	doc := encodeCoupon(coupon)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		codeRef, err := r.codes.Ref(ctx, coupon.Code)
		if err != nil {
			return err
		}
		couponRef, err := r.coupons.Ref(ctx, coupon.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(codeRef, couponCodeDocument{CouponID: coupon.ID}); err != nil {
			return err
		}
		return tx.Create(couponRef, doc)
	})
	if err != nil {
		return pfirestore.WrapError("coupons.insert", err)
	}
	return nil
}

func (r *CouponRepository) FindByID(ctx context.Context, couponID string) (domain.Coupon, error) {
	doc, err := r.coupons.Get(ctx, couponID)
	if err != nil {
		return domain.Coupon{}, err
	}
	return decodeCoupon(doc)
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	index, err := r.codes.Get(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	coupon, err := r.FindByID(ctx, index.CouponID)
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("coupon code %s: %w", code, err)
	}
	return coupon, nil
}
