package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/bookings/internal/domain"
	"github.com/hanko-field/bookings/internal/platform/textutil"
	"github.com/hanko-field/bookings/internal/repositories"
)

const (
	couponIDPrefix   = "cpn_"
	maxCouponCodeLen = 32
)

// CouponServiceDeps bundles dependencies required to construct a CouponService implementation.
type CouponServiceDeps struct {
	Coupons  repositories.CouponRepository
	Bookings repositories.BookingRepository
	Listings repositories.ListingRepository
	Pricing  *PricingCalculator
	Clock    func() time.Time
	IDGen    func() string
	Logger   Logger
}

type couponService struct {
	coupons  repositories.CouponRepository
	lookup   couponLookup
	listings repositories.ListingRepository
	pricing  *PricingCalculator
	clock    func() time.Time
	newID    func() string
	logger   Logger
}

// NewCouponService wires a CouponService backed by the provided repositories.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, ErrCouponRepositoryMissing
	}
	if deps.Bookings == nil {
		return nil, errors.New("coupon service: booking repository is required")
	}
	pricing := deps.Pricing
	if pricing == nil {
		var err error
		if pricing, err = NewPricingCalculator(PricingConfig{}); err != nil {
			return nil, err
		}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &couponService{
		coupons:  deps.Coupons,
		lookup:   couponLookup{coupons: deps.Coupons, bookings: deps.Bookings},
		listings: deps.Listings,
		pricing:  pricing,
		clock:    func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

func (s *couponService) Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponValidation, error) {
	code := textutil.NormalizeCode(cmd.Code)
	if code == "" {
		return CouponValidation{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}
	listingID := strings.TrimSpace(cmd.ListingID)
	if listingID == "" {
		return CouponValidation{}, fmt.Errorf("%w: listing id is required", ErrCouponInvalidInput)
	}
	if cmd.BookingDate.IsZero() {
		return CouponValidation{}, fmt.Errorf("%w: booking date is required", ErrCouponInvalidInput)
	}

	orderAmount := cmd.OrderAmount
	currency := ""
	if serviceID := strings.TrimSpace(cmd.ServiceID); serviceID != "" && s.listings != nil {
		listing, err := s.listings.FindByID(ctx, listingID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return CouponValidation{}, fmt.Errorf("%w: listing %s not found", ErrCouponInvalidInput, listingID)
			}
			return CouponValidation{}, err
		}
		svc, ok := listing.FindService(serviceID)
		if !ok || !svc.Active {
			return CouponValidation{}, fmt.Errorf("%w: service %s not found", ErrCouponInvalidInput, serviceID)
		}
		orderAmount = svc.Price
		currency = listing.Currency
	}
	if orderAmount < 0 {
		return CouponValidation{}, fmt.Errorf("%w: order amount must not be negative", ErrCouponInvalidInput)
	}

	coupon, eval, err := s.lookup.evaluate(ctx, code, CouponContext{
		OrderAmount: orderAmount,
		ListingID:   listingID,
		BookingDate: cmd.BookingDate,
		CustomerID:  strings.TrimSpace(cmd.CustomerID),
	})
	if err != nil {
		return CouponValidation{}, err
	}
	if !eval.Valid {
		s.logger(ctx, "coupon.rejected", map[string]any{
			"code":      code,
			"listingId": listingID,
			"reason":    string(eval.Reason),
		})
		return CouponValidation{}, newCouponInvalidError(code, eval)
	}

	pricing, err := s.pricing.ComputePricing(orderAmount, eval.DiscountAmount, domain.PaymentModeFull)
	if err != nil {
		return CouponValidation{}, err
	}
	return CouponValidation{
		Coupon:         coupon,
		DiscountAmount: eval.DiscountAmount,
		Pricing:        withCurrency(pricing, currency),
	}, nil
}

type couponLookup struct {
	coupons  repositories.CouponRepository
	bookings repositories.BookingRepository
}

// evaluate loads the coupon by its normalised code and runs the evaluator. A
// missing coupon is an evaluation result, not an error.
func (l couponLookup) evaluate(ctx context.Context, code string, cctx CouponContext) (Coupon, CouponEvaluation, error) {
	coupon, err := l.coupons.FindByCode(ctx, code)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Coupon{}, EvaluateCoupon(nil, cctx), nil
		}
		return Coupon{}, CouponEvaluation{}, fmt.Errorf("load coupon: %w", err)
	}
	if cctx.CustomerID != "" && coupon.PerCustomerLimit != nil {
		count, err := l.bookings.CountConfirmedRedemptions(ctx, cctx.CustomerID, coupon.Code)
		if err != nil {
			return Coupon{}, CouponEvaluation{}, fmt.Errorf("count redemptions: %w", err)
		}
		cctx.PriorConfirmedRedemptions = count
	}
	return coupon, EvaluateCoupon(&coupon, cctx), nil
}

func (s *couponService) CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (Coupon, error) {
	code := textutil.NormalizeCode(cmd.Code)
	if err := validateCouponDefinition(code, cmd); err != nil {
		return Coupon{}, err
	}

	now := s.clock()
	coupon := Coupon{
		ID:               couponIDPrefix + s.newID(),
		Code:             code,
		DiscountType:     cmd.DiscountType,
		Value:            cmd.Value,
		Scope:            cmd.Scope,
		ValidFrom:        cmd.ValidFrom,
		ValidUntil:       cmd.ValidUntil,
		UsageLimit:       cloneInt64Ptr(cmd.UsageLimit),
		PerCustomerLimit: cloneInt64Ptr(cmd.PerCustomerLimit),
		MinOrderAmount:   cmd.MinOrderAmount,
		IsActive:         cmd.IsActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if cmd.Scope == domain.CouponScopeListing {
		listingID := strings.TrimSpace(*cmd.ListingID)
		if s.listings != nil {
			if _, err := s.listings.FindByID(ctx, listingID); err != nil {
				if repositories.IsNotFound(err) {
					return Coupon{}, fmt.Errorf("%w: listing %s not found", ErrCouponInvalidInput, listingID)
				}
				return Coupon{}, err
			}
		}
		coupon.ListingID = &listingID
	}

	if err := s.coupons.Insert(ctx, coupon); err != nil {
		if repositories.IsConflict(err) {
			return Coupon{}, fmt.Errorf("%w: %s", ErrCouponConflict, code)
		}
		return Coupon{}, err
	}
	s.logger(ctx, "coupon.created", map[string]any{
		"couponId": coupon.ID,
		"code":     coupon.Code,
		"scope":    string(coupon.Scope),
	})
	return coupon, nil
}

func validateCouponDefinition(code string, cmd CreateCouponCommand) error {
	switch {
	case code == "":
		return fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	case len(code) > maxCouponCodeLen:
		return fmt.Errorf("%w: code must be at most %d characters", ErrCouponInvalidInput, maxCouponCodeLen)
	case !cmd.DiscountType.Valid():
		return fmt.Errorf("%w: unsupported discount type %q", ErrCouponInvalidInput, cmd.DiscountType)
	case cmd.DiscountType == domain.DiscountTypePercent && (cmd.Value < 0 || cmd.Value > 100):
		return fmt.Errorf("%w: percent value must be between 0 and 100", ErrCouponInvalidInput)
	case cmd.DiscountType == domain.DiscountTypeFixed && cmd.Value < 0:
		return fmt.Errorf("%w: fixed value must not be negative", ErrCouponInvalidInput)
	case !cmd.Scope.Valid():
		return fmt.Errorf("%w: unsupported scope %q", ErrCouponInvalidInput, cmd.Scope)
	case cmd.MinOrderAmount < 0:
		return fmt.Errorf("%w: minimum order amount must not be negative", ErrCouponInvalidInput)
	case cmd.UsageLimit != nil && *cmd.UsageLimit < 0:
		return fmt.Errorf("%w: usage limit must not be negative", ErrCouponInvalidInput)
	case cmd.PerCustomerLimit != nil && *cmd.PerCustomerLimit < 0:
		return fmt.Errorf("%w: per customer limit must not be negative", ErrCouponInvalidInput)
	case !cmd.ValidFrom.IsZero() && !cmd.ValidUntil.IsZero() && cmd.ValidFrom.After(cmd.ValidUntil):
		return fmt.Errorf("%w: valid from must not be after valid until", ErrCouponInvalidInput)
	}

	hasListing := cmd.ListingID != nil && strings.TrimSpace(*cmd.ListingID) != ""
	if cmd.Scope == domain.CouponScopeListing && !hasListing {
		return fmt.Errorf("%w: listing scoped coupons require a listing id", ErrCouponInvalidInput)
	}
	if cmd.Scope == domain.CouponScopeGlobal && cmd.ListingID != nil {
		return fmt.Errorf("%w: global coupons must not reference a listing", ErrCouponInvalidInput)
	}
	return nil
}

func cloneInt64Ptr(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
