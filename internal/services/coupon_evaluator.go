package services

import (
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/bookings/internal/domain"
)

// CouponRejection is the machine readable reason a coupon does not apply.
type CouponRejection string

const (
	CouponNotFound             CouponRejection = "coupon_not_found"
	CouponInactive             CouponRejection = "coupon_inactive"
	CouponListingMismatch      CouponRejection = "coupon_listing_mismatch"
	CouponNotYetValid          CouponRejection = "coupon_not_yet_valid"
	CouponExpired              CouponRejection = "coupon_expired"
	CouponUsageLimitReached    CouponRejection = "coupon_usage_limit_reached"
	CouponMinOrderNotMet       CouponRejection = "coupon_min_order_not_met"
	CouponCustomerLimitReached CouponRejection = "coupon_customer_limit_reached"
)

var couponRejectionMessages = map[CouponRejection]string{
	CouponNotFound:             "This coupon code does not exist.",
	CouponInactive:             "This coupon is no longer active.",
	CouponListingMismatch:      "This coupon cannot be used for this venue.",
	CouponNotYetValid:          "This coupon is not valid yet for the selected date.",
	CouponExpired:              "This coupon has expired for the selected date.",
	CouponUsageLimitReached:    "This coupon has reached its usage limit.",
	CouponMinOrderNotMet:       "The order amount is below this coupon's minimum.",
	CouponCustomerLimitReached: "You have already used this coupon the maximum number of times.",
}

// Message returns the customer facing explanation for the rejection.
func (r CouponRejection) Message() string {
	if msg, ok := couponRejectionMessages[r]; ok {
		return msg
	}
	return "This coupon cannot be applied."
}

// CouponContext is the order a coupon is evaluated against. BookingDate is the
// calendar date being booked, never the evaluation date.
type CouponContext struct {
	OrderAmount               int64
	ListingID                 string
	BookingDate               domain.Date
	CustomerID                string
	PriorConfirmedRedemptions int64
}

// CouponEvaluation is the outcome of EvaluateCoupon.
type CouponEvaluation struct {
	Valid          bool
	Reason         CouponRejection
	Message        string
	DiscountAmount int64
}

// EvaluateCoupon checks coupon against ctx and stops at the first failing rule.
func EvaluateCoupon(coupon *domain.Coupon, ctx CouponContext) CouponEvaluation {
	if reason := couponRejection(coupon, ctx); reason != "" {
		return CouponEvaluation{Reason: reason, Message: reason.Message()}
	}
	return CouponEvaluation{Valid: true, DiscountAmount: CalculateDiscount(*coupon, ctx.OrderAmount)}
}

func couponRejection(coupon *domain.Coupon, ctx CouponContext) CouponRejection {
	switch {
	case coupon == nil:
		return CouponNotFound
	case !coupon.IsActive:
		return CouponInactive
	}
	if coupon.Scope == domain.CouponScopeListing {
		if coupon.ListingID == nil || *coupon.ListingID != ctx.ListingID {
			return CouponListingMismatch
		}
	}
	if !coupon.ValidFrom.IsZero() && ctx.BookingDate.Before(coupon.ValidFrom) {
		return CouponNotYetValid
	}
	if !coupon.ValidUntil.IsZero() && ctx.BookingDate.After(coupon.ValidUntil) {
		return CouponExpired
	}
	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return CouponUsageLimitReached
	}
	if ctx.OrderAmount < coupon.MinOrderAmount {
		return CouponMinOrderNotMet
	}
	// guests have no identity to count against
	if ctx.CustomerID != "" && coupon.PerCustomerLimit != nil && ctx.PriorConfirmedRedemptions >= *coupon.PerCustomerLimit {
		return CouponCustomerLimitReached
	}
	return ""
}

// CalculateDiscount returns the discount for orderAmount, always within [0, orderAmount].
// Percent discounts round half away from zero to whole minor units.
func CalculateDiscount(coupon domain.Coupon, orderAmount int64) int64 {
	if orderAmount <= 0 || coupon.Value <= 0 {
		return 0
	}
	var discount int64
	switch coupon.DiscountType {
	case domain.DiscountTypePercent:
		percent := coupon.Value
		if percent > 100 {
			percent = 100
		}
		discount = decimal.NewFromInt(orderAmount).
			Mul(decimal.NewFromInt(percent)).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart()
	case domain.DiscountTypeFixed:
		discount = coupon.Value
	default:
		return 0
	}
	if discount > orderAmount {
		return orderAmount
	}
	if discount < 0 {
		return 0
	}
	return discount
}
