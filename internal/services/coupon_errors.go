package services

import (
	"errors"
	"fmt"
)

var (
	// ErrCouponInvalid is wrapped by every *CouponInvalidError.
	ErrCouponInvalid = errors.New("coupon: invalid")
	// ErrCouponInvalidInput indicates a malformed coupon definition or request.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponConflict indicates the coupon code is already taken.
	ErrCouponConflict = errors.New("coupon: code already exists")
	// ErrCouponRepositoryMissing indicates the coupon repository dependency is absent.
	ErrCouponRepositoryMissing = errors.New("coupon service: repository is not configured")
)

// CouponInvalidError carries the specific reason a coupon was rejected.
type CouponInvalidError struct {
	Code    string
	Reason  CouponRejection
	Message string
}

func (e *CouponInvalidError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("coupon %s rejected: %s", e.Code, e.Reason)
}

// Unwrap lets callers match ErrCouponInvalid with errors.Is.
func (e *CouponInvalidError) Unwrap() error { return ErrCouponInvalid }

func newCouponInvalidError(code string, eval CouponEvaluation) *CouponInvalidError {
	msg := eval.Message
	if msg == "" {
		msg = eval.Reason.Message()
	}
	return &CouponInvalidError{Code: code, Reason: eval.Reason, Message: msg}
}
