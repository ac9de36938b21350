package handlers

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/bookings/internal/domain"
	"github.com/hanko-field/bookings/internal/platform/httpx"
	"github.com/hanko-field/bookings/internal/platform/requestctx"
	"github.com/hanko-field/bookings/internal/services"
)

const (
	maxCouponRequestBody    = 4 * 1024
	defaultCouponRateLimit  = 20
	defaultCouponRateWindow = time.Minute
)

// CouponHandlers exposes coupon validation to storefront clients.
type CouponHandlers struct {
	coupons services.CouponService
	limiter rateLimiter
}

// CouponHandlerOption customises CouponHandlers.
type CouponHandlerOption func(*CouponHandlers)

// WithCouponRateLimit sets how many validations one client may attempt per window.
// A non-positive limit disables throttling.
func WithCouponRateLimit(limit int, window time.Duration, clock func() time.Time) CouponHandlerOption {
	return func(h *CouponHandlers) {
		h.limiter = newKeyedRateLimiter(limit, window, clock)
	}
}

// NewCouponHandlers constructs coupon handlers with the default throttle.
func NewCouponHandlers(coupons services.CouponService, opts ...CouponHandlerOption) *CouponHandlers {
	h := &CouponHandlers{
		coupons: coupons,
		limiter: newKeyedRateLimiter(defaultCouponRateLimit, defaultCouponRateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers coupon endpoints.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/coupons:validate", h.validateCoupon)
}

type validateCouponRequest struct {
	Code        string `json:"code"`
	ListingID   string `json:"listingId"`
	ServiceID   string `json:"serviceId"`
	OrderAmount int64  `json:"orderAmount"`
	BookingDate string `json:"bookingDate"`
}

type validateCouponResponse struct {
	Valid          bool        `json:"valid"`
	Code           string      `json:"code"`
	DiscountType   string      `json:"discountType"`
	Value          int64       `json:"value"`
	DiscountAmount int64       `json:"discountAmount"`
	Pricing        pricingView `json:"pricing"`
}

func (h *CouponHandlers) validateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
		w.Header().Set("Retry-After", "60")
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many coupon attempts, slow down", http.StatusTooManyRequests))
		return
	}

	var req validateCouponRequest
	if !decodeJSONBody(w, r, maxCouponRequestBody, &req) {
		return
	}
	bookingDate, err := domain.ParseDate(strings.TrimSpace(req.BookingDate))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "bookingDate must be YYYY-MM-DD", http.StatusBadRequest))
		return
	}

	result, err := h.coupons.Validate(ctx, services.ValidateCouponCommand{
		Code:        req.Code,
		ListingID:   req.ListingID,
		ServiceID:   req.ServiceID,
		OrderAmount: req.OrderAmount,
		BookingDate: bookingDate,
		CustomerID:  requestctx.CustomerID(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, validateCouponResponse{
		Valid:          true,
		Code:           result.Coupon.Code,
		DiscountType:   string(result.Coupon.DiscountType),
		Value:          result.Coupon.Value,
		DiscountAmount: result.DiscountAmount,
		Pricing:        newPricingView(result.Pricing),
	})
}

// clientKey identifies the caller for throttling: the signed-in customer when
// known, otherwise the remote IP as resolved by middleware.RealIP.
func clientKey(r *http.Request) string {
	if id := requestctx.CustomerID(r.Context()); id != "" {
		return "customer:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
