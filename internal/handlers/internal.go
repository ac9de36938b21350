package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/bookings/internal/domain"
	"github.com/hanko-field/bookings/internal/platform/auth"
	"github.com/hanko-field/bookings/internal/platform/httpx"
	"github.com/hanko-field/bookings/internal/services"
)

const maxInternalRequestBody = 8 * 1024

// InternalHandlers serves operator and back-office calls. The router mounts
// them behind HMAC verification.
type InternalHandlers struct {
	coupons    services.CouponService
	bookings   services.BookingService
	reconciler services.PaymentReconciler
	sweepAge   time.Duration
}

// NewInternalHandlers constructs internal handlers. sweepAge is the default
// staleness threshold for the manual sweep endpoint.
func NewInternalHandlers(coupons services.CouponService, bookings services.BookingService, reconciler services.PaymentReconciler, sweepAge time.Duration) *InternalHandlers {
	if sweepAge <= 0 {
		sweepAge = 24 * time.Hour
	}
	return &InternalHandlers{
		coupons:    coupons,
		bookings:   bookings,
		reconciler: reconciler,
		sweepAge:   sweepAge,
	}
}

// Routes registers internal endpoints under the /internal group.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/coupons", h.createCoupon)
	r.Post("/bookings:sweep", h.sweepBookings)
	r.Post("/bookings/{bookingId}:cancel", h.cancelBooking)
	r.Post("/bookings/{bookingId}:complete", h.completeBooking)
	r.Post("/bookings/{bookingId}:refund", h.refundBooking)
}

type createCouponRequest struct {
	Code             string  `json:"code"`
	DiscountType     string  `json:"discountType"`
	Value            int64   `json:"value"`
	Scope            string  `json:"scope"`
	ListingID        *string `json:"listingId"`
	ValidFrom        string  `json:"validFrom"`
	ValidUntil       string  `json:"validUntil"`
	UsageLimit       *int64  `json:"usageLimit"`
	PerCustomerLimit *int64  `json:"perCustomerLimit"`
	MinOrderAmount   int64   `json:"minOrderAmount"`
	IsActive         *bool   `json:"isActive"`
}

type bookingActionRequest struct {
	Reason  string `json:"reason"`
	ActorID string `json:"actorId"`
	Amount  *int64 `json:"amount"`
}

type sweepRequest struct {
	OlderThanMinutes int `json:"olderThanMinutes"`
	Limit            int `json:"limit"`
}

type sweepResponse struct {
	Scanned   int      `json:"scanned"`
	Cancelled []string `json:"cancelled"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
}

func (h *InternalHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req createCouponRequest
	if !decodeJSONBody(w, r, maxInternalRequestBody, &req) {
		return
	}
	validFrom, errFrom := domain.ParseDate(strings.TrimSpace(req.ValidFrom))
	validUntil, errUntil := domain.ParseDate(strings.TrimSpace(req.ValidUntil))
	if errFrom != nil || errUntil != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "validFrom and validUntil must be YYYY-MM-DD", http.StatusBadRequest))
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	coupon, err := h.coupons.CreateCoupon(ctx, services.CreateCouponCommand{
		Code:             req.Code,
		DiscountType:     domain.DiscountType(strings.TrimSpace(req.DiscountType)),
		Value:            req.Value,
		Scope:            domain.CouponScope(strings.TrimSpace(req.Scope)),
		ListingID:        req.ListingID,
		ValidFrom:        validFrom,
		ValidUntil:       validUntil,
		UsageLimit:       req.UsageLimit,
		PerCustomerLimit: req.PerCustomerLimit,
		MinOrderAmount:   req.MinOrderAmount,
		IsActive:         active,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, newCouponView(coupon))
}

func (h *InternalHandlers) cancelBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeBookingsUnavailable(w, r)
		return
	}
	req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	booking, err := h.bookings.CancelPendingBooking(ctx, services.CancelBookingCommand{
		BookingID: chi.URLParam(r, "bookingId"),
		Reason:    req.Reason,
		ActorID:   actorID(r, req.ActorID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newBookingView(booking))
}

func (h *InternalHandlers) completeBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeBookingsUnavailable(w, r)
		return
	}
	req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	booking, err := h.bookings.CompleteBooking(ctx, services.CompleteBookingCommand{
		BookingID: chi.URLParam(r, "bookingId"),
		ActorID:   actorID(r, req.ActorID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newBookingView(booking))
}

func (h *InternalHandlers) refundBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("refund_unavailable", "payment reconciler unavailable", http.StatusServiceUnavailable))
		return
	}
	req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	result, err := h.reconciler.RefundBooking(ctx, services.RefundBookingCommand{
		BookingID: chi.URLParam(r, "bookingId"),
		Amount:    req.Amount,
		Reason:    req.Reason,
		ActorID:   actorID(r, req.ActorID),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, reconcileView{Outcome: string(result.Outcome), Booking: newBookingView(result.Booking)})
}

func (h *InternalHandlers) sweepBookings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeBookingsUnavailable(w, r)
		return
	}
	var req sweepRequest
	if r.ContentLength != 0 {
		if !decodeJSONBody(w, r, maxInternalRequestBody, &req) {
			return
		}
	}
	olderThan := h.sweepAge
	if req.OlderThanMinutes > 0 {
		olderThan = time.Duration(req.OlderThanMinutes) * time.Minute
	}

	result, err := h.bookings.SweepStalePending(ctx, services.SweepCommand{OlderThan: olderThan, Limit: req.Limit})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	cancelled := result.Cancelled
	if cancelled == nil {
		cancelled = []string{}
	}
	writeJSONResponse(w, http.StatusOK, sweepResponse{
		Scanned:   result.Scanned,
		Cancelled: cancelled,
		Skipped:   result.Skipped,
		Failed:    result.Failed,
	})
}

func (h *InternalHandlers) decodeAction(w http.ResponseWriter, r *http.Request) (bookingActionRequest, bool) {
	var req bookingActionRequest
	if r.ContentLength == 0 {
		return req, true
	}
	ok := decodeJSONBody(w, r, maxInternalRequestBody, &req)
	return req, ok
}

// actorID prefers the operator named in the request, falling back to the
// signing secret so every manual transition is attributable.
func actorID(r *http.Request, requested string) string {
	if requested = strings.TrimSpace(requested); requested != "" {
		return requested
	}
	if meta, ok := auth.HMACMetadataFromContext(r.Context()); ok {
		return "hmac:" + meta.SecretName
	}
	return "internal"
}
