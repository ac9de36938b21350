package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/hanko-field/bookings/internal/payments"
	"github.com/hanko-field/bookings/internal/platform/httpx"
	"github.com/hanko-field/bookings/internal/services"
)

const defaultMaxBody = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	return data, nil
}

// decodeJSONBody reads and strictly decodes a JSON object, writing the error
// response itself when it returns false.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON: "+err.Error(), http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeServiceError maps service sentinels onto the JSON error envelope.
// Signature and provider failures carry no detail beyond their code.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var couponErr *services.CouponInvalidError
	switch {
	case errors.As(err, &couponErr):
		httpx.WriteError(ctx, w, httpx.NewError(string(couponErr.Reason), couponErr.Message, http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"code": couponErr.Code}))
	case errors.Is(err, services.ErrScheduleClosedDay):
		httpx.WriteError(ctx, w, httpx.NewError("schedule_closed_day", "the venue is closed on the requested day", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrScheduleOutOfHours):
		httpx.WriteError(ctx, w, httpx.NewError("schedule_out_of_hours", "the requested time is outside opening hours", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrListingMisconfigured):
		httpx.WriteError(ctx, w, httpx.NewError("listing_misconfigured", "the listing cannot take bookings right now", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrSignatureInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("signature_invalid", "signature verification failed", http.StatusUnauthorized))
	case errors.Is(err, services.ErrProviderUnavailable), payments.IsTemporary(err):
		httpx.WriteError(ctx, w, httpx.NewError("provider_unavailable", "payment provider unavailable, retry later", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrBookingNotFound),
		errors.Is(err, services.ErrListingNotFound),
		errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrBookingInvalidState),
		errors.Is(err, services.ErrPaymentNotRefundable):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCouponConflict):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, payments.ErrUnsupportedProvider):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_provider", "payment provider is not supported", http.StatusNotFound))
	case errors.Is(err, services.ErrBookingInvalidInput),
		errors.Is(err, services.ErrCouponInvalidInput),
		errors.Is(err, services.ErrPricingInvalidInput),
		errors.Is(err, services.ErrPaymentInvalidInput),
		errors.Is(err, services.ErrWebhookPayloadInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}
