package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/bookings/internal/payments"
	"github.com/hanko-field/bookings/internal/platform/httpx"
	"github.com/hanko-field/bookings/internal/platform/requestctx"
	"github.com/hanko-field/bookings/internal/services"
)

const (
	maxWebhookBody         = 256 * 1024
	defaultSignatureHeader = "X-Webhook-Signature"
	gatewaySignatureHeader = "X-Razorpay-Signature"
	stripeSignatureHeader  = "Stripe-Signature"
)

var webhookSignatureHeaders = map[string]string{
	payments.GatewayProviderName: gatewaySignatureHeader,
	payments.StripeProviderName:  stripeSignatureHeader,
}

// WebhookHandlers receives signed provider callbacks. The body is handed to the
// reconciler byte for byte so signatures can be checked against it.
type WebhookHandlers struct {
	reconciler services.PaymentReconciler
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(reconciler services.PaymentReconciler) *WebhookHandlers {
	return &WebhookHandlers{reconciler: reconciler}
}

// Routes registers webhook endpoints under the /webhooks group.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.paymentWebhook)
}

type webhookResponse struct {
	Outcome   string `json:"outcome"`
	EventType string `json:"eventType,omitempty"`
	BookingID string `json:"bookingId,omitempty"`
}

func (h *WebhookHandlers) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "payment reconciler unavailable", http.StatusServiceUnavailable))
		return
	}
	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))

	body, err := readLimitedBody(r, maxWebhookBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	header, ok := webhookSignatureHeaders[provider]
	if !ok {
		header = defaultSignatureHeader
	}
	signature := strings.TrimSpace(r.Header.Get(header))
	if signature == "" {
		signature = strings.TrimSpace(r.Header.Get(defaultSignatureHeader))
	}

	result, err := h.reconciler.HandleWebhook(ctx, services.HandleWebhookCommand{
		Provider:  provider,
		RawBody:   body,
		Signature: signature,
	})
	if err != nil {
		if errors.Is(err, services.ErrSignatureInvalid) {
			requestctx.Logger(ctx).Warn("webhook signature rejected", zap.String("provider", provider))
		}
		writeServiceError(ctx, w, err)
		return
	}

	resp := webhookResponse{Outcome: string(result.Outcome), EventType: result.EventType}
	if result.Booking.ID != "" {
		resp.BookingID = result.Booking.ID
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
