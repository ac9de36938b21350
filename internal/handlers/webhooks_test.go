package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hanko-field/bookings/internal/payments"
	"github.com/hanko-field/bookings/internal/services"
)

func TestWebhookHandlersPassesRawBodyAndProviderSignature(t *testing.T) {
	const payload = `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1"}}}}`
	var got []services.HandleWebhookCommand
	reconciler := &fakeReconciler{
		webhookFn: func(_ context.Context, cmd services.HandleWebhookCommand) (services.ReconcileResult, error) {
			got = append(got, cmd)
			return services.ReconcileResult{Outcome: services.ReconcileAlreadyProcessed, EventType: "payment.captured", Booking: sampleBooking("bkg_1", nil)}, nil
		},
	}
	router := NewRouter(WithWebhookRoutes(NewWebhookHandlers(reconciler).Routes))

	for provider, header := range map[string]string{
		"gateway": "X-Razorpay-Signature",
		"Stripe":  "Stripe-Signature",
		"other":   "X-Webhook-Signature",
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments/"+provider, strings.NewReader(payload))
		req.Header.Set(header, " sig-"+provider+" ")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", provider, rr.Code, rr.Body.String())
		}
		body := decodeBody(t, rr)
		if body["outcome"] != "already_processed" || body["bookingId"] != "bkg_1" {
			t.Fatalf("%s: unexpected body %v", provider, body)
		}
		last := got[len(got)-1]
		if last.Provider != strings.ToLower(provider) || last.Signature != "sig-"+provider || string(last.RawBody) != payload {
			t.Fatalf("%s: unexpected command %+v", provider, last)
		}
	}
}

func TestWebhookHandlersErrors(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
	}{
		"bad signature":    {err: services.ErrSignatureInvalid, status: http.StatusUnauthorized},
		"unknown provider": {err: payments.ErrUnsupportedProvider, status: http.StatusNotFound},
		"bad payload":      {err: services.ErrWebhookPayloadInvalid, status: http.StatusBadRequest},
		"provider down":    {err: services.ErrProviderUnavailable, status: http.StatusServiceUnavailable},
	}
	for name, tc := range cases {
		reconciler := &fakeReconciler{
			webhookFn: func(context.Context, services.HandleWebhookCommand) (services.ReconcileResult, error) {
				return services.ReconcileResult{}, tc.err
			},
		}
		router := NewRouter(WithWebhookRoutes(NewWebhookHandlers(reconciler).Routes))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments/gateway", strings.NewReader(`{}`)))
		if rr.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", name, tc.status, rr.Code)
		}
	}
}

func TestWebhookHandlersRejectsEmptyBody(t *testing.T) {
	reconciler := &fakeReconciler{
		webhookFn: func(context.Context, services.HandleWebhookCommand) (services.ReconcileResult, error) {
			t.Fatalf("reconciler must not be called")
			return services.ReconcileResult{}, nil
		},
	}
	router := NewRouter(WithWebhookRoutes(NewWebhookHandlers(reconciler).Routes))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments/gateway", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
