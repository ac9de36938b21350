package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domain "github.com/hanko-field/bookings/internal/domain"
	"github.com/hanko-field/bookings/internal/platform/auth"
	"github.com/hanko-field/bookings/internal/platform/idempotency"
	"github.com/hanko-field/bookings/internal/services"
)

func asCustomer(id string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithCustomer(r.Context(), &auth.Customer{ID: id, Email: id + "@example.com", PhoneNumber: "+910000000000"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bookingRouter(h *BookingHandlers, mw ...func(http.Handler) http.Handler) http.Handler {
	return NewRouter(WithMiddlewares(mw...), WithStorefrontRoutes(h.Routes))
}

const createBody = `{"listingId":"lst_1","serviceId":"svc_1","date":"2025-03-14","time":"10:30","couponCode":"welcome20","paymentMode":"full","contact":{"name":"Asha"}}`

func TestBookingHandlersQuote(t *testing.T) {
	svc := &fakeBookingService{
		quoteFn: func(_ context.Context, cmd services.QuoteBookingCommand) (services.BookingQuote, error) {
			if cmd.CustomerID != "cust_1" || cmd.PaymentMode != domain.PaymentModeBookingFee {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.BookingQuote{
				ListingID:     "lst_1",
				Mode:          domain.PaymentModeBookingFee,
				Pricing:       domain.PricingSnapshot{Currency: "INR", FinalAmount: 200000, AmountDueNow: 19900, AmountDeferred: 180100},
				CouponRemoved: &services.CouponRemoved{Code: "OLD", Reason: services.CouponExpired, Message: "expired"},
			}, nil
		},
	}
	router := bookingRouter(NewBookingHandlers(svc, nil), asCustomer("cust_1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings:quote", strings.NewReader(`{"listingId":"lst_1","serviceId":"svc_1","date":"2025-03-14","time":"10:30","couponCode":"OLD","paymentMode":"booking_fee"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	pricing := body["pricing"].(map[string]any)
	if pricing["amountDueNow"].(float64) != 19900 || pricing["amountDeferred"].(float64) != 180100 {
		t.Fatalf("unexpected pricing %v", pricing)
	}
	removed := body["couponRemoved"].(map[string]any)
	if removed["reason"] != "coupon_expired" {
		t.Fatalf("expected coupon removal reason, got %v", removed)
	}
}

func TestBookingHandlersQuoteRejectsUnknownFields(t *testing.T) {
	router := bookingRouter(NewBookingHandlers(&fakeBookingService{}, nil))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings:quote", strings.NewReader(`{"listingId":"lst_1","price":1}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestBookingHandlersCreateIsIdempotent(t *testing.T) {
	calls := 0
	svc := &fakeBookingService{
		createFn: func(_ context.Context, cmd services.CreateBookingCommand) (services.BookingCheckout, error) {
			calls++
			if cmd.IdempotencyKey != "key-1" {
				t.Fatalf("expected idempotency key, got %q", cmd.IdempotencyKey)
			}
			if cmd.Contact.Email != "cust_1@example.com" || cmd.Contact.Name != "Asha" {
				t.Fatalf("expected contact filled from token, got %+v", cmd.Contact)
			}
			booking := sampleBooking(fmt.Sprintf("bkg_%d", calls), strPtr("cust_1"))
			return services.BookingCheckout{
				Booking:      booking,
				Payment:      domain.Payment{ID: "pay_1", Provider: "gateway", OrderRef: "order_1", Status: domain.PaymentRecordCreated, Amount: 200000, Currency: "INR"},
				ClientSecret: "",
			}, nil
		},
	}
	store := idempotency.NewMemoryStore()
	handlers := NewBookingHandlers(svc, nil, WithBookingIdempotency(idempotency.Middleware(store)))
	router := bookingRouter(handlers, asCustomer("cust_1"))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", strings.NewReader(createBody))
		req.Header.Set("Idempotency-Key", "key-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}
	second := send()
	if second.Code != http.StatusCreated || second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replayed 201, got %d %v", second.Code, second.Header())
	}
	if calls != 1 {
		t.Fatalf("expected a single booking, got %d", calls)
	}
	booking := decodeBody(t, second)["booking"].(map[string]any)
	if booking["id"] != "bkg_1" || booking["status"] != "pending" {
		t.Fatalf("unexpected replayed booking %v", booking)
	}
}

func TestBookingHandlersCreateRequiresIdempotencyKey(t *testing.T) {
	handlers := NewBookingHandlers(&fakeBookingService{}, nil, WithBookingIdempotency(idempotency.Middleware(idempotency.NewMemoryStore())))
	router := bookingRouter(handlers)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/bookings", strings.NewReader(createBody)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if decodeBody(t, rr)["error"] != "idempotency_key_required" {
		t.Fatalf("unexpected error body %s", rr.Body.String())
	}
}

func TestBookingHandlersCreateMapsScheduleErrors(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
		code   string
	}{
		"closed day":    {err: fmt.Errorf("%w: sunday", services.ErrScheduleClosedDay), status: http.StatusUnprocessableEntity, code: "schedule_closed_day"},
		"out of hours":  {err: services.ErrScheduleOutOfHours, status: http.StatusUnprocessableEntity, code: "schedule_out_of_hours"},
		"coupon":        {err: &services.CouponInvalidError{Code: "X", Reason: services.CouponUsageLimitReached, Message: "fully redeemed"}, status: http.StatusUnprocessableEntity, code: "coupon_usage_limit_reached"},
		"provider":      {err: services.ErrProviderUnavailable, status: http.StatusServiceUnavailable, code: "provider_unavailable"},
		"misconfigured": {err: fmt.Errorf("%w: timezone", services.ErrListingMisconfigured), status: http.StatusServiceUnavailable, code: "listing_misconfigured"},
		"listing":       {err: services.ErrListingNotFound, status: http.StatusNotFound, code: "not_found"},
		"unexpected":    {err: errors.New("boom"), status: http.StatusInternalServerError, code: "internal_error"},
	}
	for name, tc := range cases {
		svc := &fakeBookingService{
			createFn: func(context.Context, services.CreateBookingCommand) (services.BookingCheckout, error) {
				return services.BookingCheckout{}, tc.err
			},
		}
		router := bookingRouter(NewBookingHandlers(svc, nil))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/bookings", strings.NewReader(createBody)))
		if rr.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", name, tc.status, rr.Code)
		}
		if got := decodeBody(t, rr)["error"]; got != tc.code {
			t.Fatalf("%s: expected code %s, got %v", name, tc.code, got)
		}
	}
}

func TestBookingHandlersGetHidesOtherCustomersBookings(t *testing.T) {
	svc := &fakeBookingService{
		getFn: func(_ context.Context, id string) (services.Booking, error) {
			switch id {
			case "bkg_owned":
				return sampleBooking(id, strPtr("cust_1")), nil
			case "bkg_guest":
				return sampleBooking(id, nil), nil
			}
			return services.Booking{}, services.ErrBookingNotFound
		},
	}
	router := bookingRouter(NewBookingHandlers(svc, nil), asCustomer("cust_2"))

	for id, want := range map[string]int{
		"bkg_owned":   http.StatusNotFound,
		"bkg_guest":   http.StatusOK,
		"bkg_missing": http.StatusNotFound,
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/bookings/"+id, nil))
		if rr.Code != want {
			t.Fatalf("%s: expected %d, got %d", id, want, rr.Code)
		}
	}

	owner := bookingRouter(NewBookingHandlers(svc, nil), asCustomer("cust_1"))
	rr := httptest.NewRecorder()
	owner.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/bookings/bkg_owned", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("owner should see booking, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["reference"] != "BK-2025-000001" || body["schedule"].(map[string]any)["date"] != "2025-03-14" {
		t.Fatalf("unexpected booking body %v", body)
	}
}

func TestBookingHandlersVerifyPayment(t *testing.T) {
	svc := &fakeBookingService{
		getFn: func(_ context.Context, id string) (services.Booking, error) {
			return sampleBooking(id, nil), nil
		},
	}
	var got services.VerifyPaymentCommand
	outcome := services.ReconcileApplied
	var verifyErr error
	reconciler := &fakeReconciler{
		verifyFn: func(_ context.Context, cmd services.VerifyPaymentCommand) (services.ReconcileResult, error) {
			got = cmd
			booking := sampleBooking(cmd.BookingID, nil)
			booking.Status = domain.BookingStatusConfirmed
			return services.ReconcileResult{Outcome: outcome, Booking: booking}, verifyErr
		},
	}
	router := bookingRouter(NewBookingHandlers(svc, reconciler))
	body := `{"provider":"gateway","orderRef":"order_1","paymentRef":"pay_9","signature":"abc"}`

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/bookings/bkg_1:verify-payment", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.BookingID != "bkg_1" || got.PaymentRef != "pay_9" || got.Signature != "abc" {
		t.Fatalf("unexpected command %+v", got)
	}
	if decodeBody(t, rr)["outcome"] != "applied" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}

	outcome = services.ReconcilePending
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/bookings/bkg_1:verify-payment", strings.NewReader(body)))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for pending, got %d", rr.Code)
	}

	verifyErr = services.ErrSignatureInvalid
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/bookings/bkg_1:verify-payment", strings.NewReader(body)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if msg := decodeBody(t, rr)["message"]; msg != "signature verification failed" {
		t.Fatalf("signature errors must not leak detail, got %v", msg)
	}
}

func TestBookingHandlersReissueOrder(t *testing.T) {
	svc := &fakeBookingService{
		getFn: func(_ context.Context, id string) (services.Booking, error) {
			return sampleBooking(id, nil), nil
		},
		reissueFn: func(_ context.Context, cmd services.ReissueOrderCommand) (services.BookingCheckout, error) {
			if cmd.PreferredProvider != "stripe" {
				t.Fatalf("expected stripe, got %q", cmd.PreferredProvider)
			}
			booking := sampleBooking(cmd.BookingID, nil)
			booking.Provider = "stripe"
			return services.BookingCheckout{
				Booking:      booking,
				Payment:      domain.Payment{ID: "pay_2", Provider: "stripe", OrderRef: "pi_2", Status: domain.PaymentRecordCreated},
				ClientSecret: "pi_2_secret",
			}, nil
		},
	}
	router := bookingRouter(NewBookingHandlers(svc, nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/bookings/bkg_1:reissue-order", strings.NewReader(`{"provider":"stripe"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["clientSecret"] != "pi_2_secret" || body["payment"].(map[string]any)["orderRef"] != "pi_2" {
		t.Fatalf("unexpected body %v", body)
	}
}
