package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/bookings/internal/domain"
	"github.com/hanko-field/bookings/internal/platform/auth"
	"github.com/hanko-field/bookings/internal/platform/httpx"
	"github.com/hanko-field/bookings/internal/platform/idempotency"
	"github.com/hanko-field/bookings/internal/platform/requestctx"
	"github.com/hanko-field/bookings/internal/services"
)

const maxBookingRequestBody = 8 * 1024

// BookingHandlers exposes the storefront booking flow: quote, create, status
// polling and the client side payment hand-back.
type BookingHandlers struct {
	bookings    services.BookingService
	reconciler  services.PaymentReconciler
	idempotency func(http.Handler) http.Handler
}

// BookingHandlerOption customises BookingHandlers.
type BookingHandlerOption func(*BookingHandlers)

// WithBookingIdempotency guards booking creation with the given middleware,
// normally idempotency.Middleware.
func WithBookingIdempotency(mw func(http.Handler) http.Handler) BookingHandlerOption {
	return func(h *BookingHandlers) {
		h.idempotency = mw
	}
}

// NewBookingHandlers constructs booking handlers.
func NewBookingHandlers(bookings services.BookingService, reconciler services.PaymentReconciler, opts ...BookingHandlerOption) *BookingHandlers {
	h := &BookingHandlers{bookings: bookings, reconciler: reconciler}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers booking endpoints.
func (h *BookingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/bookings:quote", h.quoteBooking)
	if h.idempotency != nil {
		r.With(h.idempotency).Post("/bookings", h.createBooking)
	} else {
		r.Post("/bookings", h.createBooking)
	}
	r.Get("/bookings/{bookingId}", h.getBooking)
	r.Post("/bookings/{bookingId}:verify-payment", h.verifyPayment)
	r.Post("/bookings/{bookingId}:reissue-order", h.reissueOrder)
}

type quoteBookingRequest struct {
	ListingID   string `json:"listingId"`
	ServiceID   string `json:"serviceId"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	CouponCode  string `json:"couponCode"`
	PaymentMode string `json:"paymentMode"`
}

type contactRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type createBookingRequest struct {
	ListingID   string         `json:"listingId"`
	ServiceID   string         `json:"serviceId"`
	Date        string         `json:"date"`
	Time        string         `json:"time"`
	CouponCode  string         `json:"couponCode"`
	PaymentMode string         `json:"paymentMode"`
	Provider    string         `json:"provider"`
	Contact     contactRequest `json:"contact"`
	Notes       string         `json:"notes"`
}

type verifyPaymentRequest struct {
	Provider   string `json:"provider"`
	OrderRef   string `json:"orderRef"`
	PaymentRef string `json:"paymentRef"`
	Signature  string `json:"signature"`
}

type reissueOrderRequest struct {
	Provider string `json:"provider"`
}

func (h *BookingHandlers) quoteBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeBookingsUnavailable(w, r)
		return
	}
	var req quoteBookingRequest
	if !decodeJSONBody(w, r, maxBookingRequestBody, &req) {
		return
	}

	quote, err := h.bookings.QuoteBooking(ctx, services.QuoteBookingCommand{
		ListingID:   req.ListingID,
		ServiceID:   req.ServiceID,
		Date:        req.Date,
		Time:        req.Time,
		CouponCode:  req.CouponCode,
		CustomerID:  requestctx.CustomerID(ctx),
		PaymentMode: domain.PaymentMode(strings.TrimSpace(req.PaymentMode)),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newQuoteView(quote))
}

func (h *BookingHandlers) createBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeBookingsUnavailable(w, r)
		return
	}
	var req createBookingRequest
	if !decodeJSONBody(w, r, maxBookingRequestBody, &req) {
		return
	}

	contact := services.Contact{
		Name:  strings.TrimSpace(req.Contact.Name),
		Phone: strings.TrimSpace(req.Contact.Phone),
		Email: strings.TrimSpace(req.Contact.Email),
	}
	if customer, ok := auth.CustomerFromContext(ctx); ok {
		if contact.Email == "" {
			contact.Email = customer.Email
		}
		if contact.Phone == "" {
			contact.Phone = customer.PhoneNumber
		}
	}

	checkout, err := h.bookings.CreatePendingBooking(ctx, services.CreateBookingCommand{
		ListingID:         req.ListingID,
		ServiceID:         req.ServiceID,
		Date:              req.Date,
		Time:              req.Time,
		CouponCode:        req.CouponCode,
		CustomerID:        requestctx.CustomerID(ctx),
		Contact:           contact,
		Notes:             req.Notes,
		PaymentMode:       domain.PaymentMode(strings.TrimSpace(req.PaymentMode)),
		PreferredProvider: strings.TrimSpace(req.Provider),
		IdempotencyKey:    idempotency.KeyFromContext(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, newCheckoutView(checkout))
}

func (h *BookingHandlers) getBooking(w http.ResponseWriter, r *http.Request) {
	if h.bookings == nil {
		writeBookingsUnavailable(w, r)
		return
	}
	booking, ok := h.loadOwnedBooking(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, newBookingView(booking))
}

func (h *BookingHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil || h.reconciler == nil {
		writeBookingsUnavailable(w, r)
		return
	}
	var req verifyPaymentRequest
	if !decodeJSONBody(w, r, maxBookingRequestBody, &req) {
		return
	}
	booking, ok := h.loadOwnedBooking(w, r)
	if !ok {
		return
	}

	result, err := h.reconciler.VerifyClientPayment(ctx, services.VerifyPaymentCommand{
		BookingID:  booking.ID,
		Provider:   strings.TrimSpace(req.Provider),
		OrderRef:   strings.TrimSpace(req.OrderRef),
		PaymentRef: strings.TrimSpace(req.PaymentRef),
		Signature:  strings.TrimSpace(req.Signature),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	status := http.StatusOK
	if result.Outcome == services.ReconcilePending {
		status = http.StatusAccepted
	}
	writeJSONResponse(w, status, reconcileView{Outcome: string(result.Outcome), Booking: newBookingView(result.Booking)})
}

func (h *BookingHandlers) reissueOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		writeBookingsUnavailable(w, r)
		return
	}
	var req reissueOrderRequest
	if r.ContentLength != 0 {
		if !decodeJSONBody(w, r, maxBookingRequestBody, &req) {
			return
		}
	}
	booking, ok := h.loadOwnedBooking(w, r)
	if !ok {
		return
	}

	checkout, err := h.bookings.ReissuePaymentOrder(ctx, services.ReissueOrderCommand{
		BookingID:         booking.ID,
		PreferredProvider: strings.TrimSpace(req.Provider),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newCheckoutView(checkout))
}

// loadOwnedBooking fetches the path booking. Bookings placed by a signed-in
// customer are only visible to that customer; guest bookings are addressed by
// their unguessable id alone.
func (h *BookingHandlers) loadOwnedBooking(w http.ResponseWriter, r *http.Request) (domain.Booking, bool) {
	ctx := r.Context()
	bookingID := strings.TrimSpace(chi.URLParam(r, "bookingId"))
	if bookingID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "booking id is required", http.StatusBadRequest))
		return domain.Booking{}, false
	}
	booking, err := h.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return domain.Booking{}, false
	}
	if booking.CustomerID != nil && *booking.CustomerID != "" && *booking.CustomerID != requestctx.CustomerID(ctx) {
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "booking not found", http.StatusNotFound))
		return domain.Booking{}, false
	}
	return booking, true
}

func writeBookingsUnavailable(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("booking_unavailable", "booking service unavailable", http.StatusServiceUnavailable))
}
