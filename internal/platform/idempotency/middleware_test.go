package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hanko-field/bookings/internal/platform/requestctx"
)

var fixedTime = time.Date(2025, time.February, 3, 12, 0, 0, 0, time.UTC)

func newBookingRequest(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func TestMiddlewareRequiresKey(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run without a key")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newBookingRequest(`{"listingId":"lst_1"}`, ""))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	var seenKey string
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		seenKey = KeyFromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"bookingId":"bkg_%d"}`, calls)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newBookingRequest(`{"listingId":"lst_1"}`, "key-1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newBookingRequest(`{"listingId":"lst_1"}`, "key-1"))

	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
	if seenKey != "key-1" {
		t.Fatalf("expected key on handler context, got %q", seenKey)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replay of %d %s, got %d %s", first.Code, first.Body.String(), second.Code, second.Body.String())
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected stored content type, got %q", second.Header().Get("Content-Type"))
	}
}

func TestMiddlewareScopesKeysPerCustomer(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for _, customer := range []string{"cus_a", "cus_b", ""} {
		req := newBookingRequest(`{"listingId":"lst_1"}`, "shared")
		req = req.WithContext(requestctx.WithCustomerID(req.Context(), customer))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 3 {
		t.Fatalf("expected each requester to run the handler, got %d calls", calls)
	}
}

func TestMiddlewareRejectsReusedKeyWithDifferentBody(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newBookingRequest(`{"listingId":"lst_1"}`, "key-2"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newBookingRequest(`{"listingId":"lst_2"}`, "key-2"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddlewarePendingReservationConflicts(t *testing.T) {
	store := NewMemoryStore()
	req := newBookingRequest(`{"listingId":"lst_1"}`, "key-3")
	body := []byte(`{"listingId":"lst_1"}`)
	if _, err := store.Reserve(context.Background(), guestRequester+"|key-3", requestFingerprint(req, body, guestRequester), fixedTime, time.Hour); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run while the key is held")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddlewareReleasesKeyAfterServerError(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newBookingRequest(`{"listingId":"lst_1"}`, "key-4"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newBookingRequest(`{"listingId":"lst_1"}`, "key-4"))

	if first.Code != http.StatusServiceUnavailable || second.Code != http.StatusCreated {
		t.Fatalf("expected 503 then 201, got %d then %d", first.Code, second.Code)
	}
	if calls != 2 {
		t.Fatalf("expected retry to reach the handler, got %d calls", calls)
	}
}

func TestMiddlewareStoreFailureStillReturnsResponse(t *testing.T) {
	store := &stubStore{failSave: true}
	logger := &recordingLogger{}
	handler := Middleware(store, WithLogger(logger))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newBookingRequest(`{}`, "key-5"))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected handler response, got %d", rr.Code)
	}
	if logger.lines == 0 {
		t.Fatalf("expected save failure to be logged")
	}
	if store.released {
		t.Fatalf("a created booking must keep its key reserved")
	}
}

func TestMiddlewareReserveFailureIsUnavailable(t *testing.T) {
	handler := Middleware(&stubStore{failReserve: true})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newBookingRequest(`{}`, "key-6"))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_unavailable")
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := store.Reserve(ctx, fmt.Sprintf("k%d", i), "fp", fixedTime.Add(time.Duration(i)*time.Minute), time.Minute); err != nil {
			t.Fatalf("reserve: %v", err)
		}
	}

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(3*time.Minute), 2)
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 removed, got %d err %v", removed, err)
	}
	cleaner := NewCleaner(store, time.Hour, 10, nil)
	cleaner.now = func() time.Time { return fixedTime.Add(3 * time.Minute) }
	if removed := cleaner.RunOnce(ctx); removed != 1 {
		t.Fatalf("expected cleaner to remove the last record, got %d", removed)
	}
}

type stubStore struct {
	failSave    bool
	failReserve bool
	released    bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	if s.failReserve {
		return Reservation{}, errors.New("redis down")
	}
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

type recordingLogger struct {
	lines int
}

func (l *recordingLogger) Printf(string, ...any) {
	l.lines++
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
