package auth

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type failingSecrets struct{}

func (failingSecrets) GetSecret(context.Context, string) (string, error) {
	return "", errors.New("secret manager unavailable")
}

func signedRequest(t *testing.T, path string, body []byte, secret string, at time.Time, nonce string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	SignRequest(req, body, secret, at, nonce)
	return req
}

func TestRequireHMACAcceptsSignedRequest(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	validator := NewHMACValidator(StaticSecrets{"internal": "ops-secret"}, NewInMemoryNonceStore(),
		WithHMACClock(func() time.Time { return now }),
	)

	body := []byte(`{"reason":"customer_request"}`)
	req := signedRequest(t, "/api/v1/internal/bookings/bkg_1:cancel", body, "ops-secret", now, "nonce-1")

	var gotBody []byte
	rr := httptest.NewRecorder()
	validator.RequireHMAC("internal")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, ok := HMACMetadataFromContext(r.Context())
		if !ok || meta.SecretName != "internal" || meta.Nonce != "nonce-1" {
			t.Errorf("unexpected metadata %+v", meta)
		}
		gotBody = make([]byte, len(body))
		_, _ = r.Body.Read(gotBody)
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if !bytes.Equal(gotBody, body) {
		t.Fatalf("expected body to be restored for the handler, got %q", gotBody)
	}
}

func TestRequireHMACRejections(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	body := []byte(`{"limit":50}`)
	const path = "/api/v1/internal/bookings:sweep"

	cases := []struct {
		name   string
		build  func() *http.Request
		status int
		code   string
	}{
		{
			name: "missing signature",
			build: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
			},
			status: http.StatusUnauthorized,
			code:   "signature_missing",
		},
		{
			name: "tampered body",
			build: func() *http.Request {
				req := signedRequest(t, path, body, "ops-secret", now, "n-tamper")
				req.Body = httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(`{"limit":5000}`))).Body
				return req
			},
			status: http.StatusUnauthorized,
			code:   "signature_mismatch",
		},
		{
			name: "wrong secret",
			build: func() *http.Request {
				return signedRequest(t, path, body, "guessed", now, "n-wrong")
			},
			status: http.StatusUnauthorized,
			code:   "signature_mismatch",
		},
		{
			name: "stale timestamp",
			build: func() *http.Request {
				return signedRequest(t, path, body, "ops-secret", now.Add(-10*time.Minute), "n-stale")
			},
			status: http.StatusUnauthorized,
			code:   "timestamp_skew",
		},
		{
			name: "missing nonce",
			build: func() *http.Request {
				req := signedRequest(t, path, body, "ops-secret", now, "n-drop")
				req.Header.Del(defaultNonceHeader)
				return req
			},
			status: http.StatusUnauthorized,
			code:   "nonce_missing",
		},
		{
			name: "garbage signature",
			build: func() *http.Request {
				req := signedRequest(t, path, body, "ops-secret", now, "n-garbage")
				req.Header.Set(defaultSignatureHeader, "%%%")
				return req
			},
			status: http.StatusUnauthorized,
			code:   "signature_invalid",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			validator := NewHMACValidator(StaticSecrets{"internal": "ops-secret"}, NewInMemoryNonceStore(),
				WithHMACClock(func() time.Time { return now }),
				WithHMACLogger(zap.New(core)),
			)
			rr := httptest.NewRecorder()
			validator.RequireHMAC("internal")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Errorf("handler must not run")
			})).ServeHTTP(rr, tc.build())

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			entries := logs.FilterMessage("auth.hmac.rejected").All()
			if len(entries) != 1 || entries[0].ContextMap()["reason"] != tc.code {
				t.Fatalf("expected rejection %q to be logged, got %+v", tc.code, entries)
			}
		})
	}
}

func TestRequireHMACRejectsReplay(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	validator := NewHMACValidator(StaticSecrets{"internal": "ops-secret"}, NewInMemoryNonceStore(),
		WithHMACClock(func() time.Time { return now }),
	)
	body := []byte(`{}`)
	handler := validator.RequireHMAC("internal")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, signedRequest(t, "/api/v1/internal/bookings/bkg_1:complete", body, "ops-secret", now, "once"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, signedRequest(t, "/api/v1/internal/bookings/bkg_1:complete", body, "ops-secret", now, "once"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected replay to be rejected, got %d", rr.Code)
	}
}

func TestRequireHMACAcceptsHexAndUnixTimestamp(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	validator := NewHMACValidator(StaticSecrets{"internal": "ops-secret"}, NewInMemoryNonceStore(),
		WithHMACClock(func() time.Time { return now }),
	)
	body := []byte(`{"code":"SAVE20"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/coupons", bytes.NewReader(body))
	ts := "1736499600"
	sig := computeHMAC([]byte("ops-secret"), buildCanonicalString(req, body, ts, "hex-nonce"))
	req.Header.Set(defaultSignatureHeader, hex.EncodeToString(sig))
	req.Header.Set(defaultTimestampHeader, ts)
	req.Header.Set(defaultNonceHeader, "hex-nonce")

	rr := httptest.NewRecorder()
	validator.RequireHMAC("internal")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})).ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
}

func TestRequireHMACSecretUnavailable(t *testing.T) {
	validator := NewHMACValidator(failingSecrets{}, NewInMemoryNonceStore())
	rr := httptest.NewRecorder()
	validator.RequireHMAC("internal")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Errorf("handler should not run when secret unavailable")
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/internal/coupons", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when secret unavailable, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	NewHMACValidator(StaticSecrets{}, NewInMemoryNonceStore()).RequireHMAC("internal")(http.NotFoundHandler()).
		ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/internal/coupons", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for an unconfigured secret, got %d", rr.Code)
	}
}
