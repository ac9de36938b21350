package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/bookings/internal/platform/requestctx"
)

const defaultVerifyTimeout = 5 * time.Second

var (
	// ErrTokenExpired signals that the provided Firebase ID token has expired.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid signals that the provided Firebase ID token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Customer is the signed-in customer behind a request.
type Customer struct {
	ID          string
	Email       string
	PhoneNumber string
}

type customerContextKey struct{}

// WithCustomer stores the customer on ctx and tags the request context with its id.
func WithCustomer(ctx context.Context, customer *Customer) context.Context {
	if customer == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, customerContextKey{}, customer)
	return requestctx.WithCustomerID(ctx, customer.ID)
}

// CustomerFromContext returns the signed-in customer, if any.
func CustomerFromContext(ctx context.Context) (*Customer, bool) {
	customer, ok := ctx.Value(customerContextKey{}).(*Customer)
	if !ok || customer == nil {
		return nil, false
	}
	return customer, true
}

// Authenticator resolves optional customer identity from bearer tokens.
type Authenticator struct {
	verifier TokenVerifier
}

// NewAuthenticator constructs an Authenticator. A nil verifier treats every
// request as a guest.
func NewAuthenticator(verifier TokenVerifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// OptionalCustomer attaches the customer when a bearer token is present.
// Requests without an Authorization header proceed as guests; a header that
// fails verification is rejected so a broken client never books anonymously
// by accident.
func (a *Authenticator) OptionalCustomer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if strings.TrimSpace(header) == "" || a == nil || a.verifier == nil {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, ok := extractBearerToken(header)
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header invalid")
				return
			}

			token, err := a.verifier.VerifyIDToken(r.Context(), tokenStr)
			if err != nil {
				respondVerificationError(w, err)
				return
			}

			customer := &Customer{
				ID:          token.UID,
				Email:       claimAsString(token.Claims, "email"),
				PhoneNumber: claimAsString(token.Claims, "phone_number"),
			}
			next.ServeHTTP(w, r.WithContext(WithCustomer(r.Context(), customer)))
		})
	}
}

func claimAsString(claims map[string]interface{}, key string) string {
	if v, ok := claims[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   code,
		"message": message,
		"status":  status,
	})
}

func respondVerificationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		respondAuthError(w, http.StatusUnauthorized, "token_expired", "firebase id token expired")
	case errors.Is(err, ErrTokenInvalid), firebaseauth.IsIDTokenInvalid(err):
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "firebase id token invalid")
	default:
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "firebase id token verification failed")
	}
}
