package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	domain "github.com/hanko-field/bookings/internal/domain"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action.
	StatusPending Status = "pending"
	// StatusAuthorized indicates funds are held but not captured yet.
	StatusAuthorized Status = "authorized"
	// StatusCaptured indicates the provider reports the money as collected.
	StatusCaptured Status = "captured"
	// StatusFailed indicates a definitive failure; no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded.
	StatusRefunded Status = "refunded"
)

// EventType is the normalised webhook event name.
type EventType string

const (
	EventPaymentAuthorized EventType = "payment.authorized"
	EventPaymentCaptured   EventType = "payment.captured"
	EventPaymentFailed     EventType = "payment.failed"
	// EventPaymentDeclined reports a declined attempt on an order that stays
	// open for another try. It is informational only.
	EventPaymentDeclined EventType = "payment.declined"
	EventRefundCreated     EventType = "refund.created"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidPayload is returned when a webhook body cannot be decoded.
	ErrInvalidPayload = errors.New("payments: invalid payload")
)

// Logger receives provider side events.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// OrderRequest asks the provider for an order the customer pays against.
type OrderRequest struct {
	Amount         int64
	Currency       string
	Receipt        string
	Notes          map[string]string
	IdempotencyKey string
}

// Order is the provider's answer to OrderRequest.
type Order struct {
	OrderRef string
	Provider string
	Amount   int64
	Currency string
	// ClientSecret is handed to the client SDK when the provider needs one.
	ClientSecret string
	CreatedAt    time.Time
}

// PaymentDetails normalises provider specific payment fields.
type PaymentDetails struct {
	Provider         string
	PaymentRef       string
	OrderRef         string
	Status           Status
	Amount           int64
	Currency         string
	Method           *domain.PaymentMethod
	ErrorCode        string
	ErrorDescription string
	CapturedAt       *time.Time
}

// RefundRequest defines a refund attempt. A nil Amount refunds in full.
type RefundRequest struct {
	PaymentRef     string
	Amount         *int64
	Reason         string
	Notes          map[string]string
	IdempotencyKey string
}

// RefundResult is the provider's record of a refund.
type RefundResult struct {
	RefundRef  string
	PaymentRef string
	Amount     int64
	Status     string
}

// WebhookEvent is a verified provider event mapped onto the shared vocabulary.
// Type keeps the provider's raw name when it has no mapping.
type WebhookEvent struct {
	ID               string
	Type             EventType
	OrderRef         string
	PaymentRef       string
	RefundRef        string
	Amount           int64
	Currency         string
	Method           *domain.PaymentMethod
	ErrorCode        string
	ErrorDescription string
	OccurredAt       time.Time
}

// Provider defines the contract for payment provider adapters.
type Provider interface {
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	// VerifySignature checks the proof the client SDK returned after paying.
	// An error means the proof could not be checked, not that it is wrong.
	VerifySignature(ctx context.Context, orderRef, paymentRef, signature string) (bool, error)
	VerifyWebhookSignature(rawBody []byte, signature string) bool
	ParseWebhookEvent(rawBody []byte) (WebhookEvent, error)
	FetchPayment(ctx context.Context, paymentRef string) (PaymentDetails, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// SignatureAuthority is implemented by providers whose client signature is
// issued only after a successful capture, so a valid signature is enough to
// confirm a booking while the provider API is unreachable.
type SignatureAuthority interface {
	SignatureProvesCapture() bool
}

// SignatureProvesCapture reports whether p's client signatures imply a capture.
func SignatureProvesCapture(p Provider) bool {
	auth, ok := p.(SignatureAuthority)
	return ok && auth.SignatureProvesCapture()
}

// ProviderError describes a failed provider API call.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s: status %d: %s", e.Provider, e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Op, msg)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Temporary reports whether retrying later may succeed.
func (e *ProviderError) Temporary() bool {
	if e == nil {
		return false
	}
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// IsNotFound reports whether the provider does not know the referenced object.
func (e *ProviderError) IsNotFound() bool {
	return e != nil && e.StatusCode == http.StatusNotFound
}

// IsTemporary reports whether err is a transient provider failure.
func IsTemporary(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Temporary()
	}
	return err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled))
}

// Manager coordinates provider selection.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without
// explicit routing. A blank name keeps the current default.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		if key := normaliseKey(provider); key != "" {
			m.defaultProvider = key
		}
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := normaliseKey(k)
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{providers: registered}
	if _, ok := registered[GatewayProviderName]; ok {
		m.defaultProvider = GatewayProviderName
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := normaliseKey(ctx.PreferredProvider); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := normaliseKey(providerKey)
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := normaliseKey(m.defaultProvider); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Provider returns the provider registered under name without any fallback.
// Records created by one provider must always be verified by the same one.
func (m *Manager) Provider(name string) (Provider, error) {
	if m == nil {
		return nil, errors.New("payments: manager is nil")
	}
	p, ok := m.providers[normaliseKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
	return p, nil
}

// CreateOrder delegates to the resolved provider and stamps its key on the order.
func (m *Manager) CreateOrder(ctx context.Context, paymentCtx PaymentContext, req OrderRequest) (Order, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Order{}, err
	}
	order, err := provider.CreateOrder(ctx, req)
	if err != nil {
		return Order{}, err
	}
	order.Provider = key
	return order, nil
}

func normaliseKey(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func copyNotes(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
