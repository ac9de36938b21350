package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/hanko-field/bookings/internal/domain"
)

// GatewayProviderName is the registry key of the order/signature style gateway.
const GatewayProviderName = "gateway"

const (
	defaultGatewayTimeout = 8 * time.Second
	gatewayIdemHeader     = "Idempotency-Key"
	maxGatewayErrorBody   = 4 << 10
)

// GatewayProviderConfig configures the GatewayProvider.
type GatewayProviderConfig struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	HTTPClient    *http.Client
	Logger        Logger
	Clock         func() time.Time
}

// GatewayProvider talks to an order based payment gateway over its REST API.
// The client SDK returns hex HMAC-SHA256(keySecret, orderRef|paymentRef) once
// a payment is captured, and webhooks carry a hex HMAC of the raw body.
type GatewayProvider struct {
	baseURL       string
	keyID         string
	keySecret     []byte
	webhookSecret []byte
	http          *http.Client
	logger        Logger
	clock         func() time.Time
}

var (
	_ Provider           = (*GatewayProvider)(nil)
	_ SignatureAuthority = (*GatewayProvider)(nil)
)

// NewGatewayProvider validates cfg and constructs the provider.
func NewGatewayProvider(cfg GatewayProviderConfig) (*GatewayProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gateway: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("gateway: invalid base url: %w", err)
	}
	keyID := strings.TrimSpace(cfg.KeyID)
	secret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || secret == "" {
		return nil, errors.New("gateway: key id and key secret are required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultGatewayTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &GatewayProvider{
		baseURL:       baseURL,
		keyID:         keyID,
		keySecret:     []byte(secret),
		webhookSecret: []byte(strings.TrimSpace(cfg.WebhookSecret)),
		http:          client,
		logger:        logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// SignatureProvesCapture is true: the gateway only signs captured payments.
func (p *GatewayProvider) SignatureProvesCapture() bool { return true }

type gatewayOrderPayload struct {
	ID        string            `json:"id"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Receipt   string            `json:"receipt,omitempty"`
	Status    string            `json:"status,omitempty"`
	Notes     map[string]string `json:"notes,omitempty"`
	CreatedAt int64             `json:"created_at,omitempty"`
}

// CreateOrder registers an order for req.Amount.
func (p *GatewayProvider) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if req.Amount <= 0 {
		return Order{}, errors.New("gateway: order amount must be positive")
	}
	body := gatewayOrderPayload{
		Amount:   req.Amount,
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
		Receipt:  strings.TrimSpace(req.Receipt),
		Notes:    copyNotes(req.Notes),
	}
	var out gatewayOrderPayload
	if err := p.do(ctx, "createOrder", http.MethodPost, "/v1/orders", req.IdempotencyKey, body, &out); err != nil {
		return Order{}, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return Order{}, &ProviderError{Provider: GatewayProviderName, Op: "createOrder", Message: "order id missing in response"}
	}
	createdAt := p.clock()
	if out.CreatedAt > 0 {
		createdAt = time.Unix(out.CreatedAt, 0).UTC()
	}
	p.logger(ctx, "payments.gateway.order.created", map[string]any{
		"orderRef": out.ID,
		"amount":   out.Amount,
		"currency": out.Currency,
	})
	return Order{
		OrderRef:  out.ID,
		Provider:  GatewayProviderName,
		Amount:    out.Amount,
		Currency:  strings.ToUpper(out.Currency),
		CreatedAt: createdAt,
	}, nil
}

// VerifySignature checks the client supplied capture signature.
func (p *GatewayProvider) VerifySignature(_ context.Context, orderRef, paymentRef, signature string) (bool, error) {
	orderRef = strings.TrimSpace(orderRef)
	paymentRef = strings.TrimSpace(paymentRef)
	if orderRef == "" || paymentRef == "" {
		return false, nil
	}
	return VerifyHex(p.keySecret, signature, orderRef, paymentRef), nil
}

// VerifyWebhookSignature checks the HMAC over the raw webhook body.
func (p *GatewayProvider) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	return VerifyBodyHex(p.webhookSecret, rawBody, signature)
}

type gatewayPaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Method           string `json:"method"`
	VPA              string `json:"vpa,omitempty"`
	Bank             string `json:"bank,omitempty"`
	Wallet           string `json:"wallet,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	CreatedAt        int64  `json:"created_at,omitempty"`
	CapturedAt       int64  `json:"captured_at,omitempty"`
	Card             *struct {
		Network  string `json:"network"`
		Last4    string `json:"last4"`
		ExpMonth int    `json:"expiry_month"`
		ExpYear  int    `json:"expiry_year"`
	} `json:"card,omitempty"`
}

type gatewayRefundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

type gatewayWebhookPayload struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity gatewayPaymentEntity `json:"entity"`
		} `json:"payment,omitempty"`
		Refund *struct {
			Entity gatewayRefundEntity `json:"entity"`
		} `json:"refund,omitempty"`
	} `json:"payload"`
}

// ParseWebhookEvent decodes a verified webhook body.
func (p *GatewayProvider) ParseWebhookEvent(rawBody []byte) (WebhookEvent, error) {
	var payload gatewayWebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	eventName := strings.TrimSpace(payload.Event)
	if eventName == "" {
		return WebhookEvent{}, fmt.Errorf("%w: event name missing", ErrInvalidPayload)
	}
	event := WebhookEvent{
		ID:         strings.TrimSpace(payload.ID),
		Type:       EventType(eventName),
		OccurredAt: p.clock(),
	}
	if payload.CreatedAt > 0 {
		event.OccurredAt = time.Unix(payload.CreatedAt, 0).UTC()
	}
	if pay := payload.Payload.Payment; pay != nil {
		entity := pay.Entity
		event.PaymentRef = entity.ID
		event.OrderRef = entity.OrderID
		event.Amount = entity.Amount
		event.Currency = strings.ToUpper(entity.Currency)
		event.Method = entity.method()
		event.ErrorCode = entity.ErrorCode
		event.ErrorDescription = entity.ErrorDescription
	}
	if refund := payload.Payload.Refund; refund != nil {
		entity := refund.Entity
		event.RefundRef = entity.ID
		if event.PaymentRef == "" {
			event.PaymentRef = entity.PaymentID
		}
		event.Amount = entity.Amount
		if entity.Currency != "" {
			event.Currency = strings.ToUpper(entity.Currency)
		}
	}
	return event, nil
}

// FetchPayment loads a payment by its gateway id.
func (p *GatewayProvider) FetchPayment(ctx context.Context, paymentRef string) (PaymentDetails, error) {
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return PaymentDetails{}, errors.New("gateway: payment ref is required")
	}
	var entity gatewayPaymentEntity
	if err := p.do(ctx, "fetchPayment", http.MethodGet, "/v1/payments/"+url.PathEscape(paymentRef), "", nil, &entity); err != nil {
		return PaymentDetails{}, err
	}
	details := PaymentDetails{
		Provider:         GatewayProviderName,
		PaymentRef:       entity.ID,
		OrderRef:         entity.OrderID,
		Status:           gatewayStatus(entity.Status),
		Amount:           entity.Amount,
		Currency:         strings.ToUpper(entity.Currency),
		Method:           entity.method(),
		ErrorCode:        entity.ErrorCode,
		ErrorDescription: entity.ErrorDescription,
	}
	if entity.CapturedAt > 0 {
		t := time.Unix(entity.CapturedAt, 0).UTC()
		details.CapturedAt = &t
	}
	return details, nil
}

// Refund refunds a captured payment, fully when req.Amount is nil.
func (p *GatewayProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	paymentRef := strings.TrimSpace(req.PaymentRef)
	if paymentRef == "" {
		return RefundResult{}, errors.New("gateway: payment ref is required")
	}
	body := map[string]any{}
	if req.Amount != nil {
		body["amount"] = *req.Amount
	}
	notes := copyNotes(req.Notes)
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		if notes == nil {
			notes = map[string]string{}
		}
		notes["reason"] = reason
	}
	if len(notes) > 0 {
		body["notes"] = notes
	}
	var out gatewayRefundEntity
	path := "/v1/payments/" + url.PathEscape(paymentRef) + "/refund"
	if err := p.do(ctx, "refund", http.MethodPost, path, req.IdempotencyKey, body, &out); err != nil {
		return RefundResult{}, err
	}
	p.logger(ctx, "payments.gateway.refund.created", map[string]any{
		"paymentRef": paymentRef,
		"refundRef":  out.ID,
		"amount":     out.Amount,
	})
	return RefundResult{
		RefundRef:  out.ID,
		PaymentRef: defaultString(out.PaymentID, paymentRef),
		Amount:     out.Amount,
		Status:     out.Status,
	}, nil
}

func (p *GatewayProvider) do(ctx context.Context, op, method, path, idempotencyKey string, in, out any) error {
	endpoint := p.baseURL + path
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("gateway: encode %s: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("gateway: build %s: %w", op, err)
	}
	req.SetBasicAuth(p.keyID, string(p.keySecret))
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		req.Header.Set(gatewayIdemHeader, key)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return &ProviderError{Provider: GatewayProviderName, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		perr := &ProviderError{Provider: GatewayProviderName, Op: op, StatusCode: resp.StatusCode}
		var envelope struct {
			Error struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxGatewayErrorBody))
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Code != "" {
			perr.Code = envelope.Error.Code
			perr.Message = envelope.Error.Description
		} else {
			perr.Message = strings.TrimSpace(string(raw))
		}
		return perr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Provider: GatewayProviderName, Op: op, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

func (e gatewayPaymentEntity) method() *domain.PaymentMethod {
	if e.Method == "" && e.Card == nil && e.VPA == "" && e.Bank == "" && e.Wallet == "" {
		return nil
	}
	m := &domain.PaymentMethod{
		Type:      e.Method,
		UPIHandle: e.VPA,
		Bank:      e.Bank,
		Wallet:    e.Wallet,
	}
	if e.Card != nil {
		m.Brand = strings.ToLower(e.Card.Network)
		m.Last4 = e.Card.Last4
		m.ExpMonth = e.Card.ExpMonth
		m.ExpYear = e.Card.ExpYear
	}
	return m
}

func gatewayStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "authorized":
		return StatusAuthorized
	case "captured":
		return StatusCaptured
	case "failed":
		return StatusFailed
	case "refunded":
		return StatusRefunded
	default:
		return StatusPending
	}
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
