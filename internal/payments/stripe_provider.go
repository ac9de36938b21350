package payments

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	domain "github.com/hanko-field/bookings/internal/domain"
)

// StripeProviderName is the registry key of the Stripe adapter.
const StripeProviderName = "stripe"

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripePaymentMethodAPI interface {
	Get(id string, params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
}

type stripeClients struct {
	intents        stripePaymentIntentAPI
	refunds        stripeRefundAPI
	paymentMethods stripePaymentMethodAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	Backends      *stripe.Backends
	Logger        Logger
	Clock         func() time.Time
	Clients       *stripeClients
}

// StripeProvider implements Provider on PaymentIntents. The order reference and
// the payment reference are both the PaymentIntent id.
type StripeProvider struct {
	api           stripeClients
	account       string
	webhookSecret string
	clock         func() time.Time
	logger        Logger
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents:        sc.PaymentIntents,
			refunds:        sc.Refunds,
			paymentMethods: sc.PaymentMethods,
		}
	}
	if clients.intents == nil || clients.refunds == nil || clients.paymentMethods == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &StripeProvider{
		api:           clients,
		account:       strings.TrimSpace(cfg.AccountID),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateOrder creates a PaymentIntent the client confirms with its client secret.
func (p *StripeProvider) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if p == nil {
		return Order{}, errors.New("stripe: provider is nil")
	}
	if req.Amount <= 0 {
		return Order{}, errors.New("stripe: order amount must be positive")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(strings.TrimSpace(req.Currency))),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		params.Description = stripe.String(receipt)
		params.AddMetadata("receipt", receipt)
	}
	for k, v := range req.Notes {
		params.AddMetadata(k, v)
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return Order{}, stripeError("createOrder", err)
	}
	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
	})

	createdAt := p.clock()
	if intent.Created > 0 {
		createdAt = time.Unix(intent.Created, 0).UTC()
	}
	return Order{
		OrderRef:     intent.ID,
		Provider:     StripeProviderName,
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
		ClientSecret: intent.ClientSecret,
		CreatedAt:    createdAt,
	}, nil
}

// VerifySignature compares the client secret presented by the client with the
// one Stripe holds for the intent. The secret does not prove a capture, so
// callers confirm through FetchPayment.
func (p *StripeProvider) VerifySignature(ctx context.Context, orderRef, paymentRef, signature string) (bool, error) {
	if p == nil {
		return false, errors.New("stripe: provider is nil")
	}
	orderRef = strings.TrimSpace(orderRef)
	paymentRef = strings.TrimSpace(paymentRef)
	signature = strings.TrimSpace(signature)
	if orderRef == "" || (paymentRef != "" && paymentRef != orderRef) {
		return false, nil
	}
	if !strings.HasPrefix(signature, orderRef+"_secret_") {
		return false, nil
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Get(orderRef, params)
	if err != nil {
		perr := stripeError("verifySignature", err)
		var notFound *ProviderError
		if errors.As(perr, &notFound) && notFound.IsNotFound() {
			return false, nil
		}
		return false, perr
	}
	if intent == nil || intent.ID != orderRef || intent.ClientSecret == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(intent.ClientSecret), []byte(signature)) == 1, nil
}

// VerifyWebhookSignature validates the Stripe-Signature header against the raw body.
func (p *StripeProvider) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	if p == nil || p.webhookSecret == "" {
		return false
	}
	return webhook.ValidatePayload(rawBody, signature, p.webhookSecret) == nil
}

// ParseWebhookEvent maps a verified Stripe event onto the shared event names.
func (p *StripeProvider) ParseWebhookEvent(rawBody []byte) (WebhookEvent, error) {
	var evt stripe.Event
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if evt.Type == "" {
		return WebhookEvent{}, fmt.Errorf("%w: event type missing", ErrInvalidPayload)
	}
	event := WebhookEvent{
		ID:         evt.ID,
		Type:       EventType(evt.Type),
		OccurredAt: p.clock(),
	}
	if evt.Created > 0 {
		event.OccurredAt = time.Unix(evt.Created, 0).UTC()
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return event, nil
	}

	switch string(evt.Type) {
	case "payment_intent.succeeded", "payment_intent.amount_capturable_updated",
		"payment_intent.payment_failed", "payment_intent.canceled":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		event.OrderRef = intent.ID
		event.PaymentRef = intent.ID
		event.Amount = intent.Amount
		event.Currency = strings.ToUpper(string(intent.Currency))
		event.Method = chargeMethod(intent.LatestCharge)
		switch string(evt.Type) {
		case "payment_intent.succeeded":
			event.Type = EventPaymentCaptured
		case "payment_intent.amount_capturable_updated":
			event.Type = EventPaymentAuthorized
		case "payment_intent.payment_failed":
			// the intent returns to requires_payment_method and can still succeed
			event.Type = EventPaymentDeclined
			event.ErrorCode, event.ErrorDescription = intentError(&intent)
		default:
			event.Type = EventPaymentFailed
			event.ErrorCode, event.ErrorDescription = intentError(&intent)
			if event.ErrorCode == "" {
				event.ErrorCode = string(intent.CancellationReason)
			}
		}
	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(evt.Data.Raw, &charge); err != nil {
			return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		event.Type = EventRefundCreated
		if charge.PaymentIntent != nil {
			event.OrderRef = charge.PaymentIntent.ID
			event.PaymentRef = charge.PaymentIntent.ID
		}
		event.Amount = charge.AmountRefunded
		event.Currency = strings.ToUpper(string(charge.Currency))
		if charge.Refunds != nil && len(charge.Refunds.Data) > 0 && charge.Refunds.Data[0] != nil {
			event.RefundRef = charge.Refunds.Data[0].ID
		}
	}
	return event, nil
}

// FetchPayment retrieves the PaymentIntent with its latest charge.
func (p *StripeProvider) FetchPayment(ctx context.Context, paymentRef string) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Get(strings.TrimSpace(paymentRef), params)
	if err != nil {
		return PaymentDetails{}, stripeError("fetchPayment", err)
	}
	details := stripePaymentDetails(intent)
	if details.Method == nil && intent.PaymentMethod != nil && intent.PaymentMethod.ID != "" {
		details.Method = p.lookupMethod(ctx, intent.PaymentMethod.ID)
	}
	return details, nil
}

// Refund creates a refund for the PaymentIntent.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("stripe: provider is nil")
	}
	paymentRef := strings.TrimSpace(req.PaymentRef)
	if paymentRef == "" {
		return RefundResult{}, errors.New("stripe: payment ref is required")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentRef),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Amount != nil {
		params.Amount = stripe.Int64(*req.Amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	for k, v := range req.Notes {
		params.AddMetadata(k, v)
	}
	refund, err := p.api.refunds.New(params)
	if err != nil {
		return RefundResult{}, stripeError("refund", err)
	}
	p.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"paymentIntent": paymentRef,
		"refund":        refund.ID,
		"amount":        refund.Amount,
	})
	return RefundResult{
		RefundRef:  refund.ID,
		PaymentRef: paymentRef,
		Amount:     refund.Amount,
		Status:     string(refund.Status),
	}, nil
}

func (p *StripeProvider) lookupMethod(ctx context.Context, id string) *domain.PaymentMethod {
	params := &stripe.PaymentMethodParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	pm, err := p.api.paymentMethods.Get(id, params)
	if err != nil || pm == nil {
		p.logger(ctx, "payments.stripe.payment_method.lookup_failed", map[string]any{
			"paymentMethod": id,
			"error":         fmt.Sprint(err),
		})
		return nil
	}
	method := &domain.PaymentMethod{Type: string(pm.Type)}
	if pm.Type == stripe.PaymentMethodTypeCard && pm.Card != nil {
		method.Brand = strings.ToLower(string(pm.Card.Brand))
		method.Last4 = strings.TrimSpace(pm.Card.Last4)
		method.ExpMonth = int(pm.Card.ExpMonth)
		method.ExpYear = int(pm.Card.ExpYear)
	}
	return method
}

func stripePaymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusCaptured
	case stripe.PaymentIntentStatusRequiresCapture:
		status = StatusAuthorized
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}

	var capturedAt *time.Time
	if charge := intent.LatestCharge; charge != nil {
		if charge.Captured && status == StatusCaptured {
			t := time.Unix(charge.Created, 0).UTC()
			capturedAt = &t
		}
		if charge.Refunded && charge.AmountRefunded >= charge.Amount && charge.Amount > 0 {
			status = StatusRefunded
		}
	}

	currency := strings.ToUpper(string(intent.Currency))
	if currency == "" && intent.LatestCharge != nil {
		currency = strings.ToUpper(string(intent.LatestCharge.Currency))
	}

	code, description := intentError(intent)
	return PaymentDetails{
		Provider:         StripeProviderName,
		PaymentRef:       intent.ID,
		OrderRef:         intent.ID,
		Status:           status,
		Amount:           intent.Amount,
		Currency:         currency,
		Method:           chargeMethod(intent.LatestCharge),
		ErrorCode:        code,
		ErrorDescription: description,
		CapturedAt:       capturedAt,
	}
}

func chargeMethod(charge *stripe.Charge) *domain.PaymentMethod {
	if charge == nil || charge.PaymentMethodDetails == nil {
		return nil
	}
	details := charge.PaymentMethodDetails
	method := &domain.PaymentMethod{Type: string(details.Type)}
	if card := details.Card; card != nil {
		method.Brand = strings.ToLower(string(card.Brand))
		method.Last4 = strings.TrimSpace(card.Last4)
		method.ExpMonth = int(card.ExpMonth)
		method.ExpYear = int(card.ExpYear)
	}
	return method
}

func intentError(intent *stripe.PaymentIntent) (string, string) {
	if intent == nil || intent.LastPaymentError == nil {
		return "", ""
	}
	return string(intent.LastPaymentError.Code), intent.LastPaymentError.Msg
}

func stripeError(op string, err error) error {
	perr := &ProviderError{Provider: StripeProviderName, Op: op, Err: err}
	var serr *stripe.Error
	if errors.As(err, &serr) {
		perr.StatusCode = serr.HTTPStatusCode
		perr.Code = string(serr.Code)
		perr.Message = serr.Msg
	}
	return perr
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
