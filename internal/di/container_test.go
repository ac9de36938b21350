package di

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/bookings/internal/domain"
	"github.com/hanko-field/bookings/internal/payments"
	"github.com/hanko-field/bookings/internal/platform/config"
	"github.com/hanko-field/bookings/internal/platform/idempotency"
	"github.com/hanko-field/bookings/internal/repositories/memory"
)

type stubGateway struct{}

func (stubGateway) CreateOrder(context.Context, payments.PaymentContext, payments.OrderRequest) (payments.Order, error) {
	return payments.Order{}, errors.New("not used")
}

func (stubGateway) Provider(string) (payments.Provider, error) {
	return nil, payments.ErrUnsupportedProvider
}

func memoryConfig() config.Config {
	return config.Config{
		Store:   config.StoreConfig{Backend: config.StoreMemory},
		Pricing: config.PricingConfig{TaxRateBPS: 1800, BookingFee: 19900, Currency: "INR"},
		Booking: config.BookingConfig{PendingTimeout: time.Hour, ReferenceTimezone: "UTC"},
		Notifications: config.NotificationsConfig{
			EventsTopic:   "booking-events",
			CustomerTopic: "booking-notifications",
		},
	}
}

func TestNewContainerMemoryBackend(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, memoryConfig(), nil, WithPaymentGateway(stubGateway{}))
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	defer func() {
		if err := c.Close(ctx); err != nil {
			t.Fatalf("close: %v", err)
		}
	}()

	if c.Services.Coupons == nil || c.Services.Bookings == nil || c.Services.Reconciler == nil || c.Services.Notifications == nil {
		t.Fatalf("expected services to be wired: %+v", c.Services)
	}
	if c.Services.Sweeper != nil {
		t.Fatalf("sweeper should be disabled without an interval")
	}
	if _, ok := c.Idempotency.(*idempotency.MemoryStore); !ok {
		t.Fatalf("expected in-process idempotency store, got %T", c.Idempotency)
	}
	if c.Cleaner(time.Minute, 10) == nil {
		t.Fatalf("expected a cleaner for the in-process store")
	}

	report := c.Readiness.Check(ctx)
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ready, got %+v", report)
	}
	if _, ok := report.Dependencies["pubsub"]; ok {
		t.Fatalf("pubsub dependency should be absent without a project")
	}
}

func TestNewContainerUsesSuppliedRegistry(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cfg := memoryConfig()
	cfg.Store.Backend = "unknown"
	cfg.Booking.SweepInterval = time.Minute

	c, err := NewContainer(ctx, cfg, nil, WithRegistry(store), WithPaymentGateway(stubGateway{}))
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	defer c.Close(ctx)

	if c.Repositories != store {
		t.Fatalf("expected supplied registry to be used")
	}
	if c.Services.Sweeper == nil {
		t.Fatalf("expected sweeper when an interval is configured")
	}
}

func TestNewContainerRejectsUnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Backend = "cassandra"
	c, err := NewContainer(context.Background(), cfg, nil, WithPaymentGateway(stubGateway{}))
	if err == nil || !strings.Contains(err.Error(), "cassandra") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
	if c != nil {
		t.Fatalf("container must be nil on error")
	}
}

func TestNewContainerRequiresPaymentProvider(t *testing.T) {
	_, err := NewContainer(context.Background(), memoryConfig(), nil)
	if err == nil || !strings.Contains(err.Error(), "payment provider") {
		t.Fatalf("expected missing provider error, got %v", err)
	}
}

func TestNewContainerFCMRequiresFirebase(t *testing.T) {
	cfg := memoryConfig()
	cfg.Notifications.FCMEnabled = true
	_, err := NewContainer(context.Background(), cfg, nil, WithPaymentGateway(stubGateway{}))
	if err == nil || !strings.Contains(err.Error(), "firebase") {
		t.Fatalf("expected firebase error, got %v", err)
	}
}

func TestBuildPaymentManagerRoutesConfiguredProviders(t *testing.T) {
	manager, err := buildPaymentManager(config.PaymentsConfig{
		DefaultProvider: payments.GatewayProviderName,
		Gateway: config.GatewayConfig{
			BaseURL:       "https://gateway.test",
			KeyID:         "key_id",
			KeySecret:     "key_secret",
			WebhookSecret: "whsec",
		},
	}, nil)
	if err != nil {
		t.Fatalf("build manager: %v", err)
	}
	if _, err := manager.Provider(payments.GatewayProviderName); err != nil {
		t.Fatalf("expected gateway provider: %v", err)
	}
	if _, err := manager.Provider(payments.StripeProviderName); !errors.Is(err, payments.ErrUnsupportedProvider) {
		t.Fatalf("stripe should be unavailable without credentials, got %v", err)
	}
}
