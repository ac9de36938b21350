package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hanko-field/bookings/internal/notifications"
	"github.com/hanko-field/bookings/internal/payments"
	"github.com/hanko-field/bookings/internal/platform/auth"
	"github.com/hanko-field/bookings/internal/platform/config"
	pfirestore "github.com/hanko-field/bookings/internal/platform/firestore"
	"github.com/hanko-field/bookings/internal/platform/idempotency"
	"github.com/hanko-field/bookings/internal/platform/jobs"
	"github.com/hanko-field/bookings/internal/platform/observability"
	"github.com/hanko-field/bookings/internal/repositories"
	firestoreRepo "github.com/hanko-field/bookings/internal/repositories/firestore"
	"github.com/hanko-field/bookings/internal/repositories/memory"
	"github.com/hanko-field/bookings/internal/repositories/postgres"
	"github.com/hanko-field/bookings/internal/services"
)

const (
	idempotencyCollection = "idempotencyKeys"
	idempotencyRedisKey   = "bookings:idem:"
	nonceRedisKey         = "bookings:nonce:"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Pricing       *services.PricingCalculator
	Coupons       services.CouponService
	Bookings      services.BookingService
	Reconciler    services.PaymentReconciler
	Notifications *services.NotificationDispatcher
	Sweeper       *services.BookingSweeper
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	Payments      *payments.Manager
	Idempotency   idempotency.Store
	Nonces        auth.NonceStore
	Authenticator *auth.Authenticator
	Readiness     *repositories.ReadinessChecker

	logger    *zap.Logger
	firestore *pfirestore.Provider
	redis     *redis.Client
	pubsub    *pubsub.Client
	closers   []func(context.Context) error
}

// Option customises container construction.
type Option func(*options)

type options struct {
	registry repositories.Registry
	metrics  services.Metrics
	gateway  services.PaymentGateway
}

// WithRegistry supplies a prebuilt registry instead of opening the configured backend.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithMetrics records ledger transitions through m.
func WithMetrics(m services.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithPaymentGateway replaces the provider manager built from configuration.
func WithPaymentGateway(gw services.PaymentGateway) Option {
	return func(o *options) {
		o.gateway = gw
	}
}

// NewContainer constructs the runtime dependencies. On error every resource
// opened so far is released.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (c *Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c = &Container{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Close(closeCtx)
			c = nil
		}
	}()

	reg := o.registry
	if reg == nil {
		reg, err = c.openRegistry(ctx, cfg)
		if err != nil {
			return c, err
		}
	}
	c.Repositories = reg
	c.closers = append(c.closers, reg.Close)

	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		c.redis = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		client := c.redis
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
	}
	c.Idempotency = c.buildIdempotencyStore(cfg, reg)
	if c.redis != nil {
		c.Nonces = auth.NewRedisNonceStore(c.redis, nonceRedisKey)
	} else {
		c.Nonces = auth.NewInMemoryNonceStore()
	}

	var app *firebase.App
	if strings.TrimSpace(cfg.Firebase.ProjectID) != "" {
		app, err = auth.NewFirebaseApp(ctx, cfg.Firebase)
		if err != nil {
			return c, err
		}
		verifier, verr := auth.NewFirebaseVerifier(ctx, app)
		if verr != nil {
			return c, verr
		}
		c.Authenticator = auth.NewAuthenticator(verifier)
	} else {
		logger.Warn("firebase project not configured; every storefront request is treated as a guest")
		c.Authenticator = auth.NewAuthenticator(nil)
	}

	gateway := o.gateway
	if gateway == nil {
		c.Payments, err = buildPaymentManager(cfg.Payments, logger.Named("payments"))
		if err != nil {
			return c, err
		}
		gateway = c.Payments
	}

	events, customerJobs, err := c.buildPublishers(ctx, cfg.Notifications)
	if err != nil {
		return c, err
	}

	owner, err := notifications.NewOwnerTelegram(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID)
	if err != nil {
		return c, err
	}
	var push notifications.Sender
	if cfg.Notifications.FCMEnabled {
		if app == nil {
			return c, errors.New("fcm notifications require a firebase project")
		}
		push, err = notifications.NewOwnerPush(ctx, app)
		if err != nil {
			return c, err
		}
	}
	notifier := notifications.NewNotifier(
		[]notifications.Sender{notifications.NewCustomerJobs(customerJobs)},
		[]notifications.Sender{owner, push},
	)

	svc, err := buildServices(cfg, reg, gateway, notifier, events, o.metrics, logger)
	if err != nil {
		return c, err
	}
	c.Services = svc

	c.Readiness, err = c.buildReadiness(reg, cfg.Notifications)
	if err != nil {
		return c, err
	}
	return c, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Cleaner returns the idempotency sweeper, or nil when the store expires keys on its own.
func (c *Container) Cleaner(interval time.Duration, batch int) *idempotency.Cleaner {
	if c == nil || c.Idempotency == nil || c.redis != nil || interval <= 0 {
		return nil
	}
	return idempotency.NewCleaner(c.Idempotency, interval, batch, c.logger.Named("idempotency"))
}

func (c *Container) openRegistry(ctx context.Context, cfg config.Config) (repositories.Registry, error) {
	switch cfg.Store.Backend {
	case config.StoreFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		reg, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			_ = provider.Close(ctx)
			return nil, fmt.Errorf("build firestore registry: %w", err)
		}
		c.firestore = provider
		return reg, nil
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.Migrate {
			if err := postgres.Migrate(ctx, db, observability.NewPrintfAdapter(c.logger.Named("migrate"))); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		store, err := postgres.NewStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return store, nil
	case config.StoreMemory:
		c.logger.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func (c *Container) buildIdempotencyStore(cfg config.Config, reg repositories.Registry) idempotency.Store {
	if c.redis != nil {
		return idempotency.NewRedisStore(c.redis, idempotencyRedisKey)
	}
	if c.firestore != nil {
		return idempotency.NewFirestoreStore(c.firestore, idempotencyCollection)
	}
	if cfg.Store.Backend != config.StoreMemory {
		c.logger.Warn("idempotency keys kept in process; configure redis for multi-instance deployments")
	}
	return idempotency.NewMemoryStore()
}

func (c *Container) buildPublishers(ctx context.Context, cfg config.NotificationsConfig) (services.BookingEventPublisher, notifications.JobPublisher, error) {
	eventsTopic := strings.TrimSpace(cfg.EventsTopic)
	customerTopic := strings.TrimSpace(cfg.CustomerTopic)
	if eventsTopic == "" && customerTopic == "" {
		return nil, nil, nil
	}
	projectID := strings.TrimSpace(cfg.PubSubProjectID)
	if projectID == "" {
		c.logger.Warn("pubsub project not configured; booking events and customer confirmations are disabled")
		return nil, nil, nil
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	c.pubsub = client
	c.closers = append(c.closers, func(context.Context) error { return client.Close() })

	var events services.BookingEventPublisher
	if eventsTopic != "" {
		topic := client.Topic(eventsTopic)
		c.closers = append(c.closers, func(context.Context) error { topic.Stop(); return nil })
		publisher, err := jobs.NewBookingEventPublisher(topic)
		if err != nil {
			return nil, nil, err
		}
		events = publisher
	}
	var customer notifications.JobPublisher
	if customerTopic != "" {
		topic := client.Topic(customerTopic)
		c.closers = append(c.closers, func(context.Context) error { topic.Stop(); return nil })
		publisher, err := jobs.NewPubSubPublisher(topic)
		if err != nil {
			return nil, nil, err
		}
		customer = publisher
	}
	return events, customer, nil
}

func (c *Container) buildReadiness(reg repositories.Registry, cfg config.NotificationsConfig) (*repositories.ReadinessChecker, error) {
	deps := []repositories.Dependency{{Name: "store", Ping: reg.Ping}}
	if c.redis != nil {
		client := c.redis
		deps = append(deps, repositories.Dependency{
			Name: "redis",
			Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}
	if c.pubsub != nil && strings.TrimSpace(cfg.EventsTopic) != "" {
		topic := c.pubsub.Topic(strings.TrimSpace(cfg.EventsTopic))
		deps = append(deps, repositories.Dependency{
			Name:    "pubsub",
			Timeout: 3 * time.Second,
			Ping: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", topic.ID())
				}
				return nil
			},
		})
	}
	return repositories.NewReadinessChecker(deps)
}

func buildPaymentManager(cfg config.PaymentsConfig, logger *zap.Logger) (*payments.Manager, error) {
	paymentsLogger := observability.ServiceLogger(logger)
	providers := make(map[string]payments.Provider, 2)
	if cfg.Gateway.Enabled() {
		gw, err := payments.NewGatewayProvider(payments.GatewayProviderConfig{
			BaseURL:       cfg.Gateway.BaseURL,
			KeyID:         cfg.Gateway.KeyID,
			KeySecret:     cfg.Gateway.KeySecret,
			WebhookSecret: cfg.Gateway.WebhookSecret,
			Logger:        paymentsLogger,
			Clock:         time.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("build gateway provider: %w", err)
		}
		providers[payments.GatewayProviderName] = gw
	}
	if cfg.Stripe.Enabled() {
		sp, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:        cfg.Stripe.APIKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			AccountID:     cfg.Stripe.AccountID,
			Logger:        paymentsLogger,
			Clock:         time.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers[payments.StripeProviderName] = sp
	}
	if len(providers) == 0 {
		return nil, errors.New("no payment provider configured")
	}
	return payments.NewManager(providers,
		payments.WithDefaultProvider(cfg.DefaultProvider),
		payments.WithCurrencyRoutes(cfg.CurrencyRoutes),
	)
}

func buildServices(
	cfg config.Config,
	reg repositories.Registry,
	gateway services.PaymentGateway,
	notifier services.BookingNotifier,
	events services.BookingEventPublisher,
	metrics services.Metrics,
	logger *zap.Logger,
) (Services, error) {
	pricing, err := services.NewPricingCalculator(services.PricingConfig{
		TaxRateBPS: cfg.Pricing.TaxRateBPS,
		BookingFee: cfg.Pricing.BookingFee,
		Currency:   cfg.Pricing.Currency,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing calculator: %w", err)
	}

	location := time.UTC
	if tz := strings.TrimSpace(cfg.Booking.ReferenceTimezone); tz != "" {
		location, err = time.LoadLocation(tz)
		if err != nil {
			return Services{}, fmt.Errorf("load reference timezone: %w", err)
		}
	}
	references, err := services.NewReferenceGenerator(services.ReferenceGeneratorDeps{
		Counters: reg.Counters(),
		Clock:    time.Now,
		Location: location,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reference generator: %w", err)
	}

	coupons, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons:  reg.Coupons(),
		Bookings: reg.Bookings(),
		Listings: reg.Listings(),
		Pricing:  pricing,
		Clock:    time.Now,
		Logger:   observability.ServiceLogger(logger.Named("coupons")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}

	dispatcher := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
		Notifier: notifier,
		Listings: reg.Listings(),
		Timeout:  cfg.Notifications.Timeout,
		Logger:   observability.ServiceLogger(logger.Named("notifications")),
	})

	bookings, err := services.NewBookingService(services.BookingServiceDeps{
		Listings:       reg.Listings(),
		Coupons:        reg.Coupons(),
		Bookings:       reg.Bookings(),
		Payments:       reg.Payments(),
		Ledger:         reg.Ledger(),
		References:     references,
		Gateway:        gateway,
		Pricing:        pricing,
		Notifications:  dispatcher,
		Events:         events,
		Metrics:        metrics,
		PendingTimeout: cfg.Booking.PendingTimeout,
		Clock:          time.Now,
		Logger:         observability.ServiceLogger(logger.Named("bookings")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build booking service: %w", err)
	}

	reconciler, err := services.NewPaymentReconciler(services.PaymentReconcilerDeps{
		Bookings:      reg.Bookings(),
		Payments:      reg.Payments(),
		Ledger:        reg.Ledger(),
		Gateway:       gateway,
		Notifications: dispatcher,
		Events:        events,
		Metrics:       metrics,
		Clock:         time.Now,
		Logger:        observability.ServiceLogger(logger.Named("reconciler")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment reconciler: %w", err)
	}

	var sweeper *services.BookingSweeper
	if cfg.Booking.SweepInterval > 0 {
		sweeper, err = services.NewBookingSweeper(bookings, services.BookingSweeperConfig{
			Interval:  cfg.Booking.SweepInterval,
			OlderThan: cfg.Booking.PendingTimeout,
			Batch:     cfg.Booking.SweepBatch,
			Logger:    observability.ServiceLogger(logger.Named("sweeper")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build booking sweeper: %w", err)
		}
	}

	return Services{
		Pricing:       pricing,
		Coupons:       coupons,
		Bookings:      bookings,
		Reconciler:    reconciler,
		Notifications: dispatcher,
		Sweeper:       sweeper,
	}, nil
}
