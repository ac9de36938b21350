package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/bookings/internal/di"
	"github.com/hanko-field/bookings/internal/handlers"
	"github.com/hanko-field/bookings/internal/platform/auth"
	"github.com/hanko-field/bookings/internal/platform/config"
	"github.com/hanko-field/bookings/internal/platform/idempotency"
	"github.com/hanko-field/bookings/internal/platform/observability"
	"github.com/hanko-field/bookings/internal/platform/requestctx"
	"github.com/hanko-field/bookings/internal/platform/secrets"
)

const (
	envPrefix          = "BOOKINGS_"
	internalSecretName = "internal"
	meterName          = "github.com/hanko-field/bookings"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("bookings")
	ctx = requestctx.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	var containerOpts []di.Option
	if metrics, err := observability.NewBookingMetrics(otel.Meter(meterName)); err != nil {
		logger.Warn("booking metrics disabled", zap.Error(err))
	} else {
		containerOpts = append(containerOpts, di.WithMetrics(metrics))
	}

	container, err := di.NewContainer(ctx, cfg, logger, containerOpts...)
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err))
	}
	svc := container.Services

	idempotencyMiddleware := idempotency.Middleware(
		container.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	bookingHandlers := handlers.NewBookingHandlers(svc.Bookings, svc.Reconciler, handlers.WithBookingIdempotency(idempotencyMiddleware))
	couponHandlers := handlers.NewCouponHandlers(svc.Coupons, handlers.WithCouponRateLimit(cfg.RateLimits.CouponValidatePerMinute, time.Minute, nil))
	webhookHandlers := handlers.NewWebhookHandlers(svc.Reconciler)
	internalHandlers := handlers.NewInternalHandlers(svc.Coupons, svc.Bookings, svc.Reconciler, cfg.Booking.PendingTimeout)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
		handlers.WithHealthReadiness(container.Readiness),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		container.Authenticator.OptionalCustomer(),
		observability.RequestLoggerMiddleware(projectID),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithStorefrontMiddlewares(handlers.RateLimitMiddleware(cfg.RateLimits.DefaultPerMinute, time.Minute)),
		handlers.WithStorefrontRoutes(bookingHandlers.Routes, couponHandlers.Routes),
		handlers.WithWebhookMiddlewares(handlers.RateLimitMiddleware(cfg.RateLimits.WebhookBurst, time.Minute)),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	}
	if hmacMiddleware := buildHMACMiddleware(logger.Named("auth"), cfg, container.Nonces); hmacMiddleware != nil {
		opts = append(opts,
			handlers.WithInternalMiddlewares(hmacMiddleware),
			handlers.WithInternalRoutes(internalHandlers.Routes),
		)
	} else {
		logger.Warn("internal hmac secret not configured; internal routes are disabled")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	if sweeper := svc.Sweeper; sweeper != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			sweeper.Run(workerCtx)
		}()
	}
	if cleaner := container.Cleaner(cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize); cleaner != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			cleaner.Run(workerCtx)
		}()
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("bookings api listening", zap.String("store", cfg.Store.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	workerCancel()
	workers.Wait()

	if err := svc.Notifications.Wait(shutdownCtx); err != nil {
		logger.Warn("pending notifications dropped", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("dependency close error", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env[envPrefix+"BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env[envPrefix+"BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func buildHMACMiddleware(logger *zap.Logger, cfg config.Config, nonces auth.NonceStore) func(http.Handler) http.Handler {
	keys := make(auth.StaticSecrets)
	for key, value := range cfg.Security.HMAC.Secrets {
		if strings.TrimSpace(value) == "" {
			continue
		}
		keys[strings.ToLower(key)] = value
	}
	if _, ok := keys[internalSecretName]; !ok {
		return nil
	}

	validator := auth.NewHMACValidator(keys, nonces,
		auth.WithHMACLogger(logger),
		auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithHMACNonceTTL(cfg.Security.HMAC.NonceTTL),
	)
	return validator.RequireHMAC(internalSecretName)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[envPrefix+key])
	}

	envLabel := strings.ToLower(lookup("SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := parseKeyValueList(lookup("SECRET_PROJECT_IDS"), strings.ToLower); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPins(lookup("SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve for the configured
// providers and backends.
func requiredSecretNames(env map[string]string) []string {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[envPrefix+key])
	}

	var required []string
	if strings.EqualFold(lookup("STORE_BACKEND"), config.StorePostgres) {
		required = append(required, "Postgres.DSN")
	}
	if lookup("PAYMENTS_GATEWAY_KEY_ID") != "" {
		required = append(required, "Payments.Gateway.KeySecret", "Payments.Gateway.WebhookSecret")
	}
	if lookup("PAYMENTS_STRIPE_API_KEY") != "" {
		required = append(required, "Payments.Stripe.APIKey", "Payments.Stripe.WebhookSecret")
	}
	if lookup("NOTIFICATIONS_TELEGRAM_TOKEN") != "" {
		required = append(required, "Notifications.TelegramToken")
	}
	hmacKeys := parseKeyValueList(lookup("SECURITY_HMAC_SECRETS"), strings.ToLower)
	for key := range hmacKeys {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}
	return uniqueStrings(required)
}

// secretVersionPins parses "ref=version" pairs, normalising references to the
// secret:// scheme and keeping an optional "env:" prefix.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw, nil) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		if strings.HasPrefix(ref, "sm://") {
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseKeyValueList(raw string, normaliseKey func(string) string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if normaliseKey != nil {
			key = normaliseKey(key)
		}
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
