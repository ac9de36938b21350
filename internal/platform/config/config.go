package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "BOOKINGS_"

	defaultEnvFile               = ".env"
	defaultPort                  = "8080"
	defaultReadTimeout           = 15 * time.Second
	defaultWriteTimeout          = 30 * time.Second
	defaultIdleTimeout           = 120 * time.Second
	defaultShutdownTimeout       = 20 * time.Second
	defaultStoreBackend          = StoreFirestore
	defaultPostgresMaxConns      = 10
	defaultTaxRateBPS            = 1800
	defaultBookingFee            = 19900
	defaultCurrency              = "INR"
	defaultPendingTimeout        = 24 * time.Hour
	defaultSweepInterval         = 10 * time.Minute
	defaultSweepBatch            = 100
	defaultReferenceTimezone     = "UTC"
	defaultGatewayBaseURL        = "https://api.razorpay.com"
	defaultEventsTopic           = "booking-events"
	defaultCustomerTopic         = "booking-notifications"
	defaultNotificationTimeout   = 30 * time.Second
	defaultRateLimitDefault      = 120
	defaultRateLimitCoupon       = 30
	defaultRateLimitWebhookBurst = 60
	defaultSecurityEnvironment   = "local"
	defaultHMACSignatureHeader   = "X-Signature"
	defaultHMACTimestampHeader   = "X-Signature-Timestamp"
	defaultHMACNonceHeader       = "X-Signature-Nonce"
	defaultHMACClockSkew         = 5 * time.Minute
	defaultHMACNonceTTL          = 5 * time.Minute
	defaultIdempotencyHeader     = "Idempotency-Key"
	defaultIdempotencyTTL        = 24 * time.Hour
	defaultIdempotencyInterval   = time.Hour
	defaultIdempotencyBatchSize  = 200
)

// Storage backends accepted by BOOKINGS_STORE_BACKEND.
const (
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
	StoreMemory    = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Store         StoreConfig
	Firestore     FirestoreConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Pricing       PricingConfig
	Booking       BookingConfig
	Payments      PaymentsConfig
	Notifications NotificationsConfig
	RateLimits    RateLimitConfig
	Security      SecurityConfig
	Idempotency   IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	Backend string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	DatabaseID   string
	EmulatorHost string
}

// PostgresConfig configures the SQL backend.
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	Migrate      bool
}

// RedisConfig configures the idempotency and nonce stores. An empty Addr keeps
// both in process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PricingConfig holds the tax and booking fee parameters in minor units.
type PricingConfig struct {
	TaxRateBPS int64
	BookingFee int64
	Currency   string
}

// BookingConfig controls pending timeouts and the sweep loop.
type BookingConfig struct {
	PendingTimeout    time.Duration
	SweepInterval     time.Duration
	SweepBatch        int
	ReferenceTimezone string
}

// PaymentsConfig collects provider credentials and routing.
type PaymentsConfig struct {
	DefaultProvider string
	CurrencyRoutes  map[string]string
	Gateway         GatewayConfig
	Stripe          StripeConfig
}

// GatewayConfig configures the order based gateway provider.
type GatewayConfig struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

// Enabled reports whether the gateway has credentials.
func (c GatewayConfig) Enabled() bool {
	return c.KeyID != "" && c.KeySecret != ""
}

// StripeConfig configures the Stripe provider.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
}

// Enabled reports whether Stripe has credentials.
func (c StripeConfig) Enabled() bool {
	return c.APIKey != ""
}

// NotificationsConfig configures the confirmation fan-out.
type NotificationsConfig struct {
	PubSubProjectID string
	EventsTopic     string
	CustomerTopic   string
	TelegramToken   string
	TelegramChatID  int64
	FCMEnabled      bool
	Timeout         time.Duration
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute        int
	CouponValidatePerMinute int
	WebhookBurst            int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	HMAC        HMACConfig
}

// HMACConfig captures internal request signing expectations.
type HMACConfig struct {
	Secrets         map[string]string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	configFile            string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (config file < dotenv < OS env < explicit env map). Callers can use the result to
// initialise dependencies, such as the secret fetcher, before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	fileValues, err := loadFiles(options)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(fileValues))
	merge := func(source map[string]string) {
		for key, value := range source {
			values[key] = value
		}
	}
	merge(fileValues)
	if options.useSystemEnv {
		system := make(map[string]string)
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			system[strings.TrimSpace(key)] = value
		}
		merge(system)
	}
	merge(options.envMap)
	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithConfigFile reads an additional YAML/JSON/TOML file. Nested keys map onto
// environment names, so server.port in the file is BOOKINGS_SERVER_PORT.
func WithConfigFile(path string) Option {
	return func(o *loaderOptions) {
		o.configFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers should match the config field names recorded by the loader
// (e.g. "Payments.Stripe.APIKey" or "Security.HMAC.Secrets[ops]").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

func defaultOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
}

// Load assembles the application configuration by combining defaults, config file and .env
// overrides, environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions()
	options.secret = SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})
	for _, opt := range opts {
		opt(&options)
	}

	fileValues, err := loadFiles(options)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		key = envPrefix + key
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := fileValues[key]; ok {
			return value, true
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "FIREBASE_CREDENTIALS_FILE", ""),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(stringWithDefault(lookup, "STORE_BACKEND", defaultStoreBackend)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "FIRESTORE_PROJECT_ID", ""),
			DatabaseID:   stringWithDefault(lookup, "FIRESTORE_DATABASE_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{
			DSN:          stringWithDefault(lookup, "POSTGRES_DSN", ""),
			MaxOpenConns: intWithDefault(lookup, "POSTGRES_MAX_OPEN_CONNS", defaultPostgresMaxConns),
			Migrate:      boolWithDefault(lookup, "POSTGRES_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "REDIS_DB", 0),
		},
		Pricing: PricingConfig{
			TaxRateBPS: int64WithDefault(lookup, "PRICING_TAX_RATE_BPS", defaultTaxRateBPS),
			BookingFee: int64WithDefault(lookup, "PRICING_BOOKING_FEE", defaultBookingFee),
			Currency:   strings.ToUpper(stringWithDefault(lookup, "PRICING_CURRENCY", defaultCurrency)),
		},
		Booking: BookingConfig{
			PendingTimeout:    durationWithDefault(lookup, "BOOKING_PENDING_TIMEOUT", defaultPendingTimeout),
			SweepInterval:     durationWithDefault(lookup, "BOOKING_SWEEP_INTERVAL", defaultSweepInterval),
			SweepBatch:        intWithDefault(lookup, "BOOKING_SWEEP_BATCH", defaultSweepBatch),
			ReferenceTimezone: stringWithDefault(lookup, "BOOKING_REFERENCE_TIMEZONE", defaultReferenceTimezone),
		},
		Payments: PaymentsConfig{
			DefaultProvider: strings.ToLower(stringWithDefault(lookup, "PAYMENTS_DEFAULT_PROVIDER", "")),
			CurrencyRoutes:  mapWithDefault(lookup, "PAYMENTS_CURRENCY_ROUTES"),
			Gateway: GatewayConfig{
				BaseURL:       stringWithDefault(lookup, "PAYMENTS_GATEWAY_BASE_URL", defaultGatewayBaseURL),
				KeyID:         stringWithDefault(lookup, "PAYMENTS_GATEWAY_KEY_ID", ""),
				KeySecret:     stringWithDefault(lookup, "PAYMENTS_GATEWAY_KEY_SECRET", ""),
				WebhookSecret: stringWithDefault(lookup, "PAYMENTS_GATEWAY_WEBHOOK_SECRET", ""),
			},
			Stripe: StripeConfig{
				APIKey:        stringWithDefault(lookup, "PAYMENTS_STRIPE_API_KEY", ""),
				WebhookSecret: stringWithDefault(lookup, "PAYMENTS_STRIPE_WEBHOOK_SECRET", ""),
				AccountID:     stringWithDefault(lookup, "PAYMENTS_STRIPE_ACCOUNT_ID", ""),
			},
		},
		Notifications: NotificationsConfig{
			PubSubProjectID: stringWithDefault(lookup, "NOTIFICATIONS_PUBSUB_PROJECT_ID", ""),
			EventsTopic:     stringWithDefault(lookup, "NOTIFICATIONS_EVENTS_TOPIC", defaultEventsTopic),
			CustomerTopic:   stringWithDefault(lookup, "NOTIFICATIONS_CUSTOMER_TOPIC", defaultCustomerTopic),
			TelegramToken:   stringWithDefault(lookup, "NOTIFICATIONS_TELEGRAM_TOKEN", ""),
			TelegramChatID:  int64WithDefault(lookup, "NOTIFICATIONS_TELEGRAM_CHAT_ID", 0),
			FCMEnabled:      boolWithDefault(lookup, "NOTIFICATIONS_FCM_ENABLED", false),
			Timeout:         durationWithDefault(lookup, "NOTIFICATIONS_TIMEOUT", defaultNotificationTimeout),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:        intWithDefault(lookup, "RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			CouponValidatePerMinute: intWithDefault(lookup, "RATELIMIT_COUPON_PER_MIN", defaultRateLimitCoupon),
			WebhookBurst:            intWithDefault(lookup, "RATELIMIT_WEBHOOK_BURST", defaultRateLimitWebhookBurst),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			HMAC: HMACConfig{
				Secrets:         mapWithDefault(lookup, "SECURITY_HMAC_SECRETS"),
				SignatureHeader: stringWithDefault(lookup, "SECURITY_HMAC_HEADER_SIGNATURE", defaultHMACSignatureHeader),
				TimestampHeader: stringWithDefault(lookup, "SECURITY_HMAC_HEADER_TIMESTAMP", defaultHMACTimestampHeader),
				NonceHeader:     stringWithDefault(lookup, "SECURITY_HMAC_HEADER_NONCE", defaultHMACNonceHeader),
				ClockSkew:       durationWithDefault(lookup, "SECURITY_HMAC_CLOCK_SKEW", defaultHMACClockSkew),
				NonceTTL:        durationWithDefault(lookup, "SECURITY_HMAC_NONCE_TTL", defaultHMACNonceTTL),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	// Firestore and Pub/Sub default to the Firebase project.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Notifications.PubSubProjectID == "" {
		cfg.Notifications.PubSubProjectID = cfg.Firestore.ProjectID
	}

	resolvedSecrets := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		resolved, err := resolveSecret(ctx, value, options.secret)
		if err != nil {
			return Config{}, err
		}
		cfg.Security.HMAC.Secrets[key] = resolved
		resolvedSecrets[fmt.Sprintf("Security.HMAC.Secrets[%s]", key)] = strings.TrimSpace(resolved)
	}

	// Resolve secrets when values reference Secret Manager.
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Postgres.DSN", &cfg.Postgres.DSN},
		{"Redis.Password", &cfg.Redis.Password},
		{"Payments.Gateway.KeySecret", &cfg.Payments.Gateway.KeySecret},
		{"Payments.Gateway.WebhookSecret", &cfg.Payments.Gateway.WebhookSecret},
		{"Payments.Stripe.APIKey", &cfg.Payments.Stripe.APIKey},
		{"Payments.Stripe.WebhookSecret", &cfg.Payments.Stripe.WebhookSecret},
		{"Notifications.TelegramToken", &cfg.Notifications.TelegramToken},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Store.Backend {
	case StoreFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case StorePostgres:
		if cfg.Postgres.DSN == "" {
			missing = append(missing, "Postgres.DSN")
		}
	case StoreMemory:
	default:
		missing = append(missing, "Store.Backend")
	}
	if cfg.Pricing.TaxRateBPS < 0 {
		missing = append(missing, "Pricing.TaxRateBPS")
	}
	if cfg.Pricing.BookingFee < 0 {
		missing = append(missing, "Pricing.BookingFee")
	}
	if len(cfg.Pricing.Currency) != 3 {
		missing = append(missing, "Pricing.Currency")
	}
	if cfg.Booking.PendingTimeout <= 0 {
		missing = append(missing, "Booking.PendingTimeout")
	}
	if _, err := time.LoadLocation(cfg.Booking.ReferenceTimezone); err != nil {
		missing = append(missing, "Booking.ReferenceTimezone")
	}
	if !cfg.Payments.Gateway.Enabled() && !cfg.Payments.Stripe.Enabled() {
		missing = append(missing, "Payments.Providers")
	}
	if cfg.Payments.Gateway.Enabled() && cfg.Payments.Gateway.WebhookSecret == "" {
		missing = append(missing, "Payments.Gateway.WebhookSecret")
	}
	if cfg.Payments.Stripe.Enabled() && cfg.Payments.Stripe.WebhookSecret == "" {
		missing = append(missing, "Payments.Stripe.WebhookSecret")
	}
	if cfg.Notifications.TelegramToken != "" && cfg.Notifications.TelegramChatID == 0 {
		missing = append(missing, "Notifications.TelegramChatID")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if value := strings.TrimSpace(resolved[trimmed]); value != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

// loadFiles merges the optional config file under the optional dotenv file.
func loadFiles(options loaderOptions) (map[string]string, error) {
	values, err := readConfigFile(options.configFile, "")
	if err != nil {
		return nil, err
	}
	dotEnv, err := readConfigFile(options.envFile, "env")
	if err != nil {
		return nil, err
	}
	if values == nil {
		return dotEnv, nil
	}
	for key, value := range dotEnv {
		values[key] = value
	}
	return values, nil
}

// readConfigFile reads path with viper and flattens its keys into environment
// names. A missing file is not an error.
func readConfigFile(path, configType string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	v := viper.New()
	v.SetConfigFile(absPath)
	if configType != "" {
		v.SetConfigType(configType)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}

	values := make(map[string]string)
	for _, key := range v.AllKeys() {
		name := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if !strings.HasPrefix(name, envPrefix) {
			name = envPrefix + name
		}
		values[name] = strings.Trim(strings.TrimSpace(v.GetString(key)), "\"'")
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func mapWithDefault(lookup func(string) (string, bool), key string) map[string]string {
	values := make(map[string]string)
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return values
	}
	for _, entry := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		values[name] = value
	}
	return values
}
