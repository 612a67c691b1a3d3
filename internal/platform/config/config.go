package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultShutdownTimeout    = 20 * time.Second
	defaultEnvironment        = "local"
	defaultLogLevel           = "info"
	defaultUpstreamTimeout    = 10 * time.Second
	defaultLightServiceTypeID = 2
	defaultHeavyServiceTypeID = 5
	defaultBreakerFailures    = 5
	defaultBreakerCooldown    = 30 * time.Second
	defaultMinOrderBasis      = "pre_platform"
	defaultReconcileTolerance = 1
	defaultSessionIdleTTL     = 30 * time.Minute
	defaultSessionDebounce    = 800 * time.Millisecond
	defaultSessionThrottle    = 500 * time.Millisecond
	defaultSubmitRateLimit    = 10
	defaultSubmitRateWindow   = time.Minute
	defaultQuoteTTL           = 5 * time.Minute
	defaultVoucherTTL         = 2 * time.Minute
	defaultVoucherEntries     = 256
	defaultOrdersTopic        = "checkout-orders"
	defaultIdempotencyHeader  = "Idempotency-Key"
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultIdempotencyBackend = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Firestore   FirestoreConfig
	Marketplace MarketplaceConfig
	Carrier     CarrierConfig
	Checkout    CheckoutConfig
	Cache       CacheConfig
	PubSub      PubSubConfig
	Secrets     SecretsConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// MarketplaceConfig points at the commerce backend serving vouchers, addresses, preview and orders.
type MarketplaceConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// CarrierConfig points at the shipping fee API.
type CarrierConfig struct {
	BaseURL            string
	Token              string
	ShopID             string
	Timeout            time.Duration
	LightServiceTypeID int
	HeavyServiceTypeID int
	// BreakerFailures consecutive failures open the fee circuit for BreakerCooldown.
	BreakerFailures int
	BreakerCooldown time.Duration
}

// CheckoutConfig tunes pricing and the live session recompute loop.
type CheckoutConfig struct {
	MinOrderBasis      string
	ReconcileTolerance int64
	SessionIdleTTL     time.Duration
	SessionDebounce    time.Duration
	SessionThrottle    time.Duration
	// SubmitRateLimit caps order submissions per session within SubmitRateWindow. Zero disables it.
	SubmitRateLimit  int
	SubmitRateWindow time.Duration
}

// CacheConfig selects where shipping quotes are cached and how long catalog lookups live.
// An empty RedisAddr keeps quotes in process memory.
type CacheConfig struct {
	QuoteTTL       time.Duration
	VoucherTTL     time.Duration
	VoucherEntries int
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
}

// PubSubConfig enables order submitted events. An empty ProjectID disables publishing.
type PubSubConfig struct {
	ProjectID   string
	OrdersTopic string
}

// SecretsConfig controls secret:// resolution.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
	CacheTTL     time.Duration
}

// IdempotencyConfig controls the order submission replay guard.
type IdempotencyConfig struct {
	Header  string
	TTL     time.Duration
	Backend string
}

// SecretResolver resolves secret:// references.
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

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes a failure resolving one configuration field.
type SecretError struct {
	Field string
	Err   error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve secret for %s: %v", e.Field, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Lookup returns the effective value for key using the same precedence as Load
// (explicit map, then process environment, then .env). Callers use it to bootstrap
// components that Load itself depends on, such as the secret resolver.
func Lookup(key string, opts ...Option) (string, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookupFunc()
	if err != nil {
		return "", err
	}
	value, _ := lookup(key)
	return strings.TrimSpace(value), nil
}

// Load assembles the application configuration from defaults, .env overrides, environment
// variables and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookupFunc()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "API_ENVIRONMENT", defaultEnvironment)),
		LogLevel:    strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Marketplace: MarketplaceConfig{
			BaseURL: stringWithDefault(lookup, "MARKETPLACE_BASE_URL", ""),
			APIKey:  stringWithDefault(lookup, "MARKETPLACE_API_KEY", ""),
			Timeout: durationWithDefault(lookup, "MARKETPLACE_TIMEOUT", defaultUpstreamTimeout),
		},
		Carrier: CarrierConfig{
			BaseURL:            stringWithDefault(lookup, "CARRIER_BASE_URL", ""),
			Token:              stringWithDefault(lookup, "CARRIER_TOKEN", ""),
			ShopID:             stringWithDefault(lookup, "CARRIER_SHOP_ID", ""),
			Timeout:            durationWithDefault(lookup, "CARRIER_TIMEOUT", defaultUpstreamTimeout),
			LightServiceTypeID: intWithDefault(lookup, "CARRIER_LIGHT_SERVICE_TYPE_ID", defaultLightServiceTypeID),
			HeavyServiceTypeID: intWithDefault(lookup, "CARRIER_HEAVY_SERVICE_TYPE_ID", defaultHeavyServiceTypeID),
			BreakerFailures:    intWithDefault(lookup, "CARRIER_BREAKER_FAILURES", defaultBreakerFailures),
			BreakerCooldown:    durationWithDefault(lookup, "CARRIER_BREAKER_COOLDOWN", defaultBreakerCooldown),
		},
		Checkout: CheckoutConfig{
			MinOrderBasis:      strings.ToLower(stringWithDefault(lookup, "CHECKOUT_MIN_ORDER_BASIS", defaultMinOrderBasis)),
			ReconcileTolerance: int64(intWithDefault(lookup, "CHECKOUT_RECONCILE_TOLERANCE", defaultReconcileTolerance)),
			SessionIdleTTL:     durationWithDefault(lookup, "CHECKOUT_SESSION_IDLE_TTL", defaultSessionIdleTTL),
			SessionDebounce:    durationWithDefault(lookup, "CHECKOUT_SESSION_DEBOUNCE", defaultSessionDebounce),
			SessionThrottle:    durationWithDefault(lookup, "CHECKOUT_SESSION_THROTTLE", defaultSessionThrottle),
			SubmitRateLimit:    intWithDefault(lookup, "CHECKOUT_SUBMIT_RATE_LIMIT", defaultSubmitRateLimit),
			SubmitRateWindow:   durationWithDefault(lookup, "CHECKOUT_SUBMIT_RATE_WINDOW", defaultSubmitRateWindow),
		},
		Cache: CacheConfig{
			QuoteTTL:       durationWithDefault(lookup, "CACHE_QUOTE_TTL", defaultQuoteTTL),
			VoucherTTL:     durationWithDefault(lookup, "CACHE_VOUCHER_TTL", defaultVoucherTTL),
			VoucherEntries: intWithDefault(lookup, "CACHE_VOUCHER_ENTRIES", defaultVoucherEntries),
			RedisAddr:      stringWithDefault(lookup, "CACHE_REDIS_ADDR", ""),
			RedisPassword:  stringWithDefault(lookup, "CACHE_REDIS_PASSWORD", ""),
			RedisDB:        intWithDefault(lookup, "CACHE_REDIS_DB", 0),
		},
		PubSub: PubSubConfig{
			ProjectID:   stringWithDefault(lookup, "PUBSUB_PROJECT_ID", ""),
			OrdersTopic: stringWithDefault(lookup, "PUBSUB_ORDERS_TOPIC", defaultOrdersTopic),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "SECRETS_FALLBACK_FILE", ".secrets.local"),
			CacheTTL:     durationWithDefault(lookup, "SECRETS_CACHE_TTL", 10*time.Minute),
		},
		Idempotency: IdempotencyConfig{
			Header:  stringWithDefault(lookup, "IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:     durationWithDefault(lookup, "IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			Backend: strings.ToLower(stringWithDefault(lookup, "IDEMPOTENCY_BACKEND", defaultIdempotencyBackend)),
		},
	}

	if cfg.Secrets.ProjectID == "" {
		cfg.Secrets.ProjectID = cfg.Firestore.ProjectID
	}

	secretFields := []struct {
		name  string
		field *string
	}{
		{"Marketplace.APIKey", &cfg.Marketplace.APIKey},
		{"Carrier.Token", &cfg.Carrier.Token},
		{"Cache.RedisPassword", &cfg.Cache.RedisPassword},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, &SecretError{Field: target.name, Err: err}
		}
		*target.field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

func (o loaderOptions) lookupFunc() (func(string) (string, bool), error) {
	dotEnv, err := loadDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if value, ok := o.envMap[key]; ok {
			return value, true
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") {
		return value, nil
	}
	if resolver == nil {
		return "", errSecretResolverNotConfigured
	}
	return resolver.ResolveSecret(ctx, trimmed)
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if !validBaseURL(cfg.Marketplace.BaseURL) {
		missing = append(missing, "Marketplace.BaseURL")
	}
	if !validBaseURL(cfg.Carrier.BaseURL) {
		missing = append(missing, "Carrier.BaseURL")
	}
	if strings.TrimSpace(cfg.Carrier.Token) == "" {
		missing = append(missing, "Carrier.Token")
	}
	if cfg.Carrier.LightServiceTypeID <= 0 {
		missing = append(missing, "Carrier.LightServiceTypeID")
	}
	if cfg.Carrier.HeavyServiceTypeID <= 0 {
		missing = append(missing, "Carrier.HeavyServiceTypeID")
	}
	if cfg.Carrier.BreakerFailures < 0 {
		missing = append(missing, "Carrier.BreakerFailures")
	}
	switch cfg.Checkout.MinOrderBasis {
	case "pre_platform", "post_platform":
	default:
		missing = append(missing, "Checkout.MinOrderBasis")
	}
	if cfg.Checkout.ReconcileTolerance < 0 {
		missing = append(missing, "Checkout.ReconcileTolerance")
	}
	if cfg.Checkout.SessionIdleTTL <= 0 {
		missing = append(missing, "Checkout.SessionIdleTTL")
	}
	if cfg.Cache.QuoteTTL <= 0 {
		missing = append(missing, "Cache.QuoteTTL")
	}
	if cfg.Cache.VoucherEntries <= 0 {
		missing = append(missing, "Cache.VoucherEntries")
	}
	if cfg.PubSub.ProjectID != "" && strings.TrimSpace(cfg.PubSub.OrdersTopic) == "" {
		missing = append(missing, "PubSub.OrdersTopic")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	switch cfg.Idempotency.Backend {
	case "memory", "firestore":
	default:
		missing = append(missing, "Idempotency.Backend")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func validBaseURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// loadDotEnv reads KEY=VALUE overrides. A missing file is not an error.
func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	values, err := godotenv.Read(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
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
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
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
