package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func minimalEnv() map[string]string {
	return map[string]string{
		"API_FIRESTORE_PROJECT_ID": "shop-dev",
		"MARKETPLACE_BASE_URL":     "https://market.example.com/api",
		"CARRIER_BASE_URL":         "https://carrier.example.com/v2",
		"CARRIER_TOKEN":            "carrier-token",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(minimalEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Environment != "local" || cfg.LogLevel != "info" {
		t.Errorf("unexpected environment/log level: %s/%s", cfg.Environment, cfg.LogLevel)
	}
	if cfg.Carrier.LightServiceTypeID != 2 || cfg.Carrier.HeavyServiceTypeID != 5 {
		t.Errorf("unexpected service types: %+v", cfg.Carrier)
	}
	if cfg.Carrier.BreakerFailures != 5 || cfg.Carrier.BreakerCooldown != 30*time.Second {
		t.Errorf("unexpected breaker defaults: %d/%s", cfg.Carrier.BreakerFailures, cfg.Carrier.BreakerCooldown)
	}
	if cfg.Checkout.MinOrderBasis != "pre_platform" {
		t.Errorf("expected pre_platform basis, got %s", cfg.Checkout.MinOrderBasis)
	}
	if cfg.Checkout.ReconcileTolerance != 1 {
		t.Errorf("expected tolerance 1, got %d", cfg.Checkout.ReconcileTolerance)
	}
	if cfg.Checkout.SessionIdleTTL != 30*time.Minute {
		t.Errorf("unexpected session idle ttl: %s", cfg.Checkout.SessionIdleTTL)
	}
	if cfg.Cache.QuoteTTL != 5*time.Minute || cfg.Cache.VoucherTTL != 2*time.Minute || cfg.Cache.VoucherEntries != 256 {
		t.Errorf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Cache.RedisAddr != "" {
		t.Errorf("expected in-memory quote cache by default, got %s", cfg.Cache.RedisAddr)
	}
	if cfg.PubSub.ProjectID != "" || cfg.PubSub.OrdersTopic != "checkout-orders" {
		t.Errorf("unexpected pubsub defaults: %+v", cfg.PubSub)
	}
	if cfg.Secrets.ProjectID != "shop-dev" {
		t.Errorf("expected secrets project to default to firestore project, got %s", cfg.Secrets.ProjectID)
	}
	if cfg.Idempotency.Header != "Idempotency-Key" || cfg.Idempotency.TTL != 24*time.Hour || cfg.Idempotency.Backend != "memory" {
		t.Errorf("unexpected idempotency defaults: %+v", cfg.Idempotency)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := minimalEnv()
	for key, value := range map[string]string{
		"API_SERVER_PORT":               "9090",
		"API_SERVER_WRITE_TIMEOUT":      "45s",
		"LOG_LEVEL":                     "DEBUG",
		"MARKETPLACE_API_KEY":           "secret://marketplace-key",
		"CARRIER_TOKEN":                 "secret://carrier-token?version=3",
		"CARRIER_SHOP_ID":               "885",
		"CARRIER_HEAVY_SERVICE_TYPE_ID": "7",
		"CHECKOUT_MIN_ORDER_BASIS":      "POST_PLATFORM",
		"CHECKOUT_RECONCILE_TOLERANCE":  "0",
		"CHECKOUT_SESSION_DEBOUNCE":     "150ms",
		"CACHE_REDIS_ADDR":              "localhost:6379",
		"CACHE_REDIS_PASSWORD":          "secret://redis-password",
		"CACHE_REDIS_DB":                "2",
		"PUBSUB_PROJECT_ID":             "shop-events",
		"PUBSUB_ORDERS_TOPIC":           "orders-v2",
		"IDEMPOTENCY_BACKEND":           "firestore",
		"IDEMPOTENCY_TTL":               "6h",
	} {
		env[key] = value
	}

	secrets := map[string]string{
		"secret://marketplace-key":         "mk-123",
		"secret://carrier-token?version=3": "ct-456",
		"secret://redis-password":          "rp-789",
	}
	var requested []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		requested = append(requested, ref)
		if value, ok := secrets[ref]; ok {
			return value, nil
		}
		return "", errors.New("unknown secret")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.WriteTimeout != 45*time.Second {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected lower-cased log level, got %s", cfg.LogLevel)
	}
	if cfg.Marketplace.APIKey != "mk-123" || cfg.Carrier.Token != "ct-456" || cfg.Cache.RedisPassword != "rp-789" {
		t.Errorf("secrets not resolved: %+v %+v %+v", cfg.Marketplace, cfg.Carrier, cfg.Cache)
	}
	if cfg.Carrier.ShopID != "885" || cfg.Carrier.HeavyServiceTypeID != 7 {
		t.Errorf("unexpected carrier config: %+v", cfg.Carrier)
	}
	if cfg.Checkout.MinOrderBasis != "post_platform" || cfg.Checkout.ReconcileTolerance != 0 {
		t.Errorf("unexpected checkout config: %+v", cfg.Checkout)
	}
	if cfg.Checkout.SessionDebounce != 150*time.Millisecond {
		t.Errorf("unexpected debounce: %s", cfg.Checkout.SessionDebounce)
	}
	if cfg.Cache.RedisAddr != "localhost:6379" || cfg.Cache.RedisDB != 2 {
		t.Errorf("unexpected cache config: %+v", cfg.Cache)
	}
	if cfg.PubSub.ProjectID != "shop-events" || cfg.PubSub.OrdersTopic != "orders-v2" {
		t.Errorf("unexpected pubsub config: %+v", cfg.PubSub)
	}
	if cfg.Idempotency.Backend != "firestore" || cfg.Idempotency.TTL != 6*time.Hour {
		t.Errorf("unexpected idempotency config: %+v", cfg.Idempotency)
	}
	if len(requested) != 3 {
		t.Errorf("expected 3 secret lookups, got %v", requested)
	}
}

func TestLoadSecretFailure(t *testing.T) {
	env := minimalEnv()
	env["CARRIER_TOKEN"] = "secret://carrier-token"
	boom := errors.New("boom")

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithSecretResolver(SecretResolverFunc(func(context.Context, string) (string, error) {
			return "", boom
		})))

	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if secretErr.Field != "Carrier.Token" || !errors.Is(err, boom) {
		t.Fatalf("unexpected secret error: %+v", secretErr)
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := minimalEnv()
	env["MARKETPLACE_API_KEY"] = "secret://marketplace-key"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected unresolved secret error, got %v", err)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"CARRIER_BASE_URL":         "not a url",
		"CHECKOUT_MIN_ORDER_BASIS": "after_everything",
		"IDEMPOTENCY_BACKEND":      "redis",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	want := []string{
		"Firestore.ProjectID",
		"Marketplace.BaseURL",
		"Carrier.BaseURL",
		"Carrier.Token",
		"Checkout.MinOrderBasis",
		"Idempotency.Backend",
	}
	if !reflect.DeepEqual(validationErr.Fields(), want) {
		t.Fatalf("unexpected invalid fields: %v", validationErr.Fields())
	}
}

func TestLoadFromDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\n" +
		"export API_FIRESTORE_PROJECT_ID=from-file\n" +
		"MARKETPLACE_BASE_URL=\"https://market.local\"\n" +
		"CARRIER_BASE_URL='https://carrier.local'\n" +
		"CARRIER_TOKEN=file-token\n" +
		"API_SERVER_PORT=7000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{
		"API_SERVER_PORT": "7100",
	}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firestore.ProjectID != "from-file" || cfg.Marketplace.BaseURL != "https://market.local" {
		t.Fatalf("expected values from .env, got %+v %+v", cfg.Firestore, cfg.Marketplace)
	}
	if cfg.Server.Port != "7100" {
		t.Fatalf("expected explicit map to win over .env, got %s", cfg.Server.Port)
	}
}

func TestLookupUsesSamePrecedence(t *testing.T) {
	value, err := Lookup("SECRETS_PROJECT_ID", WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(map[string]string{
		"SECRETS_PROJECT_ID": " shop-secrets ",
	}))
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if value != "shop-secrets" {
		t.Fatalf("expected trimmed value, got %q", value)
	}
}
