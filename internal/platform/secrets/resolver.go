package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// Scheme prefixes configuration values that must be resolved through the secret store.
	Scheme = "secret://"

	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
	meterName           = "github.com/marketcart/checkout-api/internal/platform/secrets"
)

var (
	// ErrInvalidReference reports a value that is not a well formed secret:// reference.
	ErrInvalidReference = errors.New("secrets: invalid reference")
	// ErrNotFound reports a secret that neither the secret store nor the local fallback can supply.
	ErrNotFound = errors.New("secrets: secret not found")
)

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver turns secret:// references into plaintext values. Remote values are cached for a bounded
// period so rotated credentials are picked up without a restart.
type Resolver struct {
	client     accessClient
	ownsClient bool
	projectID  string
	logger     *zap.Logger
	ttl        time.Duration
	now        func() time.Time

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cachedSecret

	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

type resolverConfig struct {
	projectID    string
	logger       *zap.Logger
	ttl          time.Duration
	fallbackPath string
	client       accessClient
	clientOpts   []option.ClientOption
	meter        metric.Meter
	clock        func() time.Time
}

// Option customises Resolver construction.
type Option func(*resolverConfig)

// WithProject sets the project used for references without a ?project= override.
func WithProject(projectID string) Option {
	return func(cfg *resolverConfig) {
		cfg.projectID = strings.TrimSpace(projectID)
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(cfg *resolverConfig) {
		cfg.logger = logger
	}
}

// WithCacheTTL bounds how long a resolved value is reused. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *resolverConfig) {
		cfg.ttl = ttl
	}
}

// WithFallbackFile points at a KEY=VALUE file consulted when the secret store is unreachable.
func WithFallbackFile(path string) Option {
	return func(cfg *resolverConfig) {
		cfg.fallbackPath = strings.TrimSpace(path)
	}
}

func WithMeter(m metric.Meter) Option {
	return func(cfg *resolverConfig) {
		cfg.meter = m
	}
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *resolverConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

func withAccessClient(client accessClient) Option {
	return func(cfg *resolverConfig) {
		cfg.client = client
	}
}

func withClock(clock func() time.Time) Option {
	return func(cfg *resolverConfig) {
		cfg.clock = clock
	}
}

// NewResolver builds a Resolver. When no Secret Manager client can be created the resolver keeps
// working against the local fallback file only.
func NewResolver(ctx context.Context, opts ...Option) (*Resolver, error) {
	cfg := resolverConfig{
		logger:       zap.NewNop(),
		ttl:          defaultCacheTTL,
		fallbackPath: defaultFallbackPath,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}
	if cfg.ttl < 0 {
		return nil, fmt.Errorf("secrets: cache ttl must not be negative")
	}

	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	latency, err := meter.Float64Histogram("secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret resolution by source"),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: register latency histogram: %w", err)
	}
	hits, err := meter.Int64Counter("secrets.resolve.cache_hits",
		metric.WithDescription("Secret resolutions served from the in-process cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: register cache hit counter: %w", err)
	}

	r := &Resolver{
		client:       cfg.client,
		projectID:    cfg.projectID,
		logger:       cfg.logger,
		ttl:          cfg.ttl,
		now:          cfg.clock,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]cachedSecret),
		latency:      latency,
		cacheHits:    hits,
	}

	if r.client == nil && r.projectID != "" {
		client, err := newSecretManagerClient(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secrets: secret manager unavailable, using local fallback only", zap.Error(err))
		} else {
			r.client = client
			r.ownsClient = true
		}
	}
	return r, nil
}

// Close releases the Secret Manager client when the resolver created it.
func (r *Resolver) Close() error {
	if r == nil || !r.ownsClient || r.client == nil {
		return nil
	}
	return r.client.Close()
}

// IsReference reports whether value should be resolved rather than used literally.
func IsReference(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), Scheme)
}

// Resolve returns the plaintext for ref. Concurrent callers asking for the same reference share a
// single remote fetch.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseRef(ref)
	if err != nil {
		return "", err
	}

	if value, ok := r.cached(parsed.key()); ok {
		r.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", fingerprint(parsed.key()))))
		r.observe(ctx, start, "cache")
		return value, nil
	}

	v, err, _ := r.group.Do(parsed.key(), func() (any, error) {
		value, source, err := r.load(ctx, parsed)
		if err != nil {
			return "", err
		}
		r.store(parsed.key(), value)
		r.observe(ctx, start, source)
		return value, nil
	})
	if err != nil {
		r.observe(ctx, start, "error")
		return "", err
	}
	return v.(string), nil
}

// Invalidate forgets any cached value for ref so the next Resolve fetches it again.
func (r *Resolver) Invalidate(ref string) {
	parsed, err := parseRef(ref)
	if err != nil {
		return
	}
	r.mu.Lock()
	delete(r.cache, parsed.key())
	r.mu.Unlock()
}

func (r *Resolver) load(ctx context.Context, ref secretRef) (string, string, error) {
	project := ref.project
	if project == "" {
		project = r.projectID
	}

	if r.client != nil && project != "" {
		name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, ref.version)
		resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		switch {
		case err == nil:
			if resp.GetPayload() == nil {
				return "", "", fmt.Errorf("secrets: empty payload for %s", ref.name)
			}
			return string(resp.GetPayload().GetData()), "remote", nil
		case status.Code(err) == codes.NotFound:
			return "", "", fmt.Errorf("%w: %s", ErrNotFound, ref.name)
		case !fallbackEligible(err):
			return "", "", fmt.Errorf("secrets: access %s: %w", ref.name, err)
		default:
			r.logger.Debug("secrets: remote access failed, trying local fallback",
				zap.String("secret", ref.name), zap.Error(err))
		}
	}

	values := r.loadFallback()
	if value, ok := values[ref.key()]; ok {
		return value, "fallback", nil
	}
	if value, ok := values[ref.name]; ok {
		return value, "fallback", nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrNotFound, ref.name)
}

func (r *Resolver) cached(key string) (string, bool) {
	if r.ttl == 0 {
		return "", false
	}
	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if !ok || !r.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

func (r *Resolver) store(key, value string) {
	if r.ttl == 0 {
		return
	}
	r.mu.Lock()
	r.cache[key] = cachedSecret{value: value, expiresAt: r.now().Add(r.ttl)}
	r.mu.Unlock()
}

func (r *Resolver) observe(ctx context.Context, start time.Time, source string) {
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	r.latency.Record(ctx, elapsed, metric.WithAttributes(attribute.String("source", source)))
}

// loadFallback reads the fallback file once. Keys are either bare secret names or full references;
// both map onto the same lookup key.
func (r *Resolver) loadFallback() map[string]string {
	r.fallbackOnce.Do(func() {
		r.fallback = map[string]string{}
		if r.fallbackPath == "" {
			return
		}
		file, err := os.Open(r.fallbackPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("secrets: fallback file unreadable", zap.String("path", r.fallbackPath), zap.Error(err))
			}
			return
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)
			if parsed, err := parseRef(key); err == nil {
				r.fallback[parsed.key()] = value
				continue
			}
			if key != "" {
				r.fallback[key] = value
			}
		}
		if err := scanner.Err(); err != nil {
			r.logger.Warn("secrets: fallback file read failed", zap.String("path", r.fallbackPath), zap.Error(err))
		}
	})
	return r.fallback
}

type secretRef struct {
	name    string
	version string
	project string
}

func (s secretRef) key() string {
	project := s.project
	if project == "" {
		project = "-"
	}
	return project + "/" + s.name + "@" + s.version
}

func parseRef(ref string) (secretRef, error) {
	trimmed := strings.TrimSpace(ref)
	if !strings.HasPrefix(trimmed, Scheme) {
		return secretRef{}, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return secretRef{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("%w: missing secret name in %q", ErrInvalidReference, ref)
	}
	query := u.Query()
	version := strings.TrimSpace(query.Get("version"))
	if version == "" {
		version = "latest"
	}
	return secretRef{
		name:    name,
		version: version,
		project: strings.TrimSpace(query.Get("project")),
	}, nil
}

func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}
