package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/marketcart/checkout-api/internal/carrier"
	"github.com/marketcart/checkout-api/internal/handlers"
	"github.com/marketcart/checkout-api/internal/marketplace"
	"github.com/marketcart/checkout-api/internal/platform/cache"
	"github.com/marketcart/checkout-api/internal/platform/config"
	pfirestore "github.com/marketcart/checkout-api/internal/platform/firestore"
	"github.com/marketcart/checkout-api/internal/platform/idempotency"
	"github.com/marketcart/checkout-api/internal/platform/jobs"
	"github.com/marketcart/checkout-api/internal/platform/observability"
	"github.com/marketcart/checkout-api/internal/platform/secrets"
	"github.com/marketcart/checkout-api/internal/repositories"
	firestoreRepo "github.com/marketcart/checkout-api/internal/repositories/firestore"
	"github.com/marketcart/checkout-api/internal/services"
)

const (
	meterName             = "github.com/marketcart/checkout-api"
	secretHealthReference = "secret://system/healthz?version=latest"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Checkout services.CheckoutService
	Sessions *services.CheckoutSessions
}

// Container wires clients, repositories, services and the HTTP router for runtime use.
type Container struct {
	Config      config.Config
	Services    Services
	Health      repositories.HealthRepository
	Idempotency idempotency.Store
	Router      http.Handler

	logger  *zap.Logger
	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

type containerOptions struct {
	build    handlers.BuildInfo
	secrets  *secrets.Resolver
	provider *pfirestore.Provider
	clock    func() time.Time
}

// Option customises container construction.
type Option func(*containerOptions)

// WithBuildInfo sets the version details reported by /healthz.
func WithBuildInfo(info handlers.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = info
	}
}

// WithSecretResolver registers the resolver used at startup so readiness can probe Secret Manager.
func WithSecretResolver(resolver *secrets.Resolver) Option {
	return func(o *containerOptions) {
		o.secrets = resolver
	}
}

// WithFirestoreProvider overrides the provider built from configuration.
func WithFirestoreProvider(provider *pfirestore.Provider) Option {
	return func(o *containerOptions) {
		o.provider = provider
	}
}

// WithClock overrides the clock shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies. Resources acquired before a failure are
// released before the error is returned.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (container *Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	c := &Container{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
		}
	}()

	provider := options.provider
	if provider == nil {
		provider = pfirestore.NewProvider(cfg.Firestore)
		c.addCloser("firestore", provider.Close)
	}
	products, err := firestoreRepo.NewProductMetadataRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build product metadata repository: %w", err)
	}

	market, err := marketplace.NewClient(marketplace.Config{
		BaseURL: cfg.Marketplace.BaseURL,
		APIKey:  cfg.Marketplace.APIKey,
		Timeout: cfg.Marketplace.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build marketplace client: %w", err)
	}
	carrierLog := observability.EventLogger(logger, "carrier")
	carrierClient, err := carrier.NewClient(carrier.Config{
		BaseURL:         cfg.Carrier.BaseURL,
		Token:           cfg.Carrier.Token,
		ShopID:          cfg.Carrier.ShopID,
		Timeout:         cfg.Carrier.Timeout,
		BreakerFailures: uint32(cfg.Carrier.BreakerFailures),
		BreakerCooldown: cfg.Carrier.BreakerCooldown,
		OnBreakerChange: func(from, to gobreaker.State) {
			carrierLog(context.Background(), "carrier.breaker", map[string]any{"from": from.String(), "to": to.String()})
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build carrier client: %w", err)
	}

	checks := []repositories.DependencyCheck{firestoreCheck(provider)}

	quoteCache, cacheCheck, err := c.buildQuoteCache(cfg, options.clock)
	if err != nil {
		return nil, err
	}
	if cacheCheck != nil {
		checks = append(checks, *cacheCheck)
	}

	events, err := c.buildOrderPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := buildServices(cfg, logger, options.clock, serviceDeps{
		products: products,
		market:   market,
		carrier:  carrierClient,
		cache:    quoteCache,
		events:   events,
	})
	if err != nil {
		return nil, err
	}
	c.Services = svc
	c.addCloser("sessions", func() error {
		svc.Sessions.Close()
		return nil
	})

	store, err := buildIdempotencyStore(cfg, provider)
	if err != nil {
		return nil, err
	}
	c.Idempotency = store

	if options.secrets != nil {
		checks = append(checks, secretManagerCheck(options.secrets))
	}
	health, err := repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(options.clock))
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}
	c.Health = health

	c.Router = c.buildRouter(cfg, options)
	return c, nil
}

// Close releases clients and background workers in reverse acquisition order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.closers[i].name, ctx.Err()))
			continue
		}
		if err := c.closers[i].fn(); err != nil {
			c.logger.Warn("close error", zap.String("resource", c.closers[i].name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.closers[i].name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) addCloser(name string, fn func() error) {
	c.closers = append(c.closers, closer{name: name, fn: fn})
}

func (c *Container) buildQuoteCache(cfg config.Config, clock func() time.Time) (services.ShippingQuoteCache, *repositories.DependencyCheck, error) {
	if strings.TrimSpace(cfg.Cache.RedisAddr) == "" {
		return services.NewMemoryQuoteCache(cfg.Cache.QuoteTTL, clock), nil, nil
	}
	client, err := cache.NewRedisClient(cfg.Cache)
	if err != nil {
		return nil, nil, fmt.Errorf("build redis client: %w", err)
	}
	c.addCloser("redis", client.Close)

	quotes, err := cache.NewRedisQuoteCache(client,
		cache.WithQuoteTTL(cfg.Cache.QuoteTTL),
		cache.WithLogger(observability.EventLogger(c.logger, "cache")),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("build redis quote cache: %w", err)
	}
	check := redisCheck(client)
	return quotes, &check, nil
}

func (c *Container) buildOrderPublisher(ctx context.Context, cfg config.Config) (services.OrderEventPublisher, error) {
	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	if projectID == "" {
		c.logger.Info("pubsub project not configured; order events disabled")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("build pubsub client: %w", err)
	}
	c.addCloser("pubsub", client.Close)

	topic := client.Topic(cfg.PubSub.OrdersTopic)
	c.addCloser("pubsub topic", func() error {
		topic.Stop()
		return nil
	})
	publisher, err := jobs.NewPubSubOrderPublisher(topic)
	if err != nil {
		return nil, fmt.Errorf("build order publisher: %w", err)
	}
	return publisher, nil
}

type serviceDeps struct {
	products services.ProductMetadataLookup
	market   *marketplace.Client
	carrier  *carrier.Client
	cache    services.ShippingQuoteCache
	events   services.OrderEventPublisher
}

func buildServices(cfg config.Config, logger *zap.Logger, clock func() time.Time, deps serviceDeps) (Services, error) {
	meter := otel.GetMeterProvider().Meter(meterName)

	vouchers, err := services.NewVoucherCatalogResolver(services.VoucherCatalogResolverDeps{
		Catalog:      deps.market,
		CacheTTL:     cfg.Cache.VoucherTTL,
		CacheEntries: cfg.Cache.VoucherEntries,
		Now:          clock,
		Logger:       observability.EventLogger(logger, "vouchers"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build voucher resolver: %w", err)
	}

	basis, err := services.ParseMinOrderBasis(cfg.Checkout.MinOrderBasis)
	if err != nil {
		return Services{}, err
	}
	discounts, err := services.NewDiscountEngine(services.DiscountEngineDeps{
		MinOrderBasis: basis,
		Now:           clock,
		Logger:        observability.EventLogger(logger, "discounts"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build discount engine: %w", err)
	}

	shipping, err := services.NewShippingEstimator(services.ShippingEstimatorDeps{
		Carrier:            deps.carrier,
		Addresses:          deps.market,
		Cache:              deps.cache,
		CacheTTL:           cfg.Cache.QuoteTTL,
		LightServiceTypeID: cfg.Carrier.LightServiceTypeID,
		HeavyServiceTypeID: cfg.Carrier.HeavyServiceTypeID,
		Meter:              meter,
		Now:                clock,
		Logger:             observability.EventLogger(logger, "shipping"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build shipping estimator: %w", err)
	}

	checkoutLogger := observability.EventLogger(logger, "checkout")
	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Products:  deps.products,
		Vouchers:  vouchers,
		Discounts: discounts,
		Shipping:  shipping,
		Compiler: services.NewPricingCompiler(services.PricingCompilerDeps{
			ReconcileTolerance: cfg.Checkout.ReconcileTolerance,
			Logger:             checkoutLogger,
		}),
		Backend: deps.market,
		Events:  deps.events,
		Clock:   clock,
		Logger:  checkoutLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}

	sessions, err := services.NewCheckoutSessions(services.CheckoutSessionsDeps{
		Checkout: checkout,
		Debounce: cfg.Checkout.SessionDebounce,
		Throttle: cfg.Checkout.SessionThrottle,
		IdleTTL:  cfg.Checkout.SessionIdleTTL,
		Clock:    clock,
		Logger:   observability.EventLogger(logger, "sessions"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout sessions: %w", err)
	}

	return Services{Checkout: checkout, Sessions: sessions}, nil
}

func buildIdempotencyStore(cfg config.Config, provider *pfirestore.Provider) (idempotency.Store, error) {
	switch cfg.Idempotency.Backend {
	case "firestore":
		store, err := idempotency.NewFirestoreStore(provider)
		if err != nil {
			return nil, fmt.Errorf("build idempotency store: %w", err)
		}
		return store, nil
	default:
		return idempotency.NewMemoryStore(), nil
	}
}

func (c *Container) buildRouter(cfg config.Config, options containerOptions) http.Handler {
	httpLogger := c.logger.Named("http")
	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)

	submitMiddlewares := []func(http.Handler) http.Handler{
		handlers.SubmitRateLimit(cfg.Checkout.SubmitRateLimit, cfg.Checkout.SubmitRateWindow, options.clock),
		idempotency.Middleware(c.Idempotency,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
			idempotency.WithLogger(observability.EventLogger(c.logger, "idempotency")),
			idempotency.WithClock(options.clock),
		),
	}
	checkoutHandlers := handlers.NewCheckoutHandlers(c.Services.Checkout,
		handlers.WithCheckoutSessions(c.Services.Sessions),
		handlers.WithSubmitMiddlewares(submitMiddlewares...),
		handlers.WithIdempotencyHeader(cfg.Idempotency.Header),
	)

	build := options.build
	if build.Environment == "" {
		build.Environment = cfg.Environment
	}
	if build.StartedAt.IsZero() {
		build.StartedAt = options.clock().UTC()
	}
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthRepository(c.Health),
		handlers.WithHealthClock(options.clock),
	)

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.RecoveryMiddleware(httpLogger),
			observability.TraceMiddleware(projectID),
			observability.InjectLoggerMiddleware(httpLogger),
			observability.SessionMiddleware,
			observability.RequestLoggerMiddleware,
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
	)
}

func firestoreCheck(provider *pfirestore.Provider) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check: func(ctx context.Context) error {
			client, err := provider.Client(ctx)
			if err != nil {
				return err
			}
			_, err = client.Collections(ctx).Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		},
	}
}

func redisCheck(client *redis.Client) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "redis",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

func secretManagerCheck(resolver *secrets.Resolver) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := resolver.Resolve(ctx, secretHealthReference)
			if err == nil || errors.Is(err, secrets.ErrNotFound) || status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		},
	}
}
