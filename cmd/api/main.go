package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/marketcart/checkout-api/internal/di"
	"github.com/marketcart/checkout-api/internal/handlers"
	"github.com/marketcart/checkout-api/internal/platform/config"
	"github.com/marketcart/checkout-api/internal/platform/observability"
	"github.com/marketcart/checkout-api/internal/platform/secrets"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	level, _ := config.Lookup("LOG_LEVEL")
	baseLogger, err := observability.NewLogger(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("checkout")
	ctx = observability.WithLogger(ctx, logger)

	resolver, err := newSecretResolver(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(resolver.Resolve)))
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, logger,
		di.WithBuildInfo(buildInfoFromEnv(cfg, startedAt)),
		di.WithSecretResolver(resolver),
	)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      container.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("checkout api listening", zap.String("environment", cfg.Environment))
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
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
}

func newSecretResolver(ctx context.Context, logger *zap.Logger) (*secrets.Resolver, error) {
	project := lookupFirst("SECRETS_PROJECT_ID", "API_FIRESTORE_PROJECT_ID")
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithMeter(otel.GetMeterProvider().Meter("github.com/marketcart/checkout-api/secrets")),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if path := lookupFirst("SECRETS_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if raw := lookupFirst("SECRETS_CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse SECRETS_CACHE_TTL: %w", err)
		}
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	return secrets.NewResolver(ctx, opts...)
}

func lookupFirst(keys ...string) string {
	for _, key := range keys {
		value, err := config.Lookup(key)
		if err == nil && value != "" {
			return value
		}
	}
	return ""
}

func buildInfoFromEnv(cfg config.Config, started time.Time) handlers.BuildInfo {
	version := lookupFirst("API_BUILD_VERSION")
	if version == "" {
		version = "dev"
	}
	commit := lookupFirst("API_BUILD_COMMIT_SHA")
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Environment)
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
