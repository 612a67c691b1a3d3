package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marketcart/checkout-api/internal/platform/httpx"
)

const (
	apiPrefix         = "/api/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// RouteRegistrar mounts a group of routes.
type RouteRegistrar func(r chi.Router)

type routerConfig struct {
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	checkout    RouteRegistrar
}

type Option func(*routerConfig)

// WithMiddlewares appends global middleware, applied in order after the request id.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		for _, m := range mw {
			if m != nil {
				cfg.middlewares = append(cfg.middlewares, m)
			}
		}
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

func WithCheckoutRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.checkout = reg
	}
}

// WithRequestTimeout bounds checkout handlers. Zero disables the timeout.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(cfg *routerConfig) {
		if timeout >= 0 {
			cfg.timeout = timeout
		}
	}
}

// NewRouter assembles the service: probes at the root, the checkout API under /api/v1. Every
// request gets a request id before the caller's middleware runs.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{timeout: defaultTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cfg.middlewares...)
	r.NotFound(routeNotFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Group(func(probes chi.Router) {
		probes.Use(middleware.NoCache)
		probes.Get("/healthz", cfg.health.Healthz)
		probes.Get("/readyz", cfg.health.Readyz)
	})

	r.Route(apiPrefix, func(api chi.Router) {
		if cfg.timeout > 0 {
			api.Use(middleware.Timeout(cfg.timeout))
		}
		if cfg.checkout == nil {
			api.HandleFunc("/*", checkoutNotImplemented)
			return
		}
		cfg.checkout(api)
	})
	return r
}

func routeNotFound(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", r.URL.Path), http.StatusNotFound))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("method_not_allowed",
		fmt.Sprintf("%s is not supported on %s", r.Method, r.URL.Path), http.StatusMethodNotAllowed))
}

func checkoutNotImplemented(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("not_implemented", "checkout routes are not configured", http.StatusNotImplemented))
}
