package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	domain "github.com/marketcart/checkout-api/internal/domain"
	"github.com/marketcart/checkout-api/internal/platform/httpx"
	"github.com/marketcart/checkout-api/internal/repositories"
)

// BuildInfo identifies the running binary in health responses.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build  BuildInfo
	probes repositories.HealthRepository
	now    func() time.Time
}

type HealthOption func(*HealthHandlers)

func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

func WithHealthRepository(repo repositories.HealthRepository) HealthOption {
	return func(h *HealthHandlers) {
		h.probes = repo
	}
}

func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.now = clock
		}
	}
}

func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.now()
	}
	if h.build.Version == "" {
		h.build.Version = "dev"
	}
	return h
}

type healthzResponse struct {
	Status      domain.HealthStatus `json:"status"`
	Version     string              `json:"version"`
	CommitSHA   string              `json:"commitSha,omitempty"`
	Environment string              `json:"environment,omitempty"`
	Uptime      string              `json:"uptime"`
	Timestamp   string              `json:"timestamp"`
}

type readyzResponse struct {
	Status      domain.HealthStatus          `json:"status"`
	Version     string                       `json:"version"`
	GeneratedAt string                       `json:"generatedAt"`
	Checks      map[string]readyzCheckResult `json:"checks"`
	Details     []string                     `json:"details,omitempty"`
}

type readyzCheckResult struct {
	Status    domain.HealthStatus `json:"status"`
	Detail    string              `json:"detail,omitempty"`
	LatencyMS float64             `json:"latencyMs"`
	CheckedAt string              `json:"checkedAt"`
}

// Healthz reports liveness. It never touches dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.now().UTC()
	httpx.WriteJSON(w, http.StatusOK, healthzResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   now.Format(time.RFC3339),
	})
}

// Readyz probes dependencies and returns 503 unless every probe is ok.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report := domain.HealthReport{Status: domain.HealthStatusOK, GeneratedAt: h.now()}
	if h.probes != nil {
		collected, err := h.probes.Collect(ctx)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("health_unavailable", "unable to collect health checks", http.StatusServiceUnavailable))
			return
		}
		report = collected
	}

	resp := readyzResponse{
		Status:      report.Status,
		Version:     h.build.Version,
		GeneratedAt: report.GeneratedAt.UTC().Format(time.RFC3339),
		Checks:      make(map[string]readyzCheckResult, len(report.Checks)),
	}
	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		resp.Checks[name] = readyzCheckResult{
			Status:    check.Status,
			Detail:    check.Detail,
			LatencyMS: float64(check.Latency) / float64(time.Millisecond),
			CheckedAt: check.CheckedAt.UTC().Format(time.RFC3339),
		}
		if check.Status != domain.HealthStatusOK {
			resp.Details = append(resp.Details, fmt.Sprintf("%s: %s", name, check.Detail))
		}
	}

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, resp)
}
