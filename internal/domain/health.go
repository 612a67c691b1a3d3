package domain

import "time"

// HealthStatus is the outcome of a readiness probe.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// DependencyHealth is the result of probing one downstream dependency.
type DependencyHealth struct {
	Status    HealthStatus
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency probes. The overall status is the worst individual status.
type HealthReport struct {
	Status      HealthStatus
	Checks      map[string]DependencyHealth
	GeneratedAt time.Time
}
