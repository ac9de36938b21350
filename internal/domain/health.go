package domain

import "time"

// HealthStatus summarises dependency readiness.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// DependencyHealth is the outcome of pinging one backing service.
type DependencyHealth struct {
	Status    HealthStatus
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// ReadinessReport aggregates dependency pings for /readyz.
type ReadinessReport struct {
	Status       HealthStatus
	Dependencies map[string]DependencyHealth
	GeneratedAt  time.Time
}
