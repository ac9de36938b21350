package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	domain "github.com/hanko-field/bookings/internal/domain"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// ReadinessChecker pings backing services. repositories.ReadinessChecker satisfies it.
type ReadinessChecker interface {
	Check(ctx context.Context) domain.ReadinessReport
}

// HealthHandlers serves /healthz and /readyz.
type HealthHandlers struct {
	build     BuildInfo
	readiness ReadinessChecker
	now       func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the version metadata reported by both endpoints.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthReadiness wires the dependency checker used by /readyz.
func WithHealthReadiness(checker ReadinessChecker) HealthOption {
	return func(h *HealthHandlers) {
		h.readiness = checker
	}
}

// WithHealthClock overrides the clock, mainly for tests.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHealthHandlers builds health handlers. Without a readiness checker /readyz
// reports ok as soon as the process serves traffic.
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
	return h
}

type healthResponse struct {
	Status      domain.HealthStatus       `json:"status"`
	Version     string                    `json:"version,omitempty"`
	CommitSHA   string                    `json:"commitSha,omitempty"`
	Environment string                    `json:"environment,omitempty"`
	Uptime      string                    `json:"uptime"`
	Timestamp   string                    `json:"timestamp"`
	Checks      map[string]dependencyJSON `json:"checks,omitempty"`
	Details     []string                  `json:"details,omitempty"`
}

type dependencyJSON struct {
	Status    domain.HealthStatus `json:"status"`
	Detail    string              `json:"detail,omitempty"`
	LatencyMS int64               `json:"latencyMs"`
	CheckedAt string              `json:"checkedAt"`
}

// Healthz reports liveness only.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.base(domain.HealthStatusOK))
}

// Readyz pings dependencies and returns 503 unless every one is ok.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.readiness == nil {
		writeJSONResponse(w, http.StatusOK, h.base(domain.HealthStatusOK))
		return
	}

	report := h.readiness.Check(r.Context())
	resp := h.base(report.Status)
	resp.Checks = make(map[string]dependencyJSON, len(report.Dependencies))

	names := make([]string, 0, len(report.Dependencies))
	for name := range report.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dep := report.Dependencies[name]
		resp.Checks[name] = dependencyJSON{
			Status:    dep.Status,
			Detail:    dep.Detail,
			LatencyMS: dep.Latency.Milliseconds(),
			CheckedAt: dep.CheckedAt.UTC().Format(time.RFC3339),
		}
		if dep.Status != domain.HealthStatusOK {
			resp.Details = append(resp.Details, name+": "+dep.Detail)
		}
	}

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, resp)
}

func (h *HealthHandlers) base(status domain.HealthStatus) healthResponse {
	now := h.now()
	return healthResponse{
		Status:      status,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Truncate(time.Second).String(),
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
}
