package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/bookings/internal/domain"
)

const defaultPingTimeout = 1500 * time.Millisecond

// Dependency pings one backing service (ledger store, Redis, Pub/Sub) for readiness.
type Dependency struct {
	Name    string
	Timeout time.Duration
	Ping    func(context.Context) error
}

// ReadinessChecker pings every dependency concurrently and folds the results into a report.
type ReadinessChecker struct {
	deps    []Dependency
	timeout time.Duration
	now     func() time.Time
}

// ReadinessOption customises a ReadinessChecker.
type ReadinessOption func(*ReadinessChecker)

// WithPingTimeout sets the timeout used by dependencies that do not declare one.
func WithPingTimeout(timeout time.Duration) ReadinessOption {
	return func(c *ReadinessChecker) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithReadinessClock injects the clock stamped on results.
func WithReadinessClock(clock func() time.Time) ReadinessOption {
	return func(c *ReadinessChecker) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewReadinessChecker validates the dependency set.
func NewReadinessChecker(deps []Dependency, opts ...ReadinessOption) (*ReadinessChecker, error) {
	if len(deps) == 0 {
		return nil, errors.New("readiness: at least one dependency is required")
	}
	for _, p := range deps {
		if strings.TrimSpace(p.Name) == "" {
			return nil, errors.New("readiness: dependency name is required")
		}
		if p.Ping == nil {
			return nil, fmt.Errorf("readiness: dependency %s has no ping function", p.Name)
		}
	}
	c := &ReadinessChecker{
		deps:    append([]Dependency(nil), deps...),
		timeout: defaultPingTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Check pings every dependency. A timed out or cancelled ping marks the report
// as error; any other failure degrades it.
func (c *ReadinessChecker) Check(ctx context.Context) domain.ReadinessReport {
	results := make(map[string]domain.DependencyHealth, len(c.deps))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, dep := range c.deps {
		wg.Add(1)
		go func(dep Dependency) {
			defer wg.Done()
			timeout := dep.Timeout
			if timeout <= 0 {
				timeout = c.timeout
			}
			pingCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := c.now()
			err := dep.Ping(pingCtx)
			if err == nil && pingCtx.Err() != nil {
				err = pingCtx.Err()
			}
			end := c.now()

			result := domain.DependencyHealth{Status: domain.HealthStatusOK, Detail: "ok", Latency: end.Sub(start), CheckedAt: end}
			switch {
			case err == nil:
			case errors.Is(err, context.DeadlineExceeded):
				result.Status, result.Detail = domain.HealthStatusError, "timeout"
			case errors.Is(err, context.Canceled):
				result.Status, result.Detail = domain.HealthStatusError, "cancelled"
			default:
				result.Status, result.Detail = domain.HealthStatusDegraded, err.Error()
			}

			mu.Lock()
			results[dep.Name] = result
			mu.Unlock()
		}(dep)
	}
	wg.Wait()

	status := domain.HealthStatusOK
	for _, result := range results {
		if result.Status == domain.HealthStatusError {
			status = domain.HealthStatusError
			break
		}
		if result.Status == domain.HealthStatusDegraded {
			status = domain.HealthStatusDegraded
		}
	}
	return domain.ReadinessReport{Status: status, Dependencies: results, GeneratedAt: c.now()}
}
