package monitoring

import (
	"context"
	"errors"
	"time"
)

// ProbeStatus encodes the outcome of a health probe.
type ProbeStatus string

const (
	StatusUp       ProbeStatus = "up"
	StatusDown     ProbeStatus = "down"
	StatusDegraded ProbeStatus = "degraded"
)

// ProbeResult captures a single dependency check outcome.
type ProbeResult struct {
	Component string        `json:"component"`
	Status    ProbeStatus   `json:"status"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// HealthReport aggregates probe results. Success is false as soon as one
// probe is not up.
type HealthReport struct {
	Success bool          `json:"success"`
	Status  ProbeStatus   `json:"status"`
	Checks  []ProbeResult `json:"checks"`
}

// Check is a named dependency probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) ProbeResult
}

// NewCheck constructs a health check with the provided name and function.
func NewCheck(name string, fn func(ctx context.Context) ProbeResult) Check {
	if fn == nil {
		fn = func(context.Context) ProbeResult {
			return ProbeResult{Status: StatusDown, Details: "probe not implemented"}
		}
	}
	return Check{Name: name, Run: fn}
}

// HealthManager runs liveness and readiness probes.
type HealthManager struct {
	timeout         time.Duration
	livenessChecks  []Check
	readinessChecks []Check
}

// NewHealthManager constructs an empty manager. Each probe is bounded by
// timeout, two seconds when zero.
func NewHealthManager(timeout time.Duration) *HealthManager {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthManager{timeout: timeout}
}

// RegisterLiveness appends a liveness probe.
func (m *HealthManager) RegisterLiveness(check Check) {
	if check.Name != "" {
		m.livenessChecks = append(m.livenessChecks, check)
	}
}

// RegisterReadiness appends a readiness probe.
func (m *HealthManager) RegisterReadiness(check Check) {
	if check.Name != "" {
		m.readinessChecks = append(m.readinessChecks, check)
	}
}

// EvaluateLiveness executes all configured liveness checks.
func (m *HealthManager) EvaluateLiveness(ctx context.Context) HealthReport {
	return m.evaluate(ctx, m.livenessChecks)
}

// EvaluateReadiness executes all configured readiness checks.
func (m *HealthManager) EvaluateReadiness(ctx context.Context) HealthReport {
	return m.evaluate(ctx, m.readinessChecks)
}

func (m *HealthManager) evaluate(ctx context.Context, checks []Check) HealthReport {
	if ctx == nil {
		ctx = context.Background()
	}
	report := HealthReport{
		Success: true,
		Status:  StatusUp,
		Checks:  make([]ProbeResult, 0, len(checks)),
	}

	for _, check := range checks {
		result := m.run(ctx, check)
		report.Checks = append(report.Checks, result)

		switch result.Status {
		case StatusDown:
			report.Success = false
			report.Status = StatusDown
		case StatusDegraded:
			report.Success = false
			if report.Status != StatusDown {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

func (m *HealthManager) run(ctx context.Context, check Check) (result ProbeResult) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			result = ProbeResult{Status: StatusDown, Details: "panic recovered"}
		}
		if result.Status == "" {
			result.Status = StatusDown
		}
		result.Component = check.Name
		result.Duration = time.Since(start)
	}()

	return check.Run(ctx)
}

// ResultFromError converts an error into a ProbeResult. Timeouts degrade
// rather than fail the component.
func ResultFromError(err error) ProbeResult {
	if err == nil {
		return ProbeResult{Status: StatusUp}
	}

	status := StatusDown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status = StatusDegraded
	}
	return ProbeResult{Status: status, Details: err.Error()}
}
