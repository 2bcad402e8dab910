package monitoring

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/otpauth/internal/database"
)

// Pinger is implemented by caches that can report their reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CleanupReporter exposes the outcome of the most recent maintenance pass.
type CleanupReporter interface {
	LastRun() (at time.Time, err error)
}

// DatabaseCheck pings the credential store. The service cannot work without it.
func DatabaseCheck(db *gorm.DB) Check {
	return NewCheck("database", func(ctx context.Context) ProbeResult {
		return ResultFromError(database.Ping(ctx, db))
	})
}

// CacheCheck probes Redis when it is in use. The SQL cache table shares the
// database probe, so a nil pinger reports up.
func CacheCheck(pinger Pinger) Check {
	return NewCheck("cache", func(ctx context.Context) ProbeResult {
		if pinger == nil {
			return ProbeResult{Status: StatusUp, Details: "database backed"}
		}
		result := ResultFromError(pinger.Ping(ctx))
		if result.Status == StatusDown {
			// Redis outages slow lookups but never block sign in.
			result.Status = StatusDegraded
		}
		return result
	})
}

// CleanupCheck reports degraded when the last cleanup pass failed or is older
// than maxAge.
func CleanupCheck(reporter CleanupReporter, maxAge time.Duration, now func() time.Time) Check {
	if now == nil {
		now = time.Now
	}
	return NewCheck("cleanup", func(context.Context) ProbeResult {
		if reporter == nil {
			return ProbeResult{Status: StatusUp, Details: "not scheduled"}
		}
		at, err := reporter.LastRun()
		switch {
		case at.IsZero():
			return ProbeResult{Status: StatusUp, Details: "pending first run"}
		case err != nil:
			return ProbeResult{Status: StatusDegraded, Details: err.Error()}
		case maxAge > 0 && now().Sub(at) > maxAge:
			return ProbeResult{Status: StatusDegraded, Details: fmt.Sprintf("last run %s", at.UTC().Format(time.RFC3339))}
		}
		return ProbeResult{Status: StatusUp}
	})
}
