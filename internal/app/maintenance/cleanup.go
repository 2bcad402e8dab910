package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/otpauth/pkg/logger"
	"github.com/charlesng35/otpauth/pkg/metrics"
)

const (
	defaultSchedule = "@every 5m"
	defaultTimeout  = time.Minute
)

// Purger removes expired rows and reports how many were deleted.
// OTPService and SessionService satisfy it directly.
type Purger interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// PurgerFunc adapts a function to the Purger interface.
type PurgerFunc func(ctx context.Context) (int64, error)

// CleanupExpired calls f.
func (f PurgerFunc) CleanupExpired(ctx context.Context) (int64, error) {
	return f(ctx)
}

type task struct {
	table  string
	purger Purger
}

// Cleaner periodically removes expired codes, sessions and cache entries.
// Failures are logged and the next tick simply tries again.
type Cleaner struct {
	cron     *cron.Cron
	tasks    []task
	schedule string
	timeout  time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithSchedule overrides the cron expression shared by every cleanup task.
func WithSchedule(expr string) Option {
	return func(cleaner *Cleaner) {
		if expr != "" {
			cleaner.schedule = expr
		}
	}
}

// WithTimeout bounds a single cleanup pass.
func WithTimeout(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.timeout = d
		}
	}
}

// WithTask registers a purger whose removals are reported under table.
// Nil purgers are skipped.
func WithTask(table string, purger Purger) Option {
	return func(cleaner *Cleaner) {
		if purger != nil {
			cleaner.tasks = append(cleaner.tasks, task{table: table, purger: purger})
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		schedule: defaultSchedule,
		timeout:  defaultTimeout,
		log:      logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cronLogger{cleaner.log.Sugar()}))
	}

	return cleaner
}

// Start registers the cleanup job with the cron scheduler and launches it
// when at least one task is configured.
func (c *Cleaner) Start() error {
	if len(c.tasks) == 0 {
		return nil
	}

	if _, err := c.cron.AddJob(c.schedule, c.job()); err != nil {
		return fmt.Errorf("maintenance: schedule %q: %w", c.schedule, err)
	}

	c.cron.Start()
	c.log.Info("cleanup scheduled", zap.String("schedule", c.schedule), zap.Int("tasks", len(c.tasks)))
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every cleanup task sequentially. A failing task does not
// prevent the others from running; all errors are returned together.
func (c *Cleaner) RunOnce(ctx context.Context) (map[string]int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	removed := make(map[string]int64, len(c.tasks))
	var errs error

	for _, t := range c.tasks {
		n, err := runTask(ctx, t)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cleanup %s: %w", t.table, err))
			continue
		}
		removed[t.table] += n
		if n > 0 {
			metrics.CleanupRemoved.WithLabelValues(t.table).Add(float64(n))
		}
	}

	c.mu.Lock()
	c.lastRun = time.Now()
	c.lastErr = errs
	c.mu.Unlock()

	return removed, errs
}

// LastRun reports when RunOnce last completed and the errors it returned.
func (c *Cleaner) LastRun() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun, c.lastErr
}

// job wraps tick so a panic escaping it is logged instead of stopping the
// process. Injected cron instances get the same protection.
func (c *Cleaner) job() cron.Job {
	return cron.NewChain(cron.Recover(cronLogger{c.log.Sugar()})).Then(cron.FuncJob(c.tick))
}

func runTask(ctx context.Context, t task) (n int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.purger.CleanupExpired(ctx)
}

func (c *Cleaner) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	removed, err := c.RunOnce(ctx)
	for _, e := range multierr.Errors(err) {
		c.log.Warn("cleanup task failed", zap.Error(e))
	}

	fields := make([]zap.Field, 0, len(removed))
	for table, n := range removed {
		fields = append(fields, zap.Int64(table, n))
	}
	c.log.Debug("cleanup finished", fields...)
}

// cronLogger routes scheduler messages to zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
