package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/walue/internal/clock"
	"github.com/smallbiznis/walue/internal/config"
	invoicedomain "github.com/smallbiznis/walue/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/walue/internal/observability/metrics"
	"github.com/smallbiznis/walue/internal/ratelimit"
	signupdomain "github.com/smallbiznis/walue/internal/signup/domain"
	tenantdomain "github.com/smallbiznis/walue/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/walue/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobAggregateUsage   = "aggregate_usage_metrics"
	JobCleanupOldData   = "cleanup_old_data"
	JobMonthlyInvoices  = "generate_monthly_invoices"
	lockKeyPrefix       = "walue:scheduler:"
	invoiceResourceName = "invoices"
)

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	ErrUnknownJob    = errors.New("unknown_job")
	ErrBusy          = errors.New("scheduler_busy")
)

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Settings *config.SettingsHolder
	Tenants  tenantdomain.Service
	Usage    usagedomain.Service
	Invoices invoicedomain.Service
	Signup   signupdomain.Service
	Locker   *ratelimit.Locker `optional:"true"`
	Config   Config            `optional:"true"`
}

// job is due once per period key; hourly jobs use the hour, monthly jobs
// the month.
type job struct {
	name   string
	period func(time.Time) string
	ttl    time.Duration
	run    func(context.Context) error
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	settings *config.SettingsHolder
	tenants  tenantdomain.Service
	usage    usagedomain.Service
	invoices invoicedomain.Service
	signup   signupdomain.Service
	locker   *ratelimit.Locker

	jobs    []job
	running atomic.Bool

	mu      sync.Mutex
	lastRun map[string]string
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Settings == nil ||
		p.Tenants == nil || p.Usage == nil || p.Invoices == nil || p.Signup == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		settings: p.Settings,
		tenants:  p.Tenants,
		usage:    p.Usage,
		invoices: p.Invoices,
		signup:   p.Signup,
		locker:   p.Locker,
		lastRun:  map[string]string{},
	}
	s.jobs = []job{
		{name: JobAggregateUsage, period: hourKey, ttl: time.Hour, run: s.AggregateUsageJob},
		{name: JobCleanupOldData, period: dayKey, ttl: 24 * time.Hour, run: s.CleanupOldDataJob},
		{name: JobMonthlyInvoices, period: usagedomain.MonthOf, ttl: 24 * time.Hour, run: s.GenerateMonthlyInvoicesJob},
	}
	return s, nil
}

func hourKey(t time.Time) string { return t.UTC().Format("2006-01-02T15") }
func dayKey(t time.Time) string  { return t.UTC().Format("2006-01-02") }

// JobNames lists the jobs this scheduler knows about.
func (s *Scheduler) JobNames() []string {
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.name)
	}
	return names
}

// RunOnce runs every enabled job whose period has not run yet. Overlapping
// calls return immediately.
func (s *Scheduler) RunOnce(parent context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		for _, j := range s.jobs {
			obsmetrics.Scheduler().IncBatchDeferred(j.name, obsmetrics.SchedulerDeferredReasonBusy)
		}
		return nil
	}
	defer s.running.Store(false)

	var err error
	now := s.clock.Now()
	for _, j := range s.jobs {
		if !s.isJobEnabled(j.name) {
			continue
		}
		key := j.period(now)
		if s.ranFor(j.name, key) {
			continue
		}
		err = errors.Join(err, s.runDue(parent, j, key))
	}
	return err
}

// RunJob runs name immediately regardless of its period.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	idx := slices.IndexFunc(s.jobs, func(j job) bool { return j.name == name })
	if idx < 0 {
		return ErrUnknownJob
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.running.Store(false)
	return s.runJob(ctx, name, s.jobs[idx].run)
}

func (s *Scheduler) runDue(ctx context.Context, j job, key string) error {
	lease, err := s.locker.Acquire(ctx, lockKeyPrefix+j.name+":"+key, j.ttl)
	switch {
	case errors.Is(err, ratelimit.ErrNotConfigured):
		// single replica
	case errors.Is(err, ratelimit.ErrLockHeld):
		obsmetrics.Scheduler().IncBatchDeferred(j.name, obsmetrics.SchedulerDeferredReasonLockHeld)
		s.markRan(j.name, key)
		return nil
	case err != nil:
		return fmt.Errorf("%s: acquire lock: %w", j.name, err)
	}

	if err := s.runJob(ctx, j.name, j.run); err != nil {
		// let the next tick retry this period
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.log.Warn("release job lock", zap.String("job", j.name), zap.Error(relErr))
		}
		return err
	}
	s.markRan(j.name, key)
	return nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	schedMetrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) {
		schedMetrics.IncJobTimeout(name)
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if lag := time.Since(nextRun); lag > 0 {
			schedMetrics.ObserveRunLoopLag(lag)
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)
	}
}

func (s *Scheduler) isJobEnabled(name string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}

func (s *Scheduler) ranFor(name, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun[name] == key
}

func (s *Scheduler) markRan(name, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[name] = key
}
