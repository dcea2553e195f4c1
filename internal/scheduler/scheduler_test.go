package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/walue/internal/clock"
	"github.com/smallbiznis/walue/internal/config"
	invoicedomain "github.com/smallbiznis/walue/internal/invoice/domain"
	"github.com/smallbiznis/walue/internal/invoice/render"
	invoicerepository "github.com/smallbiznis/walue/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/walue/internal/invoice/service"
	obsmetrics "github.com/smallbiznis/walue/internal/observability/metrics"
	"github.com/smallbiznis/walue/internal/providers/email"
	"github.com/smallbiznis/walue/internal/providers/pdf"
	signupdomain "github.com/smallbiznis/walue/internal/signup/domain"
	"github.com/smallbiznis/walue/internal/tenant/tenanttest"
	usagedomain "github.com/smallbiznis/walue/internal/usage/domain"
	usagerepository "github.com/smallbiznis/walue/internal/usage/repository"
	usageservice "github.com/smallbiznis/walue/internal/usage/service"
	"github.com/smallbiznis/walue/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopMailer struct{}

func (nopMailer) Send(context.Context, email.Message) error { return nil }

type fakePDF struct{}

func (fakePDF) GenerateInvoice(_ context.Context, data pdf.InvoiceData) ([]byte, error) {
	return []byte("%PDF-1.4 " + data.InvoiceNumber), nil
}

type fakeSignup struct {
	signupdomain.Service
	purges  atomic.Int32
	cutoffs []time.Time
}

func (f *fakeSignup) PurgeStale(_ context.Context, cutoff time.Time) (int64, error) {
	f.purges.Add(1)
	f.cutoffs = append(f.cutoffs, cutoff)
	return 2, nil
}

// flakyInvoices fails GenerateMonthly the first failures times.
type flakyInvoices struct {
	invoicedomain.Service
	failures int32
	calls    atomic.Int32
}

func (f *flakyInvoices) GenerateMonthly(_ context.Context, month string) (invoicedomain.GenerateResult, error) {
	if f.calls.Add(1) <= f.failures {
		return invoicedomain.GenerateResult{Month: month}, errors.New("tenant 42: insert invoice failed")
	}
	return invoicedomain.GenerateResult{Month: month}, nil
}

type fixture struct {
	sched    *Scheduler
	usage    usagedomain.Service
	invoices invoicedomain.Service
	signup   *fakeSignup
	env      tenanttest.Env
	clock    *clock.FakeClock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	conn := dbtest.New(t)
	clk := clock.NewFakeClock(time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC))
	env := tenanttest.New(t, conn, clk)
	usageRepo := usagerepository.Provide()

	usage := usageservice.New(usageservice.Params{
		DB: conn, Log: zap.NewNop(), Clock: clk, Repo: usageRepo, Tenants: env.Tenants,
	})
	invoices := invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:        conn,
		Log:       zap.NewNop(),
		GenID:     env.GenID,
		Clock:     clk,
		Config:    config.Config{SMTP: config.SMTPConfig{FromName: "Walue Billing", FromEmail: "billing@walue.local"}},
		Repo:      invoicerepository.Provide(),
		UsageRepo: usageRepo,
		Tenants:   env.Tenants,
		Renderer:  render.NewRenderer(),
		PDF:       fakePDF{},
		Email:     nopMailer{},
	})
	signup := &fakeSignup{}

	sched, err := New(Params{
		Log:      zap.NewNop(),
		GenID:    env.GenID,
		Clock:    clk,
		Settings: config.NewStaticSettings(config.DefaultSettings()),
		Tenants:  env.Tenants,
		Usage:    usage,
		Invoices: invoices,
		Signup:   signup,
		Config:   cfg,
	})
	require.NoError(t, err)
	return &fixture{sched: sched, usage: usage, invoices: invoices, signup: signup, env: env, clock: clk}
}

func (f *fixture) activeTenant(t *testing.T, email string) snowflake.ID {
	t.Helper()
	res := f.env.Register(t, email, "starter", true)
	id, err := snowflake.ParseString(res.TenantID)
	require.NoError(t, err)
	return id
}

func (f *fixture) recordMessage(t *testing.T, tenantID snowflake.ID, cost string) {
	t.Helper()
	require.NoError(t, f.usage.RecordUsage(context.Background(), usagedomain.RecordUsageRequest{
		TenantID: tenantID,
		Kind:     usagedomain.KindMessage,
		Count:    1,
		Cost:     decimal.RequireFromString(cost),
	}))
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLateUsageReachesInvoice(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tenantID := f.activeTenant(t, "owner@acme.example.com")

	f.clock.Set(time.Date(2025, 2, 28, 23, 0, 0, 0, time.UTC))
	f.recordMessage(t, tenantID, "1")
	require.NoError(t, f.sched.AggregateUsageJob(ctx))

	// after the last hourly run of February
	f.clock.Set(time.Date(2025, 2, 28, 23, 50, 0, 0, time.UTC))
	f.recordMessage(t, tenantID, "1")

	f.clock.Set(time.Date(2025, 3, 1, 0, 30, 0, 0, time.UTC))
	require.NoError(t, f.sched.RunOnce(ctx))

	feb, err := f.usage.GetMonthly(ctx, tenantID, "2025-02")
	require.NoError(t, err)
	require.NotNil(t, feb)
	assert.Equal(t, int64(2), feb.TotalMessages)
	assert.True(t, feb.InvoiceGenerated)

	invoices, err := f.invoices.List(ctx, invoicedomain.ListInvoiceRequest{TenantID: tenantID})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "31.00", invoices[0].TotalAmount.StringFixed(2))

	mar, err := f.usage.GetMonthly(ctx, tenantID, "2025-03")
	require.NoError(t, err)
	require.NotNil(t, mar)
	assert.Zero(t, mar.TotalMessages)
}

func TestInvoicedMonthIsNotReaggregated(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tenantID := f.activeTenant(t, "owner@acme.example.com")
	f.recordMessage(t, tenantID, "2.5")

	f.clock.Set(time.Date(2025, 3, 1, 0, 30, 0, 0, time.UTC))
	require.NoError(t, f.sched.GenerateMonthlyInvoicesJob(ctx))
	before, err := f.usage.GetMonthly(ctx, tenantID, "2025-02")
	require.NoError(t, err)
	require.True(t, before.InvoiceGenerated)

	f.clock.Advance(2 * time.Hour)
	require.NoError(t, f.sched.AggregateUsageJob(ctx))
	after, err := f.usage.GetMonthly(ctx, tenantID, "2025-02")
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)

	require.NoError(t, f.sched.GenerateMonthlyInvoicesJob(ctx))
	invoices, err := f.invoices.List(ctx, invoicedomain.ListInvoiceRequest{TenantID: tenantID})
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
}

func TestNewTenantGetsNoPreviousMonthSummary(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.clock.Set(time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC))
	tenantID := f.activeTenant(t, "new@acme.example.com")

	require.NoError(t, f.sched.AggregateUsageJob(ctx))
	feb, err := f.usage.GetMonthly(ctx, tenantID, "2025-02")
	require.NoError(t, err)
	assert.Nil(t, feb)
}

func TestCleanupPurgesExpiredUsage(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tenantID := f.activeTenant(t, "owner@acme.example.com")
	f.recordMessage(t, tenantID, "1")

	f.clock.Set(time.Date(2025, 5, 20, 3, 0, 0, 0, time.UTC))
	require.NoError(t, f.sched.CleanupOldDataJob(ctx))

	feb, err := f.usage.AggregateMonth(ctx, tenantID, "2025-02")
	require.NoError(t, err)
	assert.Zero(t, feb.TotalMessages)

	require.Len(t, f.signup.cutoffs, 1)
	assert.Equal(t, time.Date(2025, 5, 19, 3, 0, 0, 0, time.UTC), f.signup.cutoffs[0])
}

func TestCleanupKeepsUsageWithinRetention(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tenantID := f.activeTenant(t, "owner@acme.example.com")
	f.recordMessage(t, tenantID, "1")

	f.clock.Set(time.Date(2025, 5, 10, 3, 0, 0, 0, time.UTC))
	require.NoError(t, f.sched.CleanupOldDataJob(ctx))

	feb, err := f.usage.AggregateMonth(ctx, tenantID, "2025-02")
	require.NoError(t, err)
	assert.Equal(t, int64(1), feb.TotalMessages)
}

func TestRunOnceRunsEachPeriodOnce(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.sched.RunOnce(ctx))
	require.NoError(t, f.sched.RunOnce(ctx))
	assert.Equal(t, int32(1), f.signup.purges.Load())

	f.clock.Advance(time.Hour)
	require.NoError(t, f.sched.RunOnce(ctx))
	assert.Equal(t, int32(1), f.signup.purges.Load())

	f.clock.Advance(24 * time.Hour)
	require.NoError(t, f.sched.RunOnce(ctx))
	assert.Equal(t, int32(2), f.signup.purges.Load())
}

func TestFailedInvoiceRunIsRetriedNextTick(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{JobMonthlyInvoices}})
	invoices := &flakyInvoices{failures: 1}
	f.sched.invoices = invoices
	ctx := context.Background()

	require.Error(t, f.sched.RunOnce(ctx))
	require.NoError(t, f.sched.RunOnce(ctx))
	require.NoError(t, f.sched.RunOnce(ctx))
	assert.Equal(t, int32(2), invoices.calls.Load())
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{JobAggregateUsage}})
	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Zero(t, f.signup.purges.Load())
}

func TestRunJob(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.ErrorIs(t, f.sched.RunJob(ctx, "rating"), ErrUnknownJob)

	require.NoError(t, f.sched.RunJob(ctx, JobCleanupOldData))
	require.NoError(t, f.sched.RunJob(ctx, JobCleanupOldData))
	assert.Equal(t, int32(2), f.signup.purges.Load())

	f.sched.running.Store(true)
	require.ErrorIs(t, f.sched.RunJob(ctx, JobCleanupOldData), ErrBusy)
	require.NoError(t, f.sched.RunOnce(ctx))
	assert.Equal(t, int32(2), f.signup.purges.Load())

	assert.Equal(t, []string{JobAggregateUsage, JobCleanupOldData, JobMonthlyInvoices}, f.sched.JobNames())
}

func TestRunJobTimeoutIncrementsTimeoutMetric(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "walue",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	s := &Scheduler{
		log:   zap.NewNop(),
		genID: node,
		clock: clock.NewFakeClock(time.Time{}),
		cfg:   Config{JobTimeout: 5 * time.Millisecond}.withDefaults(),
	}
	err = s.runJob(context.Background(), "timeout_job", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	labels := map[string]string{"service": "walue", "env": "test", "job": "timeout_job"}
	assert.Equal(t, 1.0, getCounterValue(t, registry, "walue_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "walue",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, 1.0, getCounterValue(t, registry, "walue_scheduler_job_errors_total", errorLabels))
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if labelsMatch(metric, labels) {
				require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
