package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/walue/internal/clock"
	"github.com/smallbiznis/walue/internal/tenant/tenanttest"
	"github.com/smallbiznis/walue/internal/usage/domain"
	"github.com/smallbiznis/walue/internal/usage/repository"
	"github.com/smallbiznis/walue/internal/validation"
	"github.com/smallbiznis/walue/pkg/db"
	"github.com/smallbiznis/walue/pkg/db/dbtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type fixture struct {
	svc   *Service
	env   tenanttest.Env
	conn  *gorm.DB
	clock *clock.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.New(t)
	clk := clock.NewFakeClock(time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC))
	env := tenanttest.New(t, conn, clk)
	svc := New(Params{
		DB:      conn,
		Log:     zap.NewNop(),
		Clock:   clk,
		Repo:    repository.Provide(),
		Tenants: env.Tenants,
	}).(*Service)
	svc.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxWriteAttempts-1)
	}
	return fixture{svc: svc, env: env, conn: conn, clock: clk}
}

func tenantID(t *testing.T, raw string) snowflake.ID {
	t.Helper()
	id, err := snowflake.ParseString(raw)
	require.NoError(t, err)
	return id
}

func message(id snowflake.ID, cost string) domain.RecordUsageRequest {
	return domain.RecordUsageRequest{
		TenantID: id,
		Kind:     domain.KindMessage,
		Count:    1,
		Cost:     decimal.RequireFromString(cost),
	}
}

func TestRecordUsageConcurrentIncrementsAreNotLost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := tenantID(t, f.env.Register(t, "busy@example.com", "starter", true).TenantID)

	const workers = 100
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.svc.RecordUsage(ctx, message(id, "0.005"))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	summary, err := f.svc.UsageSummary(ctx, id, domain.PeriodQuery{Period: domain.PeriodToday})
	require.NoError(t, err)
	require.Equal(t, int64(workers), summary.Summary.TotalMessages)
	require.Equal(t, "0.50", summary.Summary.TotalRevenue.StringFixed(2))
	require.Len(t, summary.Daily, 1)
}

func TestRecordUsageAccumulatesCallsAndMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := tenantID(t, f.env.Register(t, "mixed@example.com", "professional", true).TenantID)

	require.NoError(t, f.svc.RecordUsage(ctx, domain.RecordUsageRequest{
		TenantID:        id,
		Kind:            domain.KindCall,
		Count:           1,
		DurationMinutes: decimal.NewFromInt(2),
		Cost:            decimal.RequireFromString("0.06"),
		Markup:          decimal.RequireFromString("0.018"),
	}))
	require.NoError(t, f.svc.RecordUsage(ctx, message(id, "0.01")))

	summary, err := f.svc.UsageSummary(ctx, id, domain.PeriodQuery{Period: domain.PeriodMonth})
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.Summary.TotalCalls)
	require.Equal(t, int64(1), summary.Summary.TotalMessages)
	require.Equal(t, "2.00", summary.Summary.TotalCallMinutes.StringFixed(2))
	require.Equal(t, "0.07", summary.Summary.TotalCost.StringFixed(2))
	require.Equal(t, "0.09", summary.Summary.TotalRevenue.StringFixed(2))
}

func TestRecordUsageRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := snowflake.ID(42)

	err := f.svc.RecordUsage(ctx, domain.RecordUsageRequest{TenantID: id, Kind: "fax", Count: 1})
	verr, ok := validation.As(err)
	require.True(t, ok)
	require.Equal(t, "usage_type", verr.Field)

	err = f.svc.RecordUsage(ctx, message(id, "-1"))
	verr, ok = validation.As(err)
	require.True(t, ok)
	require.Equal(t, "cost", verr.Field)

	require.ErrorIs(t, f.svc.RecordUsage(ctx, message(0, "1")), domain.ErrInvalidTenant)
}

type flakyRepo struct {
	domain.Repository
	mu       sync.Mutex
	failures int
	calls    int
	err      error
}

func (r *flakyRepo) ApplyIncrement(ctx context.Context, conn *gorm.DB, inc domain.DailyIncrement, now time.Time) error {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.failures
	r.mu.Unlock()
	if fail {
		return r.err
	}
	return r.Repository.ApplyIncrement(ctx, conn, inc, now)
}

func TestRecordUsageRetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := tenantID(t, f.env.Register(t, "retry@example.com", "", true).TenantID)

	repo := &flakyRepo{Repository: repository.Provide(), failures: 2, err: errors.New("database is locked")}
	f.svc.repo = repo

	require.NoError(t, f.svc.RecordUsage(ctx, message(id, "0.005")))
	require.Equal(t, 3, repo.calls)

	summary, err := f.svc.UsageSummary(ctx, id, domain.PeriodQuery{Period: domain.PeriodToday})
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.Summary.TotalMessages)
}

func TestRecordUsageLogsForReconciliationWhenRetriesExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	core, logs := observer.New(zap.ErrorLevel)
	f.svc.log = zap.New(core)
	repo := &flakyRepo{Repository: repository.Provide(), failures: 100, err: errors.New("connection refused")}
	f.svc.repo = repo

	err := f.svc.RecordUsage(ctx, message(snowflake.ID(7), "0.005"))
	require.ErrorIs(t, err, domain.ErrStorage)
	require.Equal(t, maxWriteAttempts, repo.calls)

	entries := logs.FilterMessage("usage.record.reconciliation_required").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "7", fields["tenant_id"])
	require.Equal(t, "message", fields["kind"])
	require.Equal(t, "2025-03-15", fields["usage_date"])
}

func TestRecordUsageDoesNotRetryPermanentFailures(t *testing.T) {
	f := newFixture(t)
	repo := &flakyRepo{Repository: repository.Provide(), failures: 100, err: errors.New("no such table: usage_daily")}
	f.svc.repo = repo

	err := f.svc.RecordUsage(context.Background(), message(snowflake.ID(7), "0.005"))
	require.ErrorIs(t, err, domain.ErrStorage)
	require.Equal(t, 1, repo.calls)
}

func TestUsageSummaryPeriods(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := tenantID(t, f.env.Register(t, "periods@example.com", "", true).TenantID)

	// One message per day from 2025-02-25 through 2025-03-15.
	f.clock.Set(time.Date(2025, 2, 25, 12, 0, 0, 0, time.UTC))
	for i := 0; i < 19; i++ {
		require.NoError(t, f.svc.RecordUsage(ctx, message(id, "1")))
		f.clock.Advance(24 * time.Hour)
	}
	f.clock.Set(time.Date(2025, 3, 15, 18, 0, 0, 0, time.UTC))

	cases := []struct {
		name     string
		query    domain.PeriodQuery
		start    string
		end      string
		messages int64
	}{
		{"today", domain.PeriodQuery{Period: "today"}, "2025-03-15", "2025-03-15", 1},
		{"week", domain.PeriodQuery{Period: "week"}, "2025-03-08", "2025-03-15", 8},
		{"month", domain.PeriodQuery{Period: "month"}, "2025-03-01", "2025-03-15", 15},
		{"unknown falls back to month", domain.PeriodQuery{Period: "fortnight"}, "2025-03-01", "2025-03-15", 15},
		{"custom", domain.PeriodQuery{Period: "custom", StartDate: "2025-02-27", EndDate: "2025-03-02"}, "2025-02-27", "2025-03-02", 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			summary, err := f.svc.UsageSummary(ctx, id, tc.query)
			require.NoError(t, err)
			require.Equal(t, tc.start, summary.Period.Start.String())
			require.Equal(t, tc.end, summary.Period.End.String())
			require.Equal(t, tc.messages, summary.Summary.TotalMessages)
			require.Len(t, summary.Daily, int(tc.messages))
		})
	}
}

func TestUsageSummaryCustomPeriodValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		query domain.PeriodQuery
		field string
	}{
		{"missing start", domain.PeriodQuery{Period: "custom", EndDate: "2025-03-01"}, "start_date"},
		{"missing end", domain.PeriodQuery{Period: "custom", StartDate: "2025-03-01"}, "end_date"},
		{"bad date", domain.PeriodQuery{Period: "custom", StartDate: "03/01/2025", EndDate: "2025-03-02"}, "start_date"},
		{"reversed", domain.PeriodQuery{Period: "custom", StartDate: "2025-03-05", EndDate: "2025-03-01"}, "end_date"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.UsageSummary(ctx, snowflake.ID(1), tc.query)
			verr, ok := validation.As(err)
			require.True(t, ok, "expected validation error, got %v", err)
			require.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestQuotaStatusThresholds(t *testing.T) {
	cases := []struct {
		name    string
		balance string
		usage   string
		status  domain.QuotaStatus
		alert   string
	}{
		{"critical", "100", "91", domain.QuotaCritical, "You've used 91% of your balance"},
		{"critical at boundary", "100", "90", domain.QuotaCritical, "You've used 90% of your balance"},
		{"warning", "100", "80", domain.QuotaWarning, "You've used 80% of your balance"},
		{"warning at boundary", "100", "75", domain.QuotaWarning, "You've used 75% of your balance"},
		{"ok", "100", "50", domain.QuotaOK, ""},
		{"zero balance", "0", "50", domain.QuotaOK, ""},
		{"negative balance", "-5", "50", domain.QuotaOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status := quotaStatus(decimal.RequireFromString(tc.balance), decimal.RequireFromString(tc.usage))
			require.Equal(t, tc.status, status.QuotaStatus)
			if tc.alert == "" {
				require.Empty(t, status.Alerts)
				return
			}
			require.Len(t, status.Alerts, 1)
			require.Equal(t, tc.alert, status.Alerts[0].Message)
		})
	}
}

func TestBalanceStatusUsesMonthToDateRevenue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.env.Register(t, "quota@example.com", "starter", true)
	id := tenantID(t, res.TenantID)

	_, err := f.env.Tenants.CreditBalance(ctx, res.TenantID, decimal.NewFromInt(100))
	require.NoError(t, err)

	// Last month's usage does not count.
	f.clock.Set(time.Date(2025, 2, 20, 9, 0, 0, 0, time.UTC))
	require.NoError(t, f.svc.RecordUsage(ctx, message(id, "60")))
	f.clock.Set(time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC))
	require.NoError(t, f.svc.RecordUsage(ctx, message(id, "80")))

	status, err := f.svc.BalanceStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.QuotaWarning, status.QuotaStatus)
	require.Equal(t, "80.00", status.TotalUsageThisMonth.StringFixed(2))
	require.Equal(t, "100.00", status.Balance.StringFixed(2))
}

func TestBillingInfo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := tenantID(t, f.env.Register(t, "billing@example.com", "professional", true).TenantID)

	require.NoError(t, f.svc.RecordUsage(ctx, message(id, "1.25")))
	require.NoError(t, f.svc.RecordUsage(ctx, message(id, "1.25")))

	info, err := f.svc.BillingInfo(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "ACTIVE", info.Status)
	require.Equal(t, int64(2), info.CurrentMonthMessages)
	require.Equal(t, "2.50", info.CurrentMonthCharges.StringFixed(2))
	require.NotNil(t, info.Plan)
	require.Equal(t, "30.00", info.Plan.CallMarkup.StringFixed(2))
	require.Equal(t, "MONTHLY", info.BillingCycle)
}

func TestAggregateMonthIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := tenantID(t, f.env.Register(t, "rollup@example.com", "starter", true).TenantID)

	for _, day := range []int{3, 3, 10} {
		f.clock.Set(time.Date(2025, 2, day, 12, 0, 0, 0, time.UTC))
		require.NoError(t, f.svc.RecordUsage(ctx, message(id, "2.5")))
	}
	f.clock.Set(time.Date(2025, 3, 1, 0, 5, 0, 0, time.UTC))
	require.NoError(t, f.svc.RecordUsage(ctx, message(id, "100")))

	first, err := f.svc.AggregateMonth(ctx, id, "2025-02")
	require.NoError(t, err)
	second, err := f.svc.AggregateMonth(ctx, id, "2025-02")
	require.NoError(t, err)

	for _, s := range []domain.MonthlySummary{first, second} {
		require.Equal(t, "2025-02", s.Month)
		require.Equal(t, int64(3), s.TotalMessages)
		require.Equal(t, "7.50", s.UsageCharges.StringFixed(2))
		require.Equal(t, "29.00", s.BaseFee.StringFixed(2))
		require.Equal(t, "36.50", s.TotalAmount.StringFixed(2))
		require.False(t, s.InvoiceGenerated)
	}

	stored, err := f.svc.GetMonthly(ctx, id, "2025-02")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "36.50", stored.TotalAmount.StringFixed(2))

	_, err = f.svc.AggregateMonth(ctx, id, "2025-13")
	require.ErrorIs(t, err, domain.ErrInvalidMonth)
}

func TestPurgeDailyBefore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := tenantID(t, f.env.Register(t, "purge@example.com", "", true).TenantID)

	f.clock.Set(time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, f.svc.RecordUsage(ctx, message(id, "1")))
	f.clock.Set(time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC))
	require.NoError(t, f.svc.RecordUsage(ctx, message(id, "1")))

	cutoff, err := db.ParseDate("2025-01-01")
	require.NoError(t, err)
	deleted, err := f.svc.PurgeDailyBefore(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	_, err = f.svc.PurgeDailyBefore(ctx, db.Date{})
	require.Error(t, err)
}
