package scheduler

import (
	"context"
	"errors"
	"time"

	obsmetrics "github.com/smallbiznis/walue/internal/observability/metrics"
	tenantdomain "github.com/smallbiznis/walue/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/walue/internal/usage/domain"
	"github.com/smallbiznis/walue/pkg/db"
	"go.uber.org/zap"
)

// AggregateUsageJob refreshes monthly summaries for every active tenant.
// The previous month is refreshed too until it has been invoiced, so usage
// recorded after the last hourly run of a month still reaches the invoice.
func (s *Scheduler) AggregateUsageJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobAggregateUsage)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()

	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		return err
	}

	var jobErr error
	for _, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		months := []string{usagedomain.MonthOf(now)}
		if prev := usagedomain.PreviousMonth(now); s.previousMonthOpen(ctx, tenant, prev, now) {
			months = append(months, prev)
		}
		for _, month := range months {
			if _, err := s.usage.AggregateMonth(ctx, tenant.ID, month); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logTenantError(ctx, run, tenant.ID.String(), err, zap.String("month", month))
				continue
			}
			run.AddProcessed(1)
		}
	}
	obsmetrics.Scheduler().AddBatchProcessed(JobAggregateUsage, "monthly_summaries", run.processedCount)
	return jobErr
}

// previousMonthOpen reports whether month still needs refreshing for tenant:
// its summary exists and is uninvoiced, or it has none yet although the
// tenant already existed during month.
func (s *Scheduler) previousMonthOpen(ctx context.Context, tenant tenantdomain.Tenant, month string, now time.Time) bool {
	summary, err := s.usage.GetMonthly(ctx, tenant.ID, month)
	if err != nil {
		s.log.Warn("load previous month summary", zap.String("tenant_id", tenant.ID.String()), zap.Error(err))
		return false
	}
	if summary != nil {
		return !summary.InvoiceGenerated
	}
	firstOfMonth := time.Date(now.UTC().Year(), now.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	return tenant.CreatedAt.Before(firstOfMonth)
}

// CleanupOldDataJob deletes daily usage past retention and abandoned
// signup sessions.
func (s *Scheduler) CleanupOldDataJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobCleanupOldData)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()
	settings := s.settings.Get()

	var jobErr error
	if settings.RetentionDays > 0 {
		cutoff := db.NewDate(now).AddDays(-settings.RetentionDays)
		deleted, err := s.usage.PurgeDailyBefore(ctx, cutoff)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
		} else {
			run.AddProcessed(int(deleted))
			obsmetrics.Scheduler().AddBatchProcessed(JobCleanupOldData, "usage_daily", int(deleted))
			s.logger(ctx).Info("purged daily usage", zap.String("before", cutoff.String()), zap.Int64("deleted", deleted))
		}
	}

	if settings.SignupSessionMaxAge > 0 {
		deleted, err := s.signup.PurgeStale(ctx, now.Add(-settings.SignupSessionMaxAge))
		if err != nil {
			jobErr = errors.Join(jobErr, err)
		} else {
			run.AddProcessed(int(deleted))
			obsmetrics.Scheduler().AddBatchProcessed(JobCleanupOldData, "signup_sessions", int(deleted))
		}
	}
	return jobErr
}

// GenerateMonthlyInvoicesJob brings last month's summaries up to date and
// invoices the ones not yet invoiced.
func (s *Scheduler) GenerateMonthlyInvoicesJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobMonthlyInvoices)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()
	month := usagedomain.PreviousMonth(now)

	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		return err
	}
	var jobErr error
	for _, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}
		if !s.previousMonthOpen(ctx, tenant, month, now) {
			continue
		}
		if _, err := s.usage.AggregateMonth(ctx, tenant.ID, month); err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logTenantError(ctx, run, tenant.ID.String(), err, zap.String("month", month))
		}
	}

	res, err := s.invoices.GenerateMonthly(ctx, month)
	if err != nil {
		jobErr = errors.Join(jobErr, err)
		s.logger(ctx).Error("monthly invoice generation incomplete", zap.String("month", month), zap.Error(err))
	}
	run.AddProcessed(len(res.Generated))
	obsmetrics.Scheduler().AddBatchProcessed(JobMonthlyInvoices, invoiceResourceName, len(res.Generated))
	s.logger(ctx).Info("monthly invoices generated",
		zap.String("month", res.Month),
		zap.Int("generated", len(res.Generated)),
		zap.Int("notified", res.Notified),
	)
	return jobErr
}
