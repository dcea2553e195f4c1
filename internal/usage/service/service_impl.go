package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/walue/internal/clock"
	"github.com/smallbiznis/walue/internal/observability/metrics"
	tenantdomain "github.com/smallbiznis/walue/internal/tenant/domain"
	"github.com/smallbiznis/walue/internal/usage/domain"
	"github.com/smallbiznis/walue/internal/validation"
	"github.com/smallbiznis/walue/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxWriteAttempts = 5

var hundred = decimal.NewFromInt(100)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    domain.Repository
	Tenants tenantdomain.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    domain.Repository
	tenants tenantdomain.Service
	metrics *metrics.Metrics

	newBackOff func() backoff.BackOff
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("usage.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		tenants:    p.Tenants,
		metrics:    p.Metrics,
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 10 * time.Second
	return backoff.WithMaxRetries(b, maxWriteAttempts-1)
}

// RecordUsage adds one usage event to today's counters. Transient storage
// failures are retried; when retries run out the event is logged for
// reconciliation and ErrStorage is returned.
func (s *Service) RecordUsage(ctx context.Context, req domain.RecordUsageRequest) error {
	now := s.clock.Now()
	inc, err := domain.NewDailyIncrement(req, db.NewDate(now))
	if err != nil {
		return err
	}

	attempt := 0
	op := func() error {
		attempt++
		err := s.repo.ApplyIncrement(ctx, s.db, inc, now)
		if err == nil {
			return nil
		}
		if !db.IsTransient(err) {
			return backoff.Permanent(err)
		}
		if attempt < maxWriteAttempts {
			s.metrics.RecordUsageRetry(ctx, string(req.Kind))
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(s.newBackOff(), ctx)); err != nil {
		s.log.Error("usage.record.reconciliation_required",
			zap.String("tenant_id", req.TenantID.String()),
			zap.String("kind", string(req.Kind)),
			zap.Int64("count", req.Count),
			zap.String("duration_minutes", inc.CallMinutes.String()),
			zap.String("cost", req.Cost.String()),
			zap.String("markup", inc.Markup.String()),
			zap.String("usage_date", inc.Date.String()),
			zap.Time("timestamp", now),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	s.metrics.RecordUsage(ctx, string(req.Kind))
	return nil
}

func (s *Service) UsageSummary(ctx context.Context, tenantID snowflake.ID, q domain.PeriodQuery) (domain.UsageSummary, error) {
	if tenantID == 0 {
		return domain.UsageSummary{}, domain.ErrInvalidTenant
	}
	period, err := resolvePeriod(q, db.NewDate(s.clock.Now()))
	if err != nil {
		return domain.UsageSummary{}, err
	}

	rows, err := s.repo.ListDaily(ctx, s.db, tenantID, period.Start, period.End)
	if err != nil {
		return domain.UsageSummary{}, err
	}

	var (
		totals      domain.SummaryTotals
		minutes     = decimal.Zero
		callCost    = decimal.Zero
		messageCost = decimal.Zero
		revenue     = decimal.Zero
	)
	daily := make([]domain.DailyPoint, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		totals.TotalCalls += row.TotalCalls
		totals.TotalMessages += row.TotalMessages
		minutes = minutes.Add(row.TotalCallMinutes)
		callCost = callCost.Add(row.TotalCallCost)
		messageCost = messageCost.Add(row.TotalMessageCost)
		revenue = revenue.Add(row.TotalRevenue)
		daily = append(daily, domain.DailyPoint{
			Date:             row.UsageDate,
			TotalCalls:       row.TotalCalls,
			TotalCallMinutes: row.TotalCallMinutes.RoundBank(4),
			TotalMessages:    row.TotalMessages,
			TotalRevenue:     row.TotalRevenue.RoundBank(4),
		})
	}
	totals.TotalCallMinutes = minutes.RoundBank(2)
	totals.TotalCost = callCost.Add(messageCost).RoundBank(2)
	totals.TotalRevenue = revenue.RoundBank(2)

	return domain.UsageSummary{Period: period, Summary: totals, Daily: daily}, nil
}

// resolvePeriod maps a period name onto an inclusive date range. Unknown
// names fall back to month-to-date.
func resolvePeriod(q domain.PeriodQuery, today db.Date) (domain.Period, error) {
	switch strings.ToLower(strings.TrimSpace(q.Period)) {
	case domain.PeriodToday:
		return domain.Period{Start: today, End: today}, nil
	case domain.PeriodWeek:
		return domain.Period{Start: today.AddDays(-7), End: today}, nil
	case domain.PeriodCustom:
		start, err := parseDateParam("start_date", q.StartDate)
		if err != nil {
			return domain.Period{}, err
		}
		end, err := parseDateParam("end_date", q.EndDate)
		if err != nil {
			return domain.Period{}, err
		}
		if end.Before(start) {
			return domain.Period{}, validation.New("end_date", "before_start_date", "end_date must not be before start_date")
		}
		return domain.Period{Start: start, End: end}, nil
	default:
		return domain.Period{Start: monthStart(today), End: today}, nil
	}
}

func parseDateParam(field, raw string) (db.Date, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return db.Date{}, validation.New(field, "required", field+" is required for a custom period")
	}
	d, err := db.ParseDate(raw)
	if err != nil {
		return db.Date{}, validation.New(field, "invalid_date", "expected YYYY-MM-DD")
	}
	return d, nil
}

func monthStart(d db.Date) db.Date {
	return db.NewDate(time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC))
}

func (s *Service) monthToDate(ctx context.Context, tenantID snowflake.ID) ([]*domain.DailyUsage, error) {
	today := db.NewDate(s.clock.Now())
	return s.repo.ListDaily(ctx, s.db, tenantID, monthStart(today), today)
}

// BalanceStatus compares month-to-date revenue with the running balance.
// A balance of zero or less always reports ok without alerts.
func (s *Service) BalanceStatus(ctx context.Context, tenantID snowflake.ID) (domain.BalanceStatus, error) {
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return domain.BalanceStatus{}, err
	}
	rows, err := s.monthToDate(ctx, tenantID)
	if err != nil {
		return domain.BalanceStatus{}, err
	}
	usage := decimal.Zero
	for _, row := range rows {
		if row != nil {
			usage = usage.Add(row.TotalRevenue)
		}
	}
	return quotaStatus(tenant.Balance.RoundBank(4), usage.RoundBank(4)), nil
}

func quotaStatus(balance, usage decimal.Decimal) domain.BalanceStatus {
	status := domain.BalanceStatus{
		Balance:             balance,
		TotalUsageThisMonth: usage,
		QuotaStatus:         domain.QuotaOK,
		Alerts:              []domain.Alert{},
	}
	if !balance.IsPositive() {
		return status
	}

	ratio := usage.Div(balance)
	message := fmt.Sprintf("You've used %s%% of your balance", ratio.Mul(hundred).RoundBank(0).String())
	switch {
	case ratio.GreaterThanOrEqual(domain.CriticalThreshold):
		status.QuotaStatus = domain.QuotaCritical
		status.Alerts = append(status.Alerts, domain.Alert{Type: "quota_critical", Message: message})
	case ratio.GreaterThanOrEqual(domain.WarningThreshold):
		status.QuotaStatus = domain.QuotaWarning
		status.Alerts = append(status.Alerts, domain.Alert{Type: "quota_warning", Message: message})
	}
	return status
}

func (s *Service) BillingInfo(ctx context.Context, tenantID snowflake.ID) (domain.BillingInfo, error) {
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return domain.BillingInfo{}, err
	}
	plan, err := s.tenants.Plan(ctx, tenant)
	if err != nil {
		return domain.BillingInfo{}, err
	}
	rows, err := s.monthToDate(ctx, tenantID)
	if err != nil {
		return domain.BillingInfo{}, err
	}

	info := domain.BillingInfo{
		TenantID:            tenant.ID.String(),
		Status:              string(tenant.Status),
		CurrentBalance:      tenant.Balance.RoundBank(4),
		CurrentMonthCharges: decimal.Zero,
		BillingCycle:        tenant.BillingCycle,
	}
	charges := decimal.Zero
	for _, row := range rows {
		if row == nil {
			continue
		}
		charges = charges.Add(row.TotalRevenue)
		info.CurrentMonthCalls += row.TotalCalls
		info.CurrentMonthMessages += row.TotalMessages
	}
	info.CurrentMonthCharges = charges.RoundBank(2)
	if plan != nil {
		info.Plan = &domain.BillingPlan{
			Name:          plan.Name,
			BaseFee:       plan.BaseFee,
			CallMarkup:    plan.CallMarkupPercentage,
			MessageMarkup: plan.MessageMarkupPercentage,
		}
	}
	return info, nil
}

// AggregateMonth is idempotent: running it twice over the same daily rows
// yields the same summary.
func (s *Service) AggregateMonth(ctx context.Context, tenantID snowflake.ID, month string) (domain.MonthlySummary, error) {
	start, end, err := domain.MonthBounds(month)
	if err != nil {
		return domain.MonthlySummary{}, err
	}
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return domain.MonthlySummary{}, err
	}
	plan, err := s.tenants.Plan(ctx, tenant)
	if err != nil {
		return domain.MonthlySummary{}, err
	}
	rows, err := s.repo.ListDaily(ctx, s.db, tenantID, start, end)
	if err != nil {
		return domain.MonthlySummary{}, err
	}

	summary := domain.MonthlySummary{
		TenantID:         tenantID,
		Month:            start.Format(domain.MonthLayout),
		TotalCallMinutes: decimal.Zero,
		TotalCallCost:    decimal.Zero,
		TotalMessageCost: decimal.Zero,
		TotalMarkup:      decimal.Zero,
		TotalRevenue:     decimal.Zero,
		BaseFee:          decimal.Zero,
		UpdatedAt:        s.clock.Now(),
	}
	for _, row := range rows {
		if row == nil {
			continue
		}
		summary.TotalCalls += row.TotalCalls
		summary.TotalMessages += row.TotalMessages
		summary.TotalCallMinutes = summary.TotalCallMinutes.Add(row.TotalCallMinutes)
		summary.TotalCallCost = summary.TotalCallCost.Add(row.TotalCallCost)
		summary.TotalMessageCost = summary.TotalMessageCost.Add(row.TotalMessageCost)
		summary.TotalMarkup = summary.TotalMarkup.Add(row.TotalMarkup)
		summary.TotalRevenue = summary.TotalRevenue.Add(row.TotalRevenue)
	}
	if plan != nil {
		summary.BaseFee = plan.BaseFee
	}
	summary.TotalCallMinutes = summary.TotalCallMinutes.RoundBank(4)
	summary.TotalCallCost = summary.TotalCallCost.RoundBank(4)
	summary.TotalMessageCost = summary.TotalMessageCost.RoundBank(4)
	summary.TotalMarkup = summary.TotalMarkup.RoundBank(4)
	summary.TotalRevenue = summary.TotalRevenue.RoundBank(4)
	summary.UsageCharges = summary.TotalRevenue
	summary.TotalAmount = summary.BaseFee.Add(summary.UsageCharges).RoundBank(4)

	if err := s.repo.UpsertMonthly(ctx, s.db, &summary); err != nil {
		return domain.MonthlySummary{}, err
	}

	stored, err := s.repo.FindMonthly(ctx, s.db, tenantID, summary.Month)
	if err != nil {
		return domain.MonthlySummary{}, err
	}
	if stored != nil {
		summary.InvoiceGenerated = stored.InvoiceGenerated
	}
	return summary, nil
}

func (s *Service) GetMonthly(ctx context.Context, tenantID snowflake.ID, month string) (*domain.MonthlySummary, error) {
	if _, _, err := domain.MonthBounds(month); err != nil {
		return nil, err
	}
	return s.repo.FindMonthly(ctx, s.db, tenantID, month)
}

func (s *Service) PurgeDailyBefore(ctx context.Context, cutoff db.Date) (int64, error) {
	if cutoff.IsZero() {
		return 0, errors.New("purge cutoff is required")
	}
	return s.repo.DeleteDailyBefore(ctx, s.db, cutoff)
}
