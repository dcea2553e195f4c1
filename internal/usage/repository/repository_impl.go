package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/walue/internal/usage/domain"
	"github.com/smallbiznis/walue/pkg/db"
	"gorm.io/gorm"
)

const dailyColumns = `tenant_id, usage_date, total_calls, total_call_minutes, total_messages,
	total_call_cost, total_message_cost, total_markup, total_revenue, updated_at`

const monthlyColumns = `tenant_id, month, total_calls, total_call_minutes, total_messages,
	total_call_cost, total_message_cost, total_markup, total_revenue,
	base_fee, usage_charges, total_amount, invoice_generated, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// ApplyIncrement relies on the row lock taken by ON CONFLICT DO UPDATE, so
// concurrent increments to one (tenant, day) never lose updates.
func (r *repo) ApplyIncrement(ctx context.Context, conn *gorm.DB, inc domain.DailyIncrement, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO usage_daily (`+dailyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, usage_date) DO UPDATE SET
		   total_calls = usage_daily.total_calls + excluded.total_calls,
		   total_call_minutes = usage_daily.total_call_minutes + excluded.total_call_minutes,
		   total_messages = usage_daily.total_messages + excluded.total_messages,
		   total_call_cost = usage_daily.total_call_cost + excluded.total_call_cost,
		   total_message_cost = usage_daily.total_message_cost + excluded.total_message_cost,
		   total_markup = usage_daily.total_markup + excluded.total_markup,
		   total_revenue = usage_daily.total_call_cost + excluded.total_call_cost
		                 + usage_daily.total_message_cost + excluded.total_message_cost
		                 + usage_daily.total_markup + excluded.total_markup,
		   updated_at = excluded.updated_at`,
		inc.TenantID,
		inc.Date,
		inc.Calls,
		inc.CallMinutes,
		inc.Messages,
		inc.CallCost,
		inc.MessageCost,
		inc.Markup,
		inc.Revenue(),
		now,
	).Error
}

func (r *repo) ListDaily(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID, start, end db.Date) ([]*domain.DailyUsage, error) {
	var rows []*domain.DailyUsage
	err := conn.WithContext(ctx).Raw(
		`SELECT `+dailyColumns+` FROM usage_daily
		 WHERE tenant_id = ? AND usage_date BETWEEN ? AND ?
		 ORDER BY usage_date ASC`,
		tenantID,
		start,
		end,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) DeleteDailyBefore(ctx context.Context, conn *gorm.DB, cutoff db.Date) (int64, error) {
	res := conn.WithContext(ctx).Exec(`DELETE FROM usage_daily WHERE usage_date < ?`, cutoff)
	return res.RowsAffected, res.Error
}

// UpsertMonthly replaces the totals. invoice_generated is only ever set on
// insert so re-aggregation cannot re-open an invoiced month.
func (r *repo) UpsertMonthly(ctx context.Context, conn *gorm.DB, s *domain.MonthlySummary) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO usage_monthly (`+monthlyColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, month) DO UPDATE SET
		   total_calls = excluded.total_calls,
		   total_call_minutes = excluded.total_call_minutes,
		   total_messages = excluded.total_messages,
		   total_call_cost = excluded.total_call_cost,
		   total_message_cost = excluded.total_message_cost,
		   total_markup = excluded.total_markup,
		   total_revenue = excluded.total_revenue,
		   base_fee = excluded.base_fee,
		   usage_charges = excluded.usage_charges,
		   total_amount = excluded.total_amount,
		   updated_at = excluded.updated_at`,
		s.TenantID,
		s.Month,
		s.TotalCalls,
		s.TotalCallMinutes,
		s.TotalMessages,
		s.TotalCallCost,
		s.TotalMessageCost,
		s.TotalMarkup,
		s.TotalRevenue,
		s.BaseFee,
		s.UsageCharges,
		s.TotalAmount,
		s.InvoiceGenerated,
		s.UpdatedAt,
	).Error
}

func (r *repo) FindMonthly(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID, month string) (*domain.MonthlySummary, error) {
	var summary domain.MonthlySummary
	err := conn.WithContext(ctx).Raw(
		`SELECT `+monthlyColumns+` FROM usage_monthly WHERE tenant_id = ? AND month = ?`,
		tenantID,
		month,
	).Scan(&summary).Error
	if err != nil {
		return nil, err
	}
	if summary.TenantID == 0 {
		return nil, nil
	}
	return &summary, nil
}

func (r *repo) ListUninvoiced(ctx context.Context, conn *gorm.DB, month string) ([]*domain.MonthlySummary, error) {
	var summaries []*domain.MonthlySummary
	err := conn.WithContext(ctx).Raw(
		`SELECT `+monthlyColumns+` FROM usage_monthly
		 WHERE month = ? AND invoice_generated = ?
		 ORDER BY tenant_id ASC`,
		month,
		false,
	).Scan(&summaries).Error
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

func (r *repo) MarkInvoiced(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID, month string, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE usage_monthly SET invoice_generated = ?, updated_at = ?
		 WHERE tenant_id = ? AND month = ? AND invoice_generated = ?`,
		true,
		now,
		tenantID,
		month,
		false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
