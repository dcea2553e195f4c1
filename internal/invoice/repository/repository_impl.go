package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/walue/internal/invoice/domain"
	"gorm.io/gorm"
)

const invoiceColumns = `id, tenant_id, number, month, period_start, period_end,
	total_calls, total_call_minutes, total_messages, base_fee, usage_charges,
	total_amount, status, due_date, paid_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, inv *domain.Invoice) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, period_start, period_end) DO NOTHING`,
		inv.ID,
		inv.TenantID,
		inv.Number,
		inv.Month,
		inv.PeriodStart,
		inv.PeriodEnd,
		inv.TotalCalls,
		inv.TotalCallMinutes,
		inv.TotalMessages,
		inv.BaseFee,
		inv.UsageCharges,
		inv.TotalAmount,
		inv.Status,
		inv.DueDate,
		inv.PaidAt,
		inv.CreatedAt,
		inv.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := conn.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ? LIMIT 1`,
		id,
	).Scan(&inv).Error
	if err != nil {
		return nil, err
	}
	if inv.ID == 0 {
		return nil, nil
	}
	return &inv, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID, status domain.InvoiceStatus) ([]*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE tenant_id = ?`
	args := []interface{}{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY period_start DESC, id DESC`

	var items []*domain.Invoice
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, inv *domain.Invoice) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, paid_at = ?, updated_at = ? WHERE id = ?`,
		inv.Status,
		inv.PaidAt,
		inv.UpdatedAt,
		inv.ID,
	).Error
}
