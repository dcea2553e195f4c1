package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/walue/pkg/db"
	"gorm.io/gorm"
)

type Repository interface {
	// ApplyIncrement upserts the daily row in a single statement.
	ApplyIncrement(ctx context.Context, conn *gorm.DB, inc DailyIncrement, now time.Time) error
	ListDaily(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID, start, end db.Date) ([]*DailyUsage, error)
	DeleteDailyBefore(ctx context.Context, conn *gorm.DB, cutoff db.Date) (int64, error)

	UpsertMonthly(ctx context.Context, conn *gorm.DB, summary *MonthlySummary) error
	FindMonthly(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID, month string) (*MonthlySummary, error)
	ListUninvoiced(ctx context.Context, conn *gorm.DB, month string) ([]*MonthlySummary, error)
	// MarkInvoiced flips invoice_generated and reports whether this call did it.
	MarkInvoiced(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID, month string, now time.Time) (bool, error)
}
