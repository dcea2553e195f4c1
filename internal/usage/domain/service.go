package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/walue/pkg/db"
)

type RecordUsageRequest struct {
	TenantID        snowflake.ID
	Kind            Kind
	Count           int64
	DurationMinutes decimal.Decimal
	Cost            decimal.Decimal
	Markup          decimal.Decimal
}

const (
	PeriodToday  = "today"
	PeriodWeek   = "week"
	PeriodMonth  = "month"
	PeriodCustom = "custom"
)

type PeriodQuery struct {
	Period    string
	StartDate string
	EndDate   string
}

type Period struct {
	Start db.Date `json:"start"`
	End   db.Date `json:"end"`
}

type SummaryTotals struct {
	TotalCalls       int64           `json:"total_calls"`
	TotalCallMinutes decimal.Decimal `json:"total_call_minutes"`
	TotalMessages    int64           `json:"total_messages"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
}

type DailyPoint struct {
	Date             db.Date         `json:"date"`
	TotalCalls       int64           `json:"total_calls"`
	TotalCallMinutes decimal.Decimal `json:"total_call_minutes"`
	TotalMessages    int64           `json:"total_messages"`
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
}

type UsageSummary struct {
	Period  Period        `json:"period"`
	Summary SummaryTotals `json:"summary"`
	Daily   []DailyPoint  `json:"daily"`
}

type QuotaStatus string

const (
	QuotaOK       QuotaStatus = "ok"
	QuotaWarning  QuotaStatus = "warning"
	QuotaCritical QuotaStatus = "critical"
)

var (
	WarningThreshold  = decimal.RequireFromString("0.75")
	CriticalThreshold = decimal.RequireFromString("0.90")
)

type Alert struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type BalanceStatus struct {
	Balance             decimal.Decimal `json:"balance"`
	TotalUsageThisMonth decimal.Decimal `json:"total_usage"`
	QuotaStatus         QuotaStatus     `json:"quota_status"`
	Alerts              []Alert         `json:"alerts"`
}

type BillingPlan struct {
	Name          string          `json:"name"`
	BaseFee       decimal.Decimal `json:"base_fee"`
	CallMarkup    decimal.Decimal `json:"call_markup"`
	MessageMarkup decimal.Decimal `json:"message_markup"`
}

type BillingInfo struct {
	TenantID             string          `json:"customer_id"`
	Status               string          `json:"status"`
	CurrentBalance       decimal.Decimal `json:"current_balance"`
	Plan                 *BillingPlan    `json:"subscription_plan"`
	CurrentMonthCharges  decimal.Decimal `json:"current_month_charges"`
	CurrentMonthCalls    int64           `json:"current_month_calls"`
	CurrentMonthMessages int64           `json:"current_month_messages"`
	BillingCycle         string          `json:"billing_cycle"`
}

type Service interface {
	RecordUsage(ctx context.Context, req RecordUsageRequest) error
	UsageSummary(ctx context.Context, tenantID snowflake.ID, q PeriodQuery) (UsageSummary, error)
	BalanceStatus(ctx context.Context, tenantID snowflake.ID) (BalanceStatus, error)
	BillingInfo(ctx context.Context, tenantID snowflake.ID) (BillingInfo, error)

	// AggregateMonth recomputes the monthly summary from the daily rows.
	AggregateMonth(ctx context.Context, tenantID snowflake.ID, month string) (MonthlySummary, error)
	GetMonthly(ctx context.Context, tenantID snowflake.ID, month string) (*MonthlySummary, error)
	// PurgeDailyBefore deletes daily rows dated before cutoff.
	PurgeDailyBefore(ctx context.Context, cutoff db.Date) (int64, error)
}

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidMonth  = errors.New("invalid_month")
	// ErrStorage means an increment could not be persisted after retries.
	// The event was logged for reconciliation.
	ErrStorage = errors.New("usage_storage_error")
)
