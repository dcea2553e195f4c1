// Package domain holds the aggregated usage counters. Only counts, durations
// and amounts are stored; nothing identifies a call or message.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/walue/internal/validation"
	"github.com/smallbiznis/walue/pkg/db"
)

type Kind string

const (
	KindCall    Kind = "call"
	KindMessage Kind = "message"
)

const MonthLayout = "2006-01"

// DailyUsage is one row per tenant and day. Counters only grow.
type DailyUsage struct {
	TenantID         snowflake.ID    `json:"-"`
	UsageDate        db.Date         `json:"date"`
	TotalCalls       int64           `json:"total_calls"`
	TotalCallMinutes decimal.Decimal `json:"total_call_minutes"`
	TotalMessages    int64           `json:"total_messages"`
	TotalCallCost    decimal.Decimal `json:"total_call_cost"`
	TotalMessageCost decimal.Decimal `json:"total_message_cost"`
	TotalMarkup      decimal.Decimal `json:"total_markup"`
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
	UpdatedAt        time.Time       `json:"-"`
}

func (DailyUsage) TableName() string { return "usage_daily" }

// DailyIncrement is the delta applied to a daily row by one usage event.
type DailyIncrement struct {
	TenantID    snowflake.ID
	Date        db.Date
	Calls       int64
	CallMinutes decimal.Decimal
	Messages    int64
	CallCost    decimal.Decimal
	MessageCost decimal.Decimal
	Markup      decimal.Decimal
}

// Revenue is what the increment adds to total_revenue.
func (i DailyIncrement) Revenue() decimal.Decimal {
	return i.CallCost.Add(i.MessageCost).Add(i.Markup)
}

// NewDailyIncrement validates a usage event and maps it onto the daily
// counters for date.
func NewDailyIncrement(req RecordUsageRequest, date db.Date) (DailyIncrement, error) {
	if req.TenantID == 0 {
		return DailyIncrement{}, ErrInvalidTenant
	}
	if req.Count < 0 {
		return DailyIncrement{}, validation.New("count", "invalid_count", "count must not be negative")
	}
	if req.DurationMinutes.IsNegative() {
		return DailyIncrement{}, validation.New("duration_minutes", "invalid_duration", "duration must not be negative")
	}
	if req.Cost.IsNegative() {
		return DailyIncrement{}, validation.New("cost", "invalid_cost", "cost must not be negative")
	}
	if req.Markup.IsNegative() {
		return DailyIncrement{}, validation.New("markup", "invalid_markup", "markup must not be negative")
	}

	inc := DailyIncrement{
		TenantID:    req.TenantID,
		Date:        date,
		CallMinutes: decimal.Zero,
		CallCost:    decimal.Zero,
		MessageCost: decimal.Zero,
		Markup:      req.Markup.RoundBank(4),
	}
	switch req.Kind {
	case KindCall:
		inc.Calls = req.Count
		inc.CallMinutes = req.DurationMinutes.RoundBank(4)
		inc.CallCost = req.Cost.RoundBank(4)
	case KindMessage:
		inc.Messages = req.Count
		inc.MessageCost = req.Cost.RoundBank(4)
	default:
		return DailyIncrement{}, validation.New("usage_type", "invalid_usage_type", "usage_type must be call or message")
	}
	return inc, nil
}

// MonthlySummary rolls a month of daily rows together with the plan base fee.
type MonthlySummary struct {
	TenantID         snowflake.ID    `json:"customer_id"`
	Month            string          `json:"month"`
	TotalCalls       int64           `json:"total_calls"`
	TotalCallMinutes decimal.Decimal `json:"total_call_minutes"`
	TotalMessages    int64           `json:"total_messages"`
	TotalCallCost    decimal.Decimal `json:"total_call_cost"`
	TotalMessageCost decimal.Decimal `json:"total_message_cost"`
	TotalMarkup      decimal.Decimal `json:"total_markup"`
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
	BaseFee          decimal.Decimal `json:"base_fee"`
	UsageCharges     decimal.Decimal `json:"usage_charges"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	InvoiceGenerated bool            `json:"invoice_generated"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (MonthlySummary) TableName() string { return "usage_monthly" }

// MonthBounds returns the first and last day of a YYYY-MM month.
func MonthBounds(month string) (db.Date, db.Date, error) {
	t, err := time.ParseInLocation(MonthLayout, strings.TrimSpace(month), time.UTC)
	if err != nil {
		return db.Date{}, db.Date{}, fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}
	start := db.NewDate(t)
	end := db.NewDate(t.AddDate(0, 1, -1))
	return start, end, nil
}

func MonthOf(t time.Time) string {
	return t.UTC().Format(MonthLayout)
}

// PreviousMonth returns the month before t's month.
func PreviousMonth(t time.Time) string {
	t = t.UTC()
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, -1, 0).Format(MonthLayout)
}
