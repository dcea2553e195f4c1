// Package domain contains the invoice model and its lifecycle rules.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/walue/pkg/db"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "DRAFT"
	InvoiceStatusSent    InvoiceStatus = "SENT"
	InvoiceStatusPaid    InvoiceStatus = "PAID"
	InvoiceStatusOverdue InvoiceStatus = "OVERDUE"
)

var transitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:   {InvoiceStatusSent, InvoiceStatusPaid},
	InvoiceStatusSent:    {InvoiceStatusPaid, InvoiceStatusOverdue},
	InvoiceStatusOverdue: {InvoiceStatusPaid},
}

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid, InvoiceStatusOverdue:
		return true
	}
	return false
}

func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DueAfter is how long after issue an invoice falls due.
const DueAfter = 14 * 24 * time.Hour

// Invoice mirrors the monthly summary it was generated from.
type Invoice struct {
	ID               snowflake.ID    `json:"id"`
	TenantID         snowflake.ID    `json:"customer_id"`
	Number           string          `json:"invoice_number"`
	Month            string          `json:"month"`
	PeriodStart      db.Date         `json:"period_start"`
	PeriodEnd        db.Date         `json:"period_end"`
	TotalCalls       int64           `json:"total_calls"`
	TotalCallMinutes decimal.Decimal `json:"total_call_minutes"`
	TotalMessages    int64           `json:"total_messages"`
	BaseFee          decimal.Decimal `json:"base_fee"`
	UsageCharges     decimal.Decimal `json:"usage_charges"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	Status           InvoiceStatus   `json:"status"`
	DueDate          db.Date         `json:"due_date"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (Invoice) TableName() string { return "invoices" }

type NewInvoiceParams struct {
	ID               snowflake.ID
	TenantID         snowflake.ID
	Number           string
	Month            string
	PeriodStart      db.Date
	PeriodEnd        db.Date
	TotalCalls       int64
	TotalCallMinutes decimal.Decimal
	TotalMessages    int64
	BaseFee          decimal.Decimal
	UsageCharges     decimal.Decimal
	Now              time.Time
}

// NewInvoice builds a DRAFT invoice and enforces the period and amount rules.
func NewInvoice(p NewInvoiceParams) (Invoice, error) {
	if p.ID == 0 || p.TenantID == 0 {
		return Invoice{}, ErrInvalidInvoice
	}
	if p.Number == "" {
		return Invoice{}, ErrInvalidInvoice
	}
	if p.PeriodStart.IsZero() || p.PeriodEnd.IsZero() || p.PeriodEnd.Before(p.PeriodStart) {
		return Invoice{}, ErrInvalidPeriod
	}
	if p.BaseFee.IsNegative() || p.UsageCharges.IsNegative() {
		return Invoice{}, ErrInvalidAmount
	}

	now := p.Now.UTC()
	return Invoice{
		ID:               p.ID,
		TenantID:         p.TenantID,
		Number:           p.Number,
		Month:            p.Month,
		PeriodStart:      p.PeriodStart,
		PeriodEnd:        p.PeriodEnd,
		TotalCalls:       p.TotalCalls,
		TotalCallMinutes: p.TotalCallMinutes.RoundBank(4),
		TotalMessages:    p.TotalMessages,
		BaseFee:          p.BaseFee.RoundBank(4),
		UsageCharges:     p.UsageCharges.RoundBank(4),
		TotalAmount:      p.BaseFee.Add(p.UsageCharges).RoundBank(4),
		Status:           InvoiceStatusDraft,
		DueDate:          db.NewDate(now.Add(DueAfter)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Transition moves the invoice to next. Paying stamps paid_at.
func (i *Invoice) Transition(next InvoiceStatus, now time.Time) error {
	if !next.Valid() {
		return ErrInvalidStatus
	}
	if !i.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	i.Status = next
	i.UpdatedAt = now.UTC()
	if next == InvoiceStatusPaid {
		paidAt := now.UTC()
		i.PaidAt = &paidAt
	}
	return i.validate()
}

func (i Invoice) validate() error {
	if i.PeriodEnd.Before(i.PeriodStart) {
		return ErrInvalidPeriod
	}
	if i.Status == InvoiceStatusPaid && i.PaidAt == nil {
		return ErrPaidAtRequired
	}
	return nil
}
