package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type GenerateResult struct {
	Month     string    `json:"month"`
	Generated []Invoice `json:"generated"`
	// Notified counts invoices whose email went out.
	Notified int `json:"notified"`
}

type ListInvoiceRequest struct {
	TenantID snowflake.ID
	Status   InvoiceStatus
}

type Document struct {
	Filename string
	Content  []byte
}

type Service interface {
	// GenerateMonthly invoices every summary of month that is not yet invoiced.
	GenerateMonthly(ctx context.Context, month string) (GenerateResult, error)
	List(ctx context.Context, req ListInvoiceRequest) ([]Invoice, error)
	GetByID(ctx context.Context, tenantID snowflake.ID, id string) (Invoice, error)
	PDF(ctx context.Context, tenantID snowflake.ID, id string) (Document, error)
	UpdateStatus(ctx context.Context, id string, status InvoiceStatus) (Invoice, error)
}

var (
	ErrInvalidInvoice    = errors.New("invalid_invoice")
	ErrInvalidInvoiceID  = errors.New("invalid_invoice_id")
	ErrInvalidPeriod     = errors.New("invalid_invoice_period")
	ErrInvalidAmount     = errors.New("invalid_invoice_amount")
	ErrInvalidStatus     = errors.New("invalid_invoice_status")
	ErrInvalidTransition = errors.New("invalid_invoice_transition")
	ErrPaidAtRequired    = errors.New("paid_at_required")
	ErrInvoiceNotFound   = errors.New("invoice_not_found")
)
