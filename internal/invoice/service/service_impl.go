package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/walue/internal/clock"
	"github.com/smallbiznis/walue/internal/config"
	invoicedomain "github.com/smallbiznis/walue/internal/invoice/domain"
	invoiceformat "github.com/smallbiznis/walue/internal/invoice/format"
	"github.com/smallbiznis/walue/internal/invoice/render"
	"github.com/smallbiznis/walue/internal/providers/email"
	"github.com/smallbiznis/walue/internal/providers/pdf"
	tenantdomain "github.com/smallbiznis/walue/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/walue/internal/usage/domain"
	"github.com/smallbiznis/walue/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
	Repo      invoicedomain.Repository
	UsageRepo usagedomain.Repository
	Tenants   tenantdomain.Service
	Renderer  render.Renderer
	PDF       pdf.Provider
	Email     email.Provider
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	repo      invoicedomain.Repository
	usageRepo usagedomain.Repository
	tenants   tenantdomain.Service
	renderer  render.Renderer
	pdf       pdf.Provider
	email     email.Provider

	issuerName  string
	issuerEmail string
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: p.Clock,

		repo:      p.Repo,
		usageRepo: p.UsageRepo,
		tenants:   p.Tenants,
		renderer:  p.Renderer,
		pdf:       p.PDF,
		email:     p.Email,

		issuerName:  p.Config.SMTP.FromName,
		issuerEmail: p.Config.SMTP.FromEmail,
	}
}

// GenerateMonthly creates one DRAFT invoice per uninvoiced summary. The
// insert and the invoice_generated flip share a transaction; the unique
// period index and the conditional flip keep concurrent runs from
// invoicing a summary twice. Emails are sent after commit and their
// failures are only logged. A failing tenant does not stop the others; the
// joined failures are returned with the partial result.
func (s *Service) GenerateMonthly(ctx context.Context, month string) (invoicedomain.GenerateResult, error) {
	start, end, err := usagedomain.MonthBounds(month)
	if err != nil {
		return invoicedomain.GenerateResult{}, err
	}
	month = start.Format(usagedomain.MonthLayout)

	summaries, err := s.usageRepo.ListUninvoiced(ctx, s.db, month)
	if err != nil {
		return invoicedomain.GenerateResult{}, err
	}

	result := invoicedomain.GenerateResult{Month: month, Generated: []invoicedomain.Invoice{}}
	var genErr error
	for _, summary := range summaries {
		if summary == nil {
			continue
		}

		inv, created, err := s.generateOne(ctx, summary, start, end)
		if err != nil {
			s.log.Error("invoice generation failed",
				zap.String("tenant_id", summary.TenantID.String()),
				zap.String("month", month),
				zap.Error(err),
			)
			genErr = errors.Join(genErr, fmt.Errorf("tenant %s: %w", summary.TenantID, err))
			continue
		}
		if !created {
			continue
		}
		result.Generated = append(result.Generated, inv)

		if s.notify(ctx, inv) {
			result.Notified++
		}
	}

	s.log.Info("monthly invoices generated",
		zap.String("month", month),
		zap.Int("candidates", len(summaries)),
		zap.Int("generated", len(result.Generated)),
		zap.Int("notified", result.Notified),
	)
	// The summaries that failed keep invoice_generated=false, so a later
	// run picks them up.
	return result, genErr
}

func (s *Service) generateOne(ctx context.Context, summary *usagedomain.MonthlySummary, start, end db.Date) (invoicedomain.Invoice, bool, error) {
	now := s.clock.Now()
	number, err := invoiceformat.FormatInvoiceNumber(invoiceformat.DefaultInvoiceNumberTemplate, start.Time, ulid.Make().String())
	if err != nil {
		return invoicedomain.Invoice{}, false, err
	}

	inv, err := invoicedomain.NewInvoice(invoicedomain.NewInvoiceParams{
		ID:               s.genID.Generate(),
		TenantID:         summary.TenantID,
		Number:           number,
		Month:            summary.Month,
		PeriodStart:      start,
		PeriodEnd:        end,
		TotalCalls:       summary.TotalCalls,
		TotalCallMinutes: summary.TotalCallMinutes,
		TotalMessages:    summary.TotalMessages,
		BaseFee:          summary.BaseFee,
		UsageCharges:     summary.UsageCharges,
		Now:              now,
	})
	if err != nil {
		return invoicedomain.Invoice{}, false, err
	}

	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		flipped, err := s.usageRepo.MarkInvoiced(ctx, tx, summary.TenantID, summary.Month, now)
		if err != nil {
			return err
		}
		if !flipped {
			return nil
		}
		inserted, err := s.repo.Insert(ctx, tx, &inv)
		if err != nil {
			return err
		}
		created = inserted
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, false, err
	}
	return inv, created, nil
}

func (s *Service) notify(ctx context.Context, inv invoicedomain.Invoice) bool {
	log := s.log.With(zap.String("invoice_id", inv.ID.String()), zap.String("tenant_id", inv.TenantID.String()))

	tenant, err := s.tenants.Get(ctx, inv.TenantID)
	if err != nil {
		log.Warn("invoice email skipped", zap.Error(err))
		return false
	}

	doc, err := s.renderPDF(ctx, inv, tenant)
	if err != nil {
		log.Warn("invoice pdf failed", zap.Error(err))
		return false
	}

	body, err := s.renderer.RenderEmail(render.EmailInput{
		TenantName:    tenant.Name,
		Number:        inv.Number,
		MonthTitle:    invoiceformat.MonthTitle(inv.Month),
		PeriodStart:   inv.PeriodStart.String(),
		PeriodEnd:     inv.PeriodEnd.String(),
		DueDate:       inv.DueDate.String(),
		TotalCalls:    inv.TotalCalls,
		TotalMessages: inv.TotalMessages,
		BaseFee:       invoiceformat.Money(inv.BaseFee),
		UsageCharges:  invoiceformat.Money(inv.UsageCharges),
		Total:         invoiceformat.Money(inv.TotalAmount),
	})
	if err != nil {
		log.Warn("invoice email render failed", zap.Error(err))
		return false
	}

	err = s.email.Send(ctx, email.Message{
		To:       []string{tenant.Email},
		Subject:  "Invoice for " + invoiceformat.MonthTitle(inv.Month),
		HTMLBody: body,
		Attachments: []email.Attachment{{
			Filename:    doc.Filename,
			ContentType: "application/pdf",
			Data:        doc.Content,
		}},
	})
	if err != nil {
		log.Warn("invoice email failed", zap.Error(err))
		return false
	}
	return true
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) ([]invoicedomain.Invoice, error) {
	if req.TenantID == 0 {
		return nil, tenantdomain.ErrInvalidID
	}
	if req.Status != "" && !req.Status.Valid() {
		return nil, invoicedomain.ErrInvalidStatus
	}
	items, err := s.repo.List(ctx, s.db, req.TenantID, req.Status)
	if err != nil {
		return nil, err
	}
	out := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, *item)
		}
	}
	return out, nil
}

// GetByID hides invoices of other tenants behind ErrInvoiceNotFound.
func (s *Service) GetByID(ctx context.Context, tenantID snowflake.ID, id string) (invoicedomain.Invoice, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if inv.TenantID != tenantID {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return inv, nil
}

func (s *Service) PDF(ctx context.Context, tenantID snowflake.ID, id string) (invoicedomain.Document, error) {
	inv, err := s.GetByID(ctx, tenantID, id)
	if err != nil {
		return invoicedomain.Document{}, err
	}
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return invoicedomain.Document{}, err
	}
	return s.renderPDF(ctx, inv, tenant)
}

func (s *Service) UpdateStatus(ctx context.Context, id string, status invoicedomain.InvoiceStatus) (invoicedomain.Invoice, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if err := inv.Transition(invoicedomain.InvoiceStatus(strings.ToUpper(string(status))), s.clock.Now()); err != nil {
		return invoicedomain.Invoice{}, err
	}
	if err := s.repo.UpdateStatus(ctx, s.db, &inv); err != nil {
		return invoicedomain.Invoice{}, err
	}
	s.log.Info("invoice status updated", zap.String("invoice_id", inv.ID.String()), zap.String("status", string(inv.Status)))
	return inv, nil
}

func (s *Service) load(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || invoiceID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidInvoiceID
	}
	inv, err := s.repo.FindByID(ctx, s.db, invoiceID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if inv == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return *inv, nil
}

func (s *Service) renderPDF(ctx context.Context, inv invoicedomain.Invoice, tenant tenantdomain.Tenant) (invoicedomain.Document, error) {
	data := pdf.InvoiceData{
		IssuerName:    s.issuerName,
		IssuerEmail:   s.issuerEmail,
		InvoiceNumber: inv.Number,
		Status:        string(inv.Status),
		IssueDate:     inv.CreatedAt.UTC().Format("2006-01-02"),
		DueDate:       inv.DueDate.String(),
		ServicePeriod: fmt.Sprintf("%s to %s", inv.PeriodStart, inv.PeriodEnd),
		BillToName:    tenant.Name,
		BillToEmail:   tenant.Email,
		Items: []pdf.InvoiceItem{
			{
				Description: fmt.Sprintf("Calls (%s min)", inv.TotalCallMinutes.RoundBank(2).String()),
				Qty:         strconv.FormatInt(inv.TotalCalls, 10),
			},
			{
				Description: "Messages",
				Qty:         strconv.FormatInt(inv.TotalMessages, 10),
			},
		},
		BaseFee:      invoiceformat.Money(inv.BaseFee),
		UsageCharges: invoiceformat.Money(inv.UsageCharges),
		Total:        invoiceformat.Money(inv.TotalAmount),
	}
	if inv.PaidAt != nil {
		data.PaidDate = inv.PaidAt.UTC().Format("2006-01-02")
	}

	content, err := s.pdf.GenerateInvoice(ctx, data)
	if err != nil {
		return invoicedomain.Document{}, err
	}
	if len(content) == 0 {
		return invoicedomain.Document{}, errors.New("empty invoice document")
	}
	return invoicedomain.Document{Filename: inv.Number + ".pdf", Content: content}, nil
}
