package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/walue/internal/clock"
	"github.com/smallbiznis/walue/internal/config"
	invoicedomain "github.com/smallbiznis/walue/internal/invoice/domain"
	"github.com/smallbiznis/walue/internal/invoice/render"
	"github.com/smallbiznis/walue/internal/invoice/repository"
	"github.com/smallbiznis/walue/internal/providers/email"
	"github.com/smallbiznis/walue/internal/providers/pdf"
	"github.com/smallbiznis/walue/internal/tenant/tenanttest"
	usagedomain "github.com/smallbiznis/walue/internal/usage/domain"
	usagerepository "github.com/smallbiznis/walue/internal/usage/repository"
	usageservice "github.com/smallbiznis/walue/internal/usage/service"
	"github.com/smallbiznis/walue/pkg/db/dbtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg email.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakePDF struct{}

func (fakePDF) GenerateInvoice(_ context.Context, data pdf.InvoiceData) ([]byte, error) {
	return []byte("%PDF-1.4 " + data.InvoiceNumber), nil
}

type fixture struct {
	svc    invoicedomain.Service
	usage  usagedomain.Service
	env    tenanttest.Env
	mailer *fakeMailer
	clock  *clock.FakeClock
}

// failingRepo fails Insert for one tenant until cleared.
type failingRepo struct {
	invoicedomain.Repository
	mu     sync.Mutex
	tenant snowflake.ID
}

func (r *failingRepo) failFor(id snowflake.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenant = id
}

func (r *failingRepo) Insert(ctx context.Context, conn *gorm.DB, inv *invoicedomain.Invoice) (bool, error) {
	r.mu.Lock()
	fail := r.tenant != 0 && r.tenant == inv.TenantID
	r.mu.Unlock()
	if fail {
		return false, errors.New("insert invoice: disk I/O error")
	}
	return r.Repository.Insert(ctx, conn, inv)
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	return newFixtureWithRepo(t, repository.Provide())
}

func newFixtureWithRepo(t *testing.T, repo invoicedomain.Repository) fixture {
	t.Helper()
	conn := dbtest.New(t)
	clk := clock.NewFakeClock(time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC))
	env := tenanttest.New(t, conn, clk)
	usageRepo := usagerepository.Provide()

	usage := usageservice.New(usageservice.Params{
		DB:      conn,
		Log:     zap.NewNop(),
		Clock:   clk,
		Repo:    usageRepo,
		Tenants: env.Tenants,
	})
	mailer := &fakeMailer{}
	svc := NewService(ServiceParam{
		DB:        conn,
		Log:       zap.NewNop(),
		GenID:     env.GenID,
		Clock:     clk,
		Config:    config.Config{SMTP: config.SMTPConfig{FromName: "Walue Billing", FromEmail: "billing@walue.local"}},
		Repo:      repo,
		UsageRepo: usageRepo,
		Tenants:   env.Tenants,
		Renderer:  render.NewRenderer(),
		PDF:       fakePDF{},
		Email:     mailer,
	})
	return fixture{svc: svc, usage: usage, env: env, mailer: mailer, clock: clk}
}

// seed registers a tenant, records one message in February 2025 and rolls
// the month up.
func (f fixture) seed(t *testing.T, email string) snowflake.ID {
	t.Helper()
	ctx := context.Background()
	res := f.env.Register(t, email, "starter", true)
	id, err := snowflake.ParseString(res.TenantID)
	require.NoError(t, err)

	require.NoError(t, f.usage.RecordUsage(ctx, usagedomain.RecordUsageRequest{
		TenantID: id,
		Kind:     usagedomain.KindMessage,
		Count:    1,
		Cost:     decimal.RequireFromString("7.5"),
	}))
	_, err = f.usage.AggregateMonth(ctx, id, "2025-02")
	require.NoError(t, err)
	return id
}

func TestGenerateMonthlyCreatesDraftAndEmails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := f.seed(t, "owner@acme.example.com")
	f.clock.Set(time.Date(2025, 3, 1, 0, 30, 0, 0, time.UTC))

	res, err := f.svc.GenerateMonthly(ctx, "2025-02")
	require.NoError(t, err)
	require.Len(t, res.Generated, 1)
	require.Equal(t, 1, res.Notified)

	inv := res.Generated[0]
	require.Equal(t, tenantID, inv.TenantID)
	require.Equal(t, invoicedomain.InvoiceStatusDraft, inv.Status)
	require.Equal(t, "2025-02-01", inv.PeriodStart.String())
	require.Equal(t, "2025-02-28", inv.PeriodEnd.String())
	require.Equal(t, "36.50", inv.TotalAmount.StringFixed(2))
	require.Regexp(t, `^INV-202502-[0-9A-Z]{26}$`, inv.Number)

	require.Len(t, f.mailer.sent, 1)
	msg := f.mailer.sent[0]
	require.Equal(t, "Invoice for February 2025", msg.Subject)
	require.Equal(t, []string{"owner@acme.example.com"}, msg.To)
	require.Len(t, msg.Attachments, 1)
	require.Equal(t, inv.Number+".pdf", msg.Attachments[0].Filename)
	require.Equal(t, "application/pdf", msg.Attachments[0].ContentType)

	summary, err := f.usage.GetMonthly(ctx, tenantID, "2025-02")
	require.NoError(t, err)
	require.True(t, summary.InvoiceGenerated)
}

func TestGenerateMonthlyNeverDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := f.seed(t, "dup@acme.example.com")
	f.clock.Set(time.Date(2025, 3, 1, 0, 30, 0, 0, time.UTC))

	var wg sync.WaitGroup
	counts := make(chan int, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.GenerateMonthly(ctx, "2025-02")
			if err == nil {
				counts <- len(res.Generated)
			}
		}()
	}
	wg.Wait()
	close(counts)
	total := 0
	for c := range counts {
		total += c
	}
	require.Equal(t, 1, total)

	// Re-aggregating an invoiced month must not reopen it.
	_, err := f.usage.AggregateMonth(ctx, tenantID, "2025-02")
	require.NoError(t, err)
	res, err := f.svc.GenerateMonthly(ctx, "2025-02")
	require.NoError(t, err)
	require.Empty(t, res.Generated)

	items, err := f.svc.List(ctx, invoicedomain.ListInvoiceRequest{TenantID: tenantID})
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestGenerateMonthlyEmailFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "mailfail@acme.example.com")
	f.mailer.err = errors.New("smtp: connection refused")

	res, err := f.svc.GenerateMonthly(ctx, "2025-02")
	require.NoError(t, err)
	require.Len(t, res.Generated, 1)
	require.Zero(t, res.Notified)
}

func TestGenerateMonthlyReportsTenantFailureAndRetries(t *testing.T) {
	repo := &failingRepo{Repository: repository.Provide()}
	f := newFixtureWithRepo(t, repo)
	ctx := context.Background()
	broken := f.seed(t, "broken@acme.example.com")
	healthy := f.seed(t, "healthy@acme.example.com")
	repo.failFor(broken)

	res, err := f.svc.GenerateMonthly(ctx, "2025-02")
	require.Error(t, err)
	require.ErrorContains(t, err, broken.String())
	require.Len(t, res.Generated, 1)
	require.Equal(t, healthy, res.Generated[0].TenantID)

	summary, err := f.usage.GetMonthly(ctx, broken, "2025-02")
	require.NoError(t, err)
	require.NotNil(t, summary)
	require.False(t, summary.InvoiceGenerated)

	repo.failFor(0)
	res, err = f.svc.GenerateMonthly(ctx, "2025-02")
	require.NoError(t, err)
	require.Len(t, res.Generated, 1)
	require.Equal(t, broken, res.Generated[0].TenantID)

	invoices, err := f.svc.List(ctx, invoicedomain.ListInvoiceRequest{TenantID: broken})
	require.NoError(t, err)
	require.Len(t, invoices, 1)
}

func TestGenerateMonthlyRejectsBadMonth(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GenerateMonthly(context.Background(), "February")
	require.ErrorIs(t, err, usagedomain.ErrInvalidMonth)
}

func TestInvoiceAccessIsTenantScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.seed(t, "owner@scoped.example.com")
	other := f.seed(t, "other@scoped.example.com")

	res, err := f.svc.GenerateMonthly(ctx, "2025-02")
	require.NoError(t, err)
	require.Len(t, res.Generated, 2)

	var mine invoicedomain.Invoice
	for _, inv := range res.Generated {
		if inv.TenantID == owner {
			mine = inv
		}
	}
	require.NotZero(t, mine.ID)

	got, err := f.svc.GetByID(ctx, owner, mine.ID.String())
	require.NoError(t, err)
	require.Equal(t, mine.Number, got.Number)

	_, err = f.svc.GetByID(ctx, other, mine.ID.String())
	require.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
	_, err = f.svc.PDF(ctx, other, mine.ID.String())
	require.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
	_, err = f.svc.GetByID(ctx, owner, "not-an-id")
	require.ErrorIs(t, err, invoicedomain.ErrInvalidInvoiceID)

	doc, err := f.svc.PDF(ctx, owner, mine.ID.String())
	require.NoError(t, err)
	require.Equal(t, mine.Number+".pdf", doc.Filename)
	require.Contains(t, string(doc.Content), mine.Number)
}

func TestUpdateStatusToPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenantID := f.seed(t, "pay@acme.example.com")

	res, err := f.svc.GenerateMonthly(ctx, "2025-02")
	require.NoError(t, err)
	id := res.Generated[0].ID.String()

	_, err = f.svc.UpdateStatus(ctx, id, "overdue")
	require.ErrorIs(t, err, invoicedomain.ErrInvalidTransition)

	paid, err := f.svc.UpdateStatus(ctx, id, "paid")
	require.NoError(t, err)
	require.Equal(t, invoicedomain.InvoiceStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	items, err := f.svc.List(ctx, invoicedomain.ListInvoiceRequest{TenantID: tenantID, Status: invoicedomain.InvoiceStatusPaid})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].PaidAt)
}
