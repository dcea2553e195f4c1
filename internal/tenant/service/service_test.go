package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/walue/internal/clock"
	plandomain "github.com/smallbiznis/walue/internal/plan/domain"
	planrepository "github.com/smallbiznis/walue/internal/plan/repository"
	planservice "github.com/smallbiznis/walue/internal/plan/service"
	"github.com/smallbiznis/walue/internal/tenant/domain"
	"github.com/smallbiznis/walue/internal/tenant/repository"
	"github.com/smallbiznis/walue/pkg/db/dbtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	svc   domain.Service
	plans plandomain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.New(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))

	plans := planservice.New(planservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: planrepository.Provide(),
	})
	require.NoError(t, plans.EnsureCatalog(context.Background()))

	svc := New(Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: repository.Provide(), Plans: plans,
	})
	return fixture{svc: svc, plans: plans}
}

func register(t *testing.T, svc domain.Service, email string) domain.RegisterResult {
	t.Helper()
	res, err := svc.Register(context.Background(), domain.RegisterRequest{
		Name:     "Acme",
		Email:    email,
		SiteURL:  "https://acme.example.com/",
		PlanCode: "professional",
	})
	require.NoError(t, err)
	return res
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := register(t, f.svc, "ops@acme.io")
	require.NotEmpty(t, res.ClientID)
	require.NotEmpty(t, res.ClientSecret)
	require.Equal(t, domain.RegisteredMessage, res.Message)

	tenant, err := f.svc.GetByClientID(ctx, res.ClientID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, tenant.Status)
	require.Equal(t, "https://acme.example.com", tenant.SiteURL)
	require.NotEqual(t, res.ClientSecret, tenant.ClientSecretHash)
	require.NotNil(t, tenant.PlanID)

	_, err = f.svc.Register(ctx, domain.RegisterRequest{Name: "Other", Email: "OPS@acme.io", SiteURL: "https://x.io"})
	require.ErrorIs(t, err, domain.ErrEmailTaken)

	_, err = f.svc.Register(ctx, domain.RegisterRequest{Name: "Other", Email: "b@acme.io", SiteURL: "https://x.io", PlanCode: "gold"})
	require.ErrorIs(t, err, domain.ErrInvalidPlan)
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := register(t, f.svc, "ops@acme.io").TenantID

	_, err := f.svc.Suspend(ctx, id)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	tenant, err := f.svc.Activate(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, tenant.Status)

	_, err = f.svc.Suspend(ctx, id)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, id)
	require.NoError(t, err)
	tenant, err = f.svc.Activate(ctx, id)
	require.NoError(t, err)

	active, err := f.svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, tenant.ID, active[0].ID)

	_, err = f.svc.List(ctx, domain.ListTenantRequest{Status: "gone"})
	require.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestRotateSecretAndVerifyClient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res := register(t, f.svc, "ops@acme.io")

	_, err := f.svc.VerifyClient(ctx, res.ClientID, res.ClientSecret)
	require.NoError(t, err)

	rotated, err := f.svc.RotateSecret(ctx, res.TenantID)
	require.NoError(t, err)
	require.Equal(t, res.ClientID, rotated.ClientID)
	require.NotEqual(t, res.ClientSecret, rotated.ClientSecret)

	_, err = f.svc.VerifyClient(ctx, res.ClientID, res.ClientSecret)
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = f.svc.VerifyClient(ctx, res.ClientID, rotated.ClientSecret)
	require.NoError(t, err)
	_, err = f.svc.VerifyClient(ctx, "unknown", rotated.ClientSecret)
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestCreditBalanceAndPlan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := register(t, f.svc, "ops@acme.io").TenantID

	_, err := f.svc.CreditBalance(ctx, id, decimal.Zero)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.CreditBalance(ctx, id, decimal.RequireFromString("25.5"))
	require.NoError(t, err)
	tenant, err := f.svc.CreditBalance(ctx, id, decimal.RequireFromString("4.5"))
	require.NoError(t, err)
	require.Equal(t, "30.00", tenant.Balance.StringFixed(2))

	enterprise, err := f.plans.GetByCode(ctx, "enterprise")
	require.NoError(t, err)
	tenant, err = f.svc.AssignPlan(ctx, id, enterprise.ID.String())
	require.NoError(t, err)

	features, err := f.svc.Features(ctx, tenant.ID)
	require.NoError(t, err)
	require.Equal(t, "enterprise", features.Plan)
	require.Contains(t, features.Features, "priority_support")

	_, err = f.svc.AssignPlan(ctx, id, "123")
	require.ErrorIs(t, err, domain.ErrInvalidPlan)
}

func TestConnectWABA(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := register(t, f.svc, "a@acme.io").Tenant
	second := register(t, f.svc, "b@acme.io").Tenant

	tenant, err := f.svc.ConnectWABA(ctx, domain.ConnectWABARequest{
		TenantID:      first.ID,
		WabaID:        "waba-1",
		PhoneNumberID: "phone-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, tenant.Status)

	found, err := f.svc.GetByWabaID(ctx, "waba-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, found.ID)
	require.Equal(t, "phone-1", *found.PhoneNumberID)

	_, err = f.svc.ConnectWABA(ctx, domain.ConnectWABARequest{TenantID: second.ID, WabaID: "waba-1"})
	require.ErrorIs(t, err, domain.ErrWABATaken)

	info, err := f.svc.Info(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, info.WabaConnected)
	require.Equal(t, "waba-1", info.WabaID)
	require.Equal(t, "Professional", info.Plan.Name)
}
