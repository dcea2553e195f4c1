// Package tenanttest wires real tenant and plan services over a test database.
package tenanttest

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/walue/internal/clock"
	plandomain "github.com/smallbiznis/walue/internal/plan/domain"
	planrepository "github.com/smallbiznis/walue/internal/plan/repository"
	planservice "github.com/smallbiznis/walue/internal/plan/service"
	"github.com/smallbiznis/walue/internal/tenant/domain"
	"github.com/smallbiznis/walue/internal/tenant/repository"
	"github.com/smallbiznis/walue/internal/tenant/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Env struct {
	Tenants domain.Service
	Plans   plandomain.Service
	GenID   *snowflake.Node
}

// New seeds the plan catalog and returns services sharing conn.
func New(t *testing.T, conn *gorm.DB, clk clock.Clock) Env {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	plans := planservice.New(planservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: planrepository.Provide(),
	})
	if err := plans.EnsureCatalog(context.Background()); err != nil {
		t.Fatalf("seed plans: %v", err)
	}
	tenants := service.New(service.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: repository.Provide(), Plans: plans,
	})
	return Env{Tenants: tenants, Plans: plans, GenID: node}
}

// Register creates a tenant on planCode, activating it when active is set.
func (e Env) Register(t *testing.T, email, planCode string, active bool) domain.RegisterResult {
	t.Helper()
	ctx := context.Background()
	res, err := e.Tenants.Register(ctx, domain.RegisterRequest{
		Name:     "Tenant " + email,
		Email:    email,
		SiteURL:  "https://acme.example.com",
		PlanCode: planCode,
	})
	if err != nil {
		t.Fatalf("register tenant: %v", err)
	}
	if active {
		tenant, err := e.Tenants.Activate(ctx, res.TenantID)
		if err != nil {
			t.Fatalf("activate tenant: %v", err)
		}
		res.Tenant = tenant
	}
	return res
}
