package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/walue/internal/auth/password"
	"github.com/smallbiznis/walue/internal/clock"
	plandomain "github.com/smallbiznis/walue/internal/plan/domain"
	"github.com/smallbiznis/walue/internal/tenant/domain"
	"github.com/smallbiznis/walue/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// dummyHash keeps VerifyClient timing similar for unknown client ids.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z1U3nP1YFzEYtG6vC1pZ3XqK"

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
	Plans plandomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
	plans plandomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("tenant.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		plans: p.Plans,
	}
}

func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (domain.RegisterResult, error) {
	email, err := domain.NormalizeEmail(req.Email)
	if err != nil {
		return domain.RegisterResult{}, err
	}

	var planID *snowflake.ID
	if code := strings.TrimSpace(req.PlanCode); code != "" {
		plan, err := s.plans.GetByCode(ctx, code)
		if err != nil {
			if errors.Is(err, plandomain.ErrNotFound) {
				return domain.RegisterResult{}, domain.ErrInvalidPlan
			}
			return domain.RegisterResult{}, err
		}
		planID = &plan.ID
	}

	existing, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return domain.RegisterResult{}, err
	}
	if existing != nil {
		return domain.RegisterResult{}, domain.ErrEmailTaken
	}

	clientID, err := password.RandomToken(password.ClientIDBytes)
	if err != nil {
		return domain.RegisterResult{}, err
	}
	secret, err := password.RandomToken(password.ClientSecretBytes)
	if err != nil {
		return domain.RegisterResult{}, err
	}
	hash, err := password.Hash(secret)
	if err != nil {
		return domain.RegisterResult{}, err
	}

	tenant, err := domain.NewTenant(s.genID.Generate(), req.Name, email, req.SiteURL, clientID, hash, planID, s.clock.Now())
	if err != nil {
		return domain.RegisterResult{}, err
	}
	if err := s.repo.Insert(ctx, s.db, &tenant); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.RegisterResult{}, domain.ErrEmailTaken
		}
		return domain.RegisterResult{}, err
	}

	s.log.Info("tenant registered", zap.String("tenant_id", tenant.ID.String()))
	return domain.RegisterResult{
		Tenant:       tenant,
		TenantID:     tenant.ID.String(),
		ClientID:     clientID,
		ClientSecret: secret,
		Message:      domain.RegisteredMessage,
	}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Tenant, error) {
	if id == 0 {
		return domain.Tenant{}, domain.ErrInvalidID
	}
	return s.found(s.repo.FindByID(ctx, s.db, id))
}

func (s *Service) GetByClientID(ctx context.Context, clientID string) (domain.Tenant, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return domain.Tenant{}, domain.ErrNotFound
	}
	return s.found(s.repo.FindByClientID(ctx, s.db, clientID))
}

func (s *Service) GetByWabaID(ctx context.Context, wabaID string) (domain.Tenant, error) {
	wabaID = strings.TrimSpace(wabaID)
	if wabaID == "" {
		return domain.Tenant{}, domain.ErrInvalidWABA
	}
	return s.found(s.repo.FindByWabaID(ctx, s.db, wabaID))
}

func (s *Service) List(ctx context.Context, req domain.ListTenantRequest) ([]domain.Tenant, error) {
	status := domain.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	if status != "" && !status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	items, err := s.repo.List(ctx, s.db, status)
	if err != nil {
		return nil, err
	}
	tenants := make([]domain.Tenant, 0, len(items))
	for _, item := range items {
		if item != nil {
			tenants = append(tenants, *item)
		}
	}
	return tenants, nil
}

func (s *Service) ListActive(ctx context.Context) ([]domain.Tenant, error) {
	return s.List(ctx, domain.ListTenantRequest{Status: string(domain.StatusActive)})
}

func (s *Service) Activate(ctx context.Context, id string) (domain.Tenant, error) {
	return s.transition(ctx, id, domain.StatusActive)
}

func (s *Service) Suspend(ctx context.Context, id string) (domain.Tenant, error) {
	return s.transition(ctx, id, domain.StatusSuspended)
}

func (s *Service) Cancel(ctx context.Context, id string) (domain.Tenant, error) {
	return s.transition(ctx, id, domain.StatusCancelled)
}

func (s *Service) transition(ctx context.Context, rawID string, next domain.Status) (domain.Tenant, error) {
	tenant, err := s.load(ctx, rawID)
	if err != nil {
		return domain.Tenant{}, err
	}
	previous := tenant.Status
	if err := tenant.Transition(next, s.clock.Now()); err != nil {
		return domain.Tenant{}, err
	}
	if err := s.repo.UpdateStatus(ctx, s.db, &tenant); err != nil {
		return domain.Tenant{}, err
	}
	s.log.Info("tenant status changed",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("from", string(previous)),
		zap.String("to", string(next)),
	)
	return tenant, nil
}

func (s *Service) RotateSecret(ctx context.Context, id string) (domain.RotateSecretResult, error) {
	tenant, err := s.load(ctx, id)
	if err != nil {
		return domain.RotateSecretResult{}, err
	}
	secret, err := password.RandomToken(password.ClientSecretBytes)
	if err != nil {
		return domain.RotateSecretResult{}, err
	}
	hash, err := password.Hash(secret)
	if err != nil {
		return domain.RotateSecretResult{}, err
	}
	tenant.ClientSecretHash = hash
	tenant.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateSecret(ctx, s.db, &tenant); err != nil {
		return domain.RotateSecretResult{}, err
	}
	s.log.Info("tenant client secret rotated", zap.String("tenant_id", tenant.ID.String()))
	return domain.RotateSecretResult{ClientID: tenant.ClientID, ClientSecret: secret}, nil
}

func (s *Service) AssignPlan(ctx context.Context, id, planID string) (domain.Tenant, error) {
	tenant, err := s.load(ctx, id)
	if err != nil {
		return domain.Tenant{}, err
	}
	plan, err := s.plans.Get(ctx, planID)
	if err != nil {
		if errors.Is(err, plandomain.ErrNotFound) || errors.Is(err, plandomain.ErrInvalidID) {
			return domain.Tenant{}, domain.ErrInvalidPlan
		}
		return domain.Tenant{}, err
	}
	tenant.PlanID = &plan.ID
	tenant.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdatePlan(ctx, s.db, &tenant); err != nil {
		return domain.Tenant{}, err
	}
	return tenant, nil
}

func (s *Service) CreditBalance(ctx context.Context, id string, amount decimal.Decimal) (domain.Tenant, error) {
	if !amount.IsPositive() {
		return domain.Tenant{}, domain.ErrInvalidAmount
	}
	tenant, err := s.load(ctx, id)
	if err != nil {
		return domain.Tenant{}, err
	}
	if err := s.repo.AddBalance(ctx, s.db, tenant.ID, amount.RoundBank(4)); err != nil {
		return domain.Tenant{}, err
	}
	s.log.Info("tenant balance credited",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("amount", amount.StringFixedBank(4)),
	)
	return s.Get(ctx, tenant.ID)
}

// ConnectWABA stores the WhatsApp Business Account ids. A PENDING tenant
// becomes ACTIVE once onboarding completes.
func (s *Service) ConnectWABA(ctx context.Context, req domain.ConnectWABARequest) (domain.Tenant, error) {
	wabaID := strings.TrimSpace(req.WabaID)
	if wabaID == "" {
		return domain.Tenant{}, domain.ErrInvalidWABA
	}
	tenant, err := s.Get(ctx, req.TenantID)
	if err != nil {
		return domain.Tenant{}, err
	}
	other, err := s.repo.FindByWabaID(ctx, s.db, wabaID)
	if err != nil {
		return domain.Tenant{}, err
	}
	if other != nil && other.ID != tenant.ID {
		return domain.Tenant{}, domain.ErrWABATaken
	}

	now := s.clock.Now()
	tenant.WabaID = &wabaID
	tenant.PhoneNumberID = optional(req.PhoneNumberID)
	tenant.MetaBusinessID = optional(req.MetaBusinessID)
	tenant.UpdatedAt = now
	if tenant.Status == domain.StatusPending {
		if err := tenant.Transition(domain.StatusActive, now); err != nil {
			return domain.Tenant{}, err
		}
	}
	if err := s.repo.UpdateWABA(ctx, s.db, &tenant); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Tenant{}, domain.ErrWABATaken
		}
		return domain.Tenant{}, err
	}
	s.log.Info("tenant whatsapp account connected", zap.String("tenant_id", tenant.ID.String()))
	return tenant, nil
}

func (s *Service) VerifyClient(ctx context.Context, clientID, clientSecret string) (domain.Tenant, error) {
	tenant, err := s.GetByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			password.Verify(clientSecret, dummyHash)
			return domain.Tenant{}, domain.ErrInvalidCredentials
		}
		return domain.Tenant{}, err
	}
	if !password.Verify(clientSecret, tenant.ClientSecretHash) {
		return domain.Tenant{}, domain.ErrInvalidCredentials
	}
	return tenant, nil
}

// Plan returns the tenant's plan or nil when none is assigned.
func (s *Service) Plan(ctx context.Context, tenant domain.Tenant) (*plandomain.Plan, error) {
	if tenant.PlanID == nil || *tenant.PlanID == 0 {
		return nil, nil
	}
	plan, err := s.plans.Get(ctx, tenant.PlanID.String())
	if err != nil {
		if errors.Is(err, plandomain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (s *Service) Info(ctx context.Context, id snowflake.ID) (domain.TenantInfo, error) {
	tenant, err := s.Get(ctx, id)
	if err != nil {
		return domain.TenantInfo{}, err
	}
	plan, err := s.Plan(ctx, tenant)
	if err != nil {
		return domain.TenantInfo{}, err
	}

	info := domain.TenantInfo{
		TenantID:       tenant.ID.String(),
		Name:           tenant.Name,
		Status:         tenant.Status,
		WabaConnected:  tenant.WabaConnected(),
		CurrentBalance: tenant.Balance.RoundBank(4),
		BillingCycle:   tenant.BillingCycle,
	}
	if tenant.WabaID != nil {
		info.WabaID = *tenant.WabaID
	}
	if plan != nil {
		info.Plan = &domain.PlanInfo{
			Name:     plan.Name,
			BaseFee:  plan.BaseFee,
			Features: []string(plan.Features),
		}
	}
	return info, nil
}

func (s *Service) Features(ctx context.Context, id snowflake.ID) (domain.Features, error) {
	tenant, err := s.Get(ctx, id)
	if err != nil {
		return domain.Features{}, err
	}
	plan, err := s.Plan(ctx, tenant)
	if err != nil {
		return domain.Features{}, err
	}
	if plan == nil {
		return domain.Features{Features: []string{}}, nil
	}
	return domain.Features{Plan: plan.Code, Features: []string(plan.Features)}, nil
}

func (s *Service) load(ctx context.Context, raw string) (domain.Tenant, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return domain.Tenant{}, domain.ErrInvalidID
	}
	return s.Get(ctx, id)
}

func (s *Service) found(tenant *domain.Tenant, err error) (domain.Tenant, error) {
	if err != nil {
		return domain.Tenant{}, err
	}
	if tenant == nil {
		return domain.Tenant{}, domain.ErrNotFound
	}
	return *tenant, nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
