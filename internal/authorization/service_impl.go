package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectTenant  = "tenant"
	ObjectPlan    = "plan"
	ObjectInvoice = "invoice"
	ObjectUsage   = "usage"
	ObjectMessage = "message"
	ObjectCall    = "call"
	ObjectSignup  = "signup"
	ObjectJob     = "job"
)

const (
	ActionTenantView          = "tenant.view"
	ActionTenantActivate      = "tenant.activate"
	ActionTenantSuspend       = "tenant.suspend"
	ActionTenantCancel        = "tenant.cancel"
	ActionTenantRotateSecret  = "tenant.rotate_secret"
	ActionTenantAssignPlan    = "tenant.assign_plan"
	ActionTenantCreditBalance = "tenant.credit_balance"
	ActionTenantConnectWABA   = "tenant.connect_waba"

	ActionPlanView   = "plan.view"
	ActionPlanCreate = "plan.create"
	ActionPlanUpdate = "plan.update"
	ActionPlanDelete = "plan.delete"

	ActionInvoiceView     = "invoice.view"
	ActionInvoiceUpdate   = "invoice.update"
	ActionInvoiceGenerate = "invoice.generate"

	ActionUsageRecord = "usage.record"
	ActionUsageView   = "usage.view"

	ActionMessageSend = "message.send"
	ActionCallManage  = "call.manage"

	ActionSignupInitiate = "signup.initiate"
	ActionSignupView     = "signup.view"

	ActionJobRun = "job.run"
)

const (
	roleAdmin  = "role:admin"
	roleSystem = "role:system"
	roleTenant = "role:tenant"

	domainPlatform = "platform"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer loads policies from the casbin_rule table and seeds the
// built-in role grants.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, object string, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, role, domain, err := resolveActor(strings.TrimSpace(actor))
	if err != nil {
		return err
	}
	if err := s.ensureGrouping(subject, role, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization.denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

// resolveActor maps an actor to its casbin subject, role and domain. Each
// tenant is its own domain.
func resolveActor(actor string) (string, string, string, error) {
	switch {
	case actor == ActorAdmin:
		return actor, roleAdmin, domainPlatform, nil
	case actor == ActorSystem:
		return actor, roleSystem, domainPlatform, nil
	case strings.HasPrefix(actor, tenantPrefix):
		id, err := snowflake.ParseString(strings.TrimPrefix(actor, tenantPrefix))
		if err != nil || id == 0 {
			return "", "", "", ErrInvalidActor
		}
		domain := tenantPrefix + id.String()
		return domain, roleTenant, domain, nil
	}
	return "", "", "", ErrInvalidActor
}

func (s *ServiceImpl) ensureGrouping(subject string, role string, domain string) error {
	has, err := s.enforcer.HasGroupingPolicy(subject, role, domain)
	if err != nil || has {
		return err
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, role, domain)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Tenants act on their own resources only; the domain is theirs.
		{roleTenant, ObjectTenant, ActionTenantView},
		{roleTenant, ObjectUsage, ActionUsageRecord},
		{roleTenant, ObjectUsage, ActionUsageView},
		{roleTenant, ObjectMessage, ActionMessageSend},
		{roleTenant, ObjectCall, ActionCallManage},
		{roleTenant, ObjectInvoice, ActionInvoiceView},
		{roleTenant, ObjectSignup, ActionSignupInitiate},
		{roleTenant, ObjectSignup, ActionSignupView},

		{roleAdmin, ObjectTenant, ActionTenantView},
		{roleAdmin, ObjectTenant, ActionTenantActivate},
		{roleAdmin, ObjectTenant, ActionTenantSuspend},
		{roleAdmin, ObjectTenant, ActionTenantCancel},
		{roleAdmin, ObjectTenant, ActionTenantRotateSecret},
		{roleAdmin, ObjectTenant, ActionTenantAssignPlan},
		{roleAdmin, ObjectTenant, ActionTenantCreditBalance},
		{roleAdmin, ObjectTenant, ActionTenantConnectWABA},
		{roleAdmin, ObjectPlan, ActionPlanView},
		{roleAdmin, ObjectPlan, ActionPlanCreate},
		{roleAdmin, ObjectPlan, ActionPlanUpdate},
		{roleAdmin, ObjectPlan, ActionPlanDelete},
		{roleAdmin, ObjectInvoice, ActionInvoiceView},
		{roleAdmin, ObjectInvoice, ActionInvoiceUpdate},
		{roleAdmin, ObjectInvoice, ActionInvoiceGenerate},
		{roleAdmin, ObjectUsage, ActionUsageView},
		{roleAdmin, ObjectSignup, ActionSignupInitiate},
		{roleAdmin, ObjectSignup, ActionSignupView},
		{roleAdmin, ObjectJob, ActionJobRun},

		{roleSystem, ObjectJob, ActionJobRun},
		{roleSystem, ObjectInvoice, ActionInvoiceGenerate},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
