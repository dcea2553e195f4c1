package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	plandomain "github.com/smallbiznis/walue/internal/plan/domain"
)

type RegisterRequest struct {
	Name     string `json:"customer_name"`
	Email    string `json:"company_email"`
	SiteURL  string `json:"site_url"`
	PlanCode string `json:"plan"`
}

// RegisterResult carries the only copy of the plaintext client secret.
type RegisterResult struct {
	Tenant       Tenant `json:"-"`
	TenantID     string `json:"customer_id"`
	ClientID     string `json:"oauth_client_id"`
	ClientSecret string `json:"oauth_client_secret"`
	Message      string `json:"message"`
}

type RotateSecretResult struct {
	ClientID     string `json:"oauth_client_id"`
	ClientSecret string `json:"oauth_client_secret"`
}

type ListTenantRequest struct {
	Status string
}

type ConnectWABARequest struct {
	TenantID       snowflake.ID
	WabaID         string
	PhoneNumberID  string
	MetaBusinessID string
}

type PlanInfo struct {
	Name     string          `json:"name"`
	BaseFee  decimal.Decimal `json:"base_fee"`
	Features []string        `json:"features"`
}

type TenantInfo struct {
	TenantID       string          `json:"customer_id"`
	Name           string          `json:"customer_name"`
	Status         Status          `json:"status"`
	WabaConnected  bool            `json:"waba_connected"`
	WabaID         string          `json:"waba_id,omitempty"`
	Plan           *PlanInfo       `json:"subscription_plan"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	BillingCycle   string          `json:"billing_cycle"`
}

type Features struct {
	Plan     string   `json:"plan"`
	Features []string `json:"features"`
}

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (RegisterResult, error)
	Get(ctx context.Context, id snowflake.ID) (Tenant, error)
	GetByClientID(ctx context.Context, clientID string) (Tenant, error)
	GetByWabaID(ctx context.Context, wabaID string) (Tenant, error)
	List(ctx context.Context, req ListTenantRequest) ([]Tenant, error)
	ListActive(ctx context.Context) ([]Tenant, error)

	Activate(ctx context.Context, id string) (Tenant, error)
	Suspend(ctx context.Context, id string) (Tenant, error)
	Cancel(ctx context.Context, id string) (Tenant, error)
	RotateSecret(ctx context.Context, id string) (RotateSecretResult, error)
	AssignPlan(ctx context.Context, id, planID string) (Tenant, error)
	CreditBalance(ctx context.Context, id string, amount decimal.Decimal) (Tenant, error)
	ConnectWABA(ctx context.Context, req ConnectWABARequest) (Tenant, error)

	// VerifyClient checks client credentials regardless of tenant status.
	VerifyClient(ctx context.Context, clientID, clientSecret string) (Tenant, error)
	Plan(ctx context.Context, tenant Tenant) (*plandomain.Plan, error)
	Info(ctx context.Context, id snowflake.ID) (TenantInfo, error)
	Features(ctx context.Context, id snowflake.ID) (Features, error)
}

const RegisteredMessage = "Customer registered. Complete embedded signup to activate."

var (
	ErrInvalidID          = errors.New("invalid_id")
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidEmail       = errors.New("invalid_email")
	ErrInvalidSiteURL     = errors.New("invalid_site_url")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrInvalidTransition  = errors.New("invalid_status_transition")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidPlan        = errors.New("invalid_plan")
	ErrInvalidWABA        = errors.New("invalid_waba_id")
	ErrEmailTaken         = errors.New("email_already_registered")
	ErrWABATaken          = errors.New("waba_already_connected")
	ErrNotFound           = errors.New("not_found")
)
