package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

type CreatePlanRequest struct {
	Name                    string          `json:"name"`
	BaseFee                 decimal.Decimal `json:"base_fee"`
	CallMarkupPercentage    decimal.Decimal `json:"call_markup_percentage"`
	MessageMarkupPercentage decimal.Decimal `json:"message_markup_percentage"`
	Features                []string        `json:"features"`
}

type UpdatePlanRequest struct {
	ID                      string           `json:"-"`
	Name                    *string          `json:"name"`
	BaseFee                 *decimal.Decimal `json:"base_fee"`
	CallMarkupPercentage    *decimal.Decimal `json:"call_markup_percentage"`
	MessageMarkupPercentage *decimal.Decimal `json:"message_markup_percentage"`
	Features                []string         `json:"features"`
}

type Service interface {
	Create(ctx context.Context, req CreatePlanRequest) (Plan, error)
	Update(ctx context.Context, req UpdatePlanRequest) (Plan, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Plan, error)
	GetByCode(ctx context.Context, code string) (Plan, error)
	List(ctx context.Context) ([]Plan, error)
	EnsureCatalog(ctx context.Context) error
}

var (
	ErrInvalidID      = errors.New("invalid_id")
	ErrInvalidName    = errors.New("invalid_name")
	ErrInvalidBaseFee = errors.New("invalid_base_fee")
	ErrInvalidMarkup  = errors.New("invalid_markup_percentage")
	ErrCodeTaken      = errors.New("plan_code_taken")
	ErrPlanInUse      = errors.New("plan_in_use")
	ErrNotFound       = errors.New("not_found")
)
