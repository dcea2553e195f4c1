package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Tenant, error)
	FindByClientID(ctx context.Context, db *gorm.DB, clientID string) (*Tenant, error)
	FindByWabaID(ctx context.Context, db *gorm.DB, wabaID string) (*Tenant, error)
	List(ctx context.Context, db *gorm.DB, status Status) ([]*Tenant, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	UpdateSecret(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	UpdatePlan(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	UpdateWABA(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	// AddBalance applies a delta in a single statement.
	AddBalance(ctx context.Context, db *gorm.DB, id snowflake.ID, amount decimal.Decimal) error
}
