package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert reports false when an invoice for the same tenant and period exists.
	Insert(ctx context.Context, conn *gorm.DB, invoice *Invoice) (bool, error)
	FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID, status InvoiceStatus) ([]*Invoice, error)
	UpdateStatus(ctx context.Context, conn *gorm.DB, invoice *Invoice) error
}
