package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/walue/internal/tenant/domain"
	"gorm.io/gorm"
)

const tenantColumns = `id, name, email, status, client_id, client_secret_hash, site_url,
	waba_id, phone_number_id, meta_business_id, plan_id, balance, billing_cycle,
	created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tenant *domain.Tenant) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO tenants (`+tenantColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tenant.ID,
		tenant.Name,
		tenant.Email,
		tenant.Status,
		tenant.ClientID,
		tenant.ClientSecretHash,
		tenant.SiteURL,
		tenant.WabaID,
		tenant.PhoneNumberID,
		tenant.MetaBusinessID,
		tenant.PlanID,
		tenant.Balance,
		tenant.BillingCycle,
		tenant.CreatedAt,
		tenant.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Tenant, error) {
	return r.findOne(ctx, db, `id = ?`, id)
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Tenant, error) {
	return r.findOne(ctx, db, `email = ?`, email)
}

func (r *repo) FindByClientID(ctx context.Context, db *gorm.DB, clientID string) (*domain.Tenant, error) {
	return r.findOne(ctx, db, `client_id = ?`, clientID)
}

func (r *repo) FindByWabaID(ctx context.Context, db *gorm.DB, wabaID string) (*domain.Tenant, error) {
	return r.findOne(ctx, db, `waba_id = ?`, wabaID)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, status domain.Status) ([]*domain.Tenant, error) {
	var tenants []*domain.Tenant
	stmt := db.WithContext(ctx)
	var err error
	if status == "" {
		err = stmt.Raw(`SELECT ` + tenantColumns + ` FROM tenants ORDER BY created_at ASC, id ASC`).
			Scan(&tenants).Error
	} else {
		err = stmt.Raw(`SELECT `+tenantColumns+` FROM tenants WHERE status = ? ORDER BY created_at ASC, id ASC`, status).
			Scan(&tenants).Error
	}
	if err != nil {
		return nil, err
	}
	return tenants, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, tenant *domain.Tenant) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tenants SET status = ?, updated_at = ? WHERE id = ?`,
		tenant.Status,
		tenant.UpdatedAt,
		tenant.ID,
	).Error
}

func (r *repo) UpdateSecret(ctx context.Context, db *gorm.DB, tenant *domain.Tenant) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tenants SET client_secret_hash = ?, updated_at = ? WHERE id = ?`,
		tenant.ClientSecretHash,
		tenant.UpdatedAt,
		tenant.ID,
	).Error
}

func (r *repo) UpdatePlan(ctx context.Context, db *gorm.DB, tenant *domain.Tenant) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tenants SET plan_id = ?, updated_at = ? WHERE id = ?`,
		tenant.PlanID,
		tenant.UpdatedAt,
		tenant.ID,
	).Error
}

func (r *repo) UpdateWABA(ctx context.Context, db *gorm.DB, tenant *domain.Tenant) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tenants
		 SET waba_id = ?, phone_number_id = ?, meta_business_id = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		tenant.WabaID,
		tenant.PhoneNumberID,
		tenant.MetaBusinessID,
		tenant.Status,
		tenant.UpdatedAt,
		tenant.ID,
	).Error
}

func (r *repo) AddBalance(ctx context.Context, db *gorm.DB, id snowflake.ID, amount decimal.Decimal) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tenants SET balance = balance + ? WHERE id = ?`,
		amount,
		id,
	).Error
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := db.WithContext(ctx).Raw(
		`SELECT `+tenantColumns+` FROM tenants WHERE `+where,
		arg,
	).Scan(&tenant).Error
	if err != nil {
		return nil, err
	}
	if tenant.ID == 0 {
		return nil, nil
	}
	return &tenant, nil
}
