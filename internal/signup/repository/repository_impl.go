package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/walue/internal/signup/domain"
	"gorm.io/gorm"
)

const sessionColumns = `id, tenant_id, status, waba_id, phone_number_id, business_id,
	error_message, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, s *domain.Session) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO signup_sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID,
		s.TenantID,
		s.Status,
		s.WabaID,
		s.PhoneNumberID,
		s.BusinessID,
		s.ErrorMessage,
		s.CreatedAt,
		s.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id string) (*domain.Session, error) {
	var s domain.Session
	err := conn.WithContext(ctx).Raw(
		`SELECT `+sessionColumns+` FROM signup_sessions WHERE id = ? LIMIT 1`,
		id,
	).Scan(&s).Error
	if err != nil {
		return nil, err
	}
	if s.ID == "" {
		return nil, nil
	}
	return &s, nil
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, s *domain.Session, from domain.Status) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE signup_sessions
		 SET status = ?, waba_id = ?, phone_number_id = ?, business_id = ?,
		     error_message = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		s.Status,
		s.WabaID,
		s.PhoneNumberID,
		s.BusinessID,
		s.ErrorMessage,
		s.UpdatedAt,
		s.ID,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) DeleteCreatedBefore(ctx context.Context, conn *gorm.DB, cutoff time.Time, statuses []domain.Status) (int64, error) {
	res := conn.WithContext(ctx).Exec(
		`DELETE FROM signup_sessions WHERE created_at < ? AND status IN ?`,
		cutoff,
		statuses,
	)
	return res.RowsAffected, res.Error
}
