package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, conn *gorm.DB, session *Session) error
	FindByID(ctx context.Context, conn *gorm.DB, id string) (*Session, error)
	// UpdateStatus writes session only if the stored status is still from.
	// It reports whether the row was updated.
	UpdateStatus(ctx context.Context, conn *gorm.DB, session *Session, from Status) (bool, error)
	DeleteCreatedBefore(ctx context.Context, conn *gorm.DB, cutoff time.Time, statuses []Status) (int64, error)
}
