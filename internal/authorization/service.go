package authorization

import (
	"context"
	"errors"
)

// Service decides whether an actor may perform action on object.
// Actors are "admin", "system" or "tenant:<id>".
type Service interface {
	Authorize(ctx context.Context, actor string, object string, action string) error
}

const (
	ActorAdmin   = "admin"
	ActorSystem  = "system"
	tenantPrefix = "tenant:"
)

// TenantActor returns the actor string for a tenant id.
func TenantActor(tenantID string) string {
	return tenantPrefix + tenantID
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)
