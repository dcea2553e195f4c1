// Package domain holds the short-lived call session kept in the token
// store while a WhatsApp call is set up. Sessions expire on their own and
// are never written to the database.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusInitiating Status = "initiating"
	StatusActive     Status = "active"
	StatusNotFound   Status = "not_found"
)

const sessionKeyPrefix = "call_session:"

// SessionKey is the token store key for a call session id.
func SessionKey(id string) string {
	return sessionKeyPrefix + id
}

// Session carries only routing identifiers. The callee number is not kept.
type Session struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	JanusSessionID int64     `json:"janus_session_id"`
	JanusHandleID  int64     `json:"janus_handle_id"`
	PhoneNumberID  string    `json:"phone_number_id,omitempty"`
	MetaCallID     string    `json:"meta_call_id,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	Status         Status    `json:"status"`
}

type ICEServer struct {
	URLs string `json:"urls"`
}

type CostBreakdown struct {
	BaseCost decimal.Decimal `json:"base_cost"`
	Markup   decimal.Decimal `json:"markup"`
}
