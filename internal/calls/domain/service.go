package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type InitiateRequest struct {
	TenantID      snowflake.ID `json:"-"`
	PhoneNumberID string       `json:"phone_number_id"`
	AccessToken   string       `json:"access_token"`
	To            string       `json:"to"`
	FromNumber    string       `json:"from_number"`
	// SDP is the caller's WebRTC offer. When present the call is also
	// connected through the Cloud API calling endpoint.
	SDP string `json:"sdp"`
}

type InitiateResult struct {
	Success        bool        `json:"success"`
	CallSessionID  string      `json:"call_session_id"`
	JanusSessionID int64       `json:"janus_session_id"`
	JanusHandleID  int64       `json:"janus_handle_id"`
	JanusWSURL     string      `json:"janus_ws_url"`
	MetaCallID     string      `json:"meta_call_id,omitempty"`
	ICEServers     []ICEServer `json:"ice_servers"`
}

type EndRequest struct {
	TenantID        snowflake.ID `json:"-"`
	CallSessionID   string       `json:"-"`
	DurationSeconds int64        `json:"duration_seconds"`
	AccessToken     string       `json:"access_token"`
}

type EndResult struct {
	Success         bool            `json:"success"`
	DurationSeconds int64           `json:"duration_seconds"`
	Cost            decimal.Decimal `json:"cost"`
	Breakdown       CostBreakdown   `json:"breakdown"`
}

type StatusResult struct {
	Status    Status     `json:"status"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

type PermissionRequest struct {
	TenantID      snowflake.ID `json:"-"`
	PhoneNumberID string       `json:"phone_number_id"`
	AccessToken   string       `json:"access_token"`
	To            string       `json:"to"`
	UseTemplate   bool         `json:"use_template"`
}

type PermissionResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
	Message   string `json:"message"`
}

type Service interface {
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error)
	End(ctx context.Context, req EndRequest) (EndResult, error)
	Status(ctx context.Context, tenantID snowflake.ID, callSessionID string) (StatusResult, error)
	RequestPermission(ctx context.Context, req PermissionRequest) (PermissionResult, error)
	ICEServers(ctx context.Context) []ICEServer
}

const (
	MsgCallingNotAvailable = "WhatsApp calling is not available in your region."
	MsgPermissionSent      = "Permission request sent successfully"
)

var (
	// ErrCallingRestricted means the callee's country has no business calling.
	ErrCallingRestricted = errors.New("calling_not_available")
	ErrSessionNotFound   = errors.New("call_session_not_found")
	// ErrProvider wraps meta.ErrUpstream; ErrGateway wraps janus.ErrGateway.
	ErrProvider = errors.New("provider_error")
	ErrGateway  = errors.New("webrtc_gateway_error")
)
