package domain

import (
	"context"
	"errors"
	"time"
)

type InitiateResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SignupURL string `json:"signup_url"`
	SessionID string `json:"session_id"`
}

// CallbackRequest is the query Meta redirects the browser with.
type CallbackRequest struct {
	Code             string `form:"code"`
	State            string `form:"state"`
	Error            string `form:"error"`
	ErrorDescription string `form:"error_description"`
}

// Credentials are returned once to the caller and never persisted.
type Credentials struct {
	WabaID        string `json:"waba_id"`
	PhoneNumberID string `json:"phone_number_id"`
	PhoneNumber   string `json:"phone_number"`
	BusinessID    string `json:"business_id"`
	AccessToken   string `json:"access_token"`
}

type CallbackResult struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message,omitempty"`
	Error       string       `json:"error,omitempty"`
	Credentials *Credentials `json:"waba_credentials,omitempty"`
}

type StatusResult struct {
	Status       Status     `json:"status"`
	ErrorMessage *string    `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

type Service interface {
	Initiate(ctx context.Context, tenantID string) (InitiateResult, error)
	Callback(ctx context.Context, req CallbackRequest) (CallbackResult, error)
	Status(ctx context.Context, sessionID string) (StatusResult, error)
	// PurgeStale deletes unfinished or failed sessions created before cutoff.
	PurgeStale(ctx context.Context, cutoff time.Time) (int64, error)
}

const (
	MsgInitiated   = "Embedded signup initiated. Please complete the process."
	MsgCompleted   = "WhatsApp Business Account connected successfully!"
	MsgOAuthFailed = "Authentication failed. Please try again."
)

var (
	ErrDisabled          = errors.New("signup_disabled")
	ErrNotFound          = errors.New("signup_session_not_found")
	ErrInvalidSession    = errors.New("invalid_signup_session")
	ErrInvalidTransition = errors.New("invalid_signup_transition")
)
