// Package domain describes the outbound message proxy. Message content
// passes through to Meta and is never stored or logged.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

const DefaultTemplateLanguage = "en_US"

// Target is the sending number and the tenant's own Meta token. When
// PhoneNumberID is empty the number stored on the tenant is used.
type Target struct {
	TenantID      snowflake.ID `json:"-"`
	PhoneNumberID string       `json:"phone_number_id"`
	AccessToken   string       `json:"access_token"`
	To            string       `json:"to"`
}

type TemplateRequest struct {
	Target
	TemplateName string           `json:"template_name"`
	Language     string           `json:"template_language"`
	Components   []map[string]any `json:"template_components"`
}

type TextRequest struct {
	Target
	Text string `json:"text"`
}

type MediaRequest struct {
	Target
	MediaType string `json:"media_type"`
	MediaURL  string `json:"media_url"`
	Caption   string `json:"caption"`
	Filename  string `json:"filename"`
}

type SendResult struct {
	Success   bool            `json:"success"`
	MessageID string          `json:"message_id"`
	Cost      decimal.Decimal `json:"cost"`
}

type Service interface {
	SendTemplate(ctx context.Context, req TemplateRequest) (SendResult, error)
	SendText(ctx context.Context, req TextRequest) (SendResult, error)
	SendMedia(ctx context.Context, req MediaRequest) (SendResult, error)
}

// ErrProvider hides the upstream failure from tenants. It wraps
// meta.ErrUpstream when Meta answered with an error.
var ErrProvider = errors.New("provider_error")
