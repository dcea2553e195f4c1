package domain

import (
	"net/mail"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusCancelled Status = "CANCELLED"
)

const BillingCycleMonthly = "MONTHLY"

var transitions = map[Status][]Status{
	StatusPending:   {StatusActive, StatusCancelled},
	StatusActive:    {StatusSuspended, StatusCancelled},
	StatusSuspended: {StatusActive, StatusCancelled},
	StatusCancelled: {StatusActive},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	return slices.Contains(transitions[s], next)
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

type Tenant struct {
	ID               snowflake.ID    `json:"id"`
	Name             string          `json:"name"`
	Email            string          `json:"email"`
	Status           Status          `json:"status"`
	ClientID         string          `json:"client_id"`
	ClientSecretHash string          `json:"-"`
	SiteURL          string          `json:"site_url"`
	WabaID           *string         `json:"waba_id,omitempty"`
	PhoneNumberID    *string         `json:"phone_number_id,omitempty"`
	MetaBusinessID   *string         `json:"meta_business_id,omitempty"`
	PlanID           *snowflake.ID   `json:"plan_id,omitempty"`
	Balance          decimal.Decimal `json:"balance"`
	BillingCycle     string          `json:"billing_cycle"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewTenant validates registration input and returns a PENDING tenant.
func NewTenant(id snowflake.ID, name, email, siteURL, clientID, secretHash string, planID *snowflake.ID, now time.Time) (Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Tenant{}, ErrInvalidName
	}
	email, err := NormalizeEmail(email)
	if err != nil {
		return Tenant{}, err
	}
	siteURL, err = NormalizeSiteURL(siteURL)
	if err != nil {
		return Tenant{}, err
	}
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(secretHash) == "" {
		return Tenant{}, ErrInvalidCredentials
	}
	return Tenant{
		ID:               id,
		Name:             name,
		Email:            email,
		Status:           StatusPending,
		ClientID:         clientID,
		ClientSecretHash: secretHash,
		SiteURL:          siteURL,
		PlanID:           planID,
		Balance:          decimal.Zero,
		BillingCycle:     BillingCycleMonthly,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Transition moves the tenant to next if the lifecycle allows it.
func (t *Tenant) Transition(next Status, now time.Time) error {
	if !next.Valid() {
		return ErrInvalidStatus
	}
	if !t.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	t.Status = next
	t.UpdatedAt = now
	return nil
}

func (t Tenant) IsActive() bool {
	return t.Status == StatusActive
}

func (t Tenant) WabaConnected() bool {
	return t.WabaID != nil && *t.WabaID != ""
}

func NormalizeEmail(raw string) (string, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", ErrInvalidEmail
	}
	return raw, nil
}

// NormalizeSiteURL accepts absolute http(s) URLs and drops the trailing slash.
func NormalizeSiteURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", ErrInvalidSiteURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidSiteURL
	}
	return strings.TrimRight(raw, "/"), nil
}
