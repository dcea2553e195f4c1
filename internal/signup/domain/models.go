// Package domain tracks Meta embedded-signup sessions. A session only ever
// stores the account ids Meta shares; the Meta access token is handed back
// to the caller and dropped.
package domain

import (
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var transitions = map[Status][]Status{
	StatusInitiated:  {StatusInProgress, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed},
}

func (s Status) CanTransitionTo(next Status) bool {
	return slices.Contains(transitions[s], next)
}

// StaleStatuses are the states the cleanup job may delete.
var StaleStatuses = []Status{StatusInitiated, StatusInProgress, StatusFailed}

type Session struct {
	ID            string       `json:"session_id"`
	TenantID      snowflake.ID `json:"customer_id"`
	Status        Status       `json:"status"`
	WabaID        *string      `json:"waba_id,omitempty"`
	PhoneNumberID *string      `json:"phone_number_id,omitempty"`
	BusinessID    *string      `json:"business_id,omitempty"`
	ErrorMessage  *string      `json:"error_message,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (Session) TableName() string { return "signup_sessions" }

// Transition moves the session forward. Completed sessions never change.
func (s *Session) Transition(next Status, now time.Time) error {
	if !s.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	s.Status = next
	s.UpdatedAt = now
	return nil
}
