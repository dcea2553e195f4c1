// Package validation carries field-level input errors to the HTTP layer.
package validation

import (
	"errors"
	"fmt"
)

// Error reports that Field failed the check named by Code.
type Error struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func New(field, code, message string) *Error {
	return &Error{Field: field, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Field, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Code)
}

// As extracts a validation error from err's chain.
func As(err error) (*Error, bool) {
	var vErr *Error
	if errors.As(err, &vErr) {
		return vErr, true
	}
	return nil, false
}
