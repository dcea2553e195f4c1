package oauth2provider

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest       = errors.New("invalid_request")
	ErrInvalidClient        = errors.New("invalid_client")
	ErrInvalidRedirectURI   = errors.New("invalid_redirect_uri")
	ErrInvalidGrant         = errors.New("invalid_grant")
	ErrUnsupportedGrantType = errors.New("unsupported_grant_type")
	ErrSigningKeyMissing    = errors.New("signing_key_missing")
)

const (
	ReasonCodeNotFound      = "code_not_found"
	ReasonTenantMismatch    = "tenant_mismatch"
	ReasonRedirectMismatch  = "redirect_mismatch"
	ReasonExpired           = "expired"
	ReasonMalformed         = "malformed"
	ReasonWrongKind         = "wrong_kind"
	ReasonMissingCredential = "missing_credential"
)

// GrantError is an invalid_grant failure with the reason it was rejected.
type GrantError struct {
	Reason string
}

func (e *GrantError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidGrant, e.Reason)
}

func (e *GrantError) Unwrap() error {
	return ErrInvalidGrant
}

func grantError(reason string) error {
	return &GrantError{Reason: reason}
}
