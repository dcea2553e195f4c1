package oauth2provider

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v4"
)

const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"

	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

type AuthorizeRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	State        string
}

type AuthorizeResult struct {
	Code        string
	RedirectURL string
	ExpiresAt   time.Time
}

type TokenRequest struct {
	GrantType    string `form:"grant_type" json:"grant_type"`
	Code         string `form:"code" json:"code"`
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
	ClientID     string `form:"client_id" json:"client_id"`
	ClientSecret string `form:"client_secret" json:"client_secret"`
	RedirectURI  string `form:"redirect_uri" json:"redirect_uri"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Identity is the authenticated caller behind a valid access token.
type Identity struct {
	TenantID  snowflake.ID
	ExpiresAt time.Time
}

// codePayload is what an authorization code resolves to in the token store.
type codePayload struct {
	TenantID    string    `json:"tenant_id"`
	RedirectURI string    `json:"redirect_uri"`
	IssuedAt    time.Time `json:"issued_at"`
}

type Claims struct {
	TenantID string `json:"tenant_id"`
	Type     string `json:"type"`
	jwt.RegisteredClaims
}
