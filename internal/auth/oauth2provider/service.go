package oauth2provider

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v4"
	"github.com/smallbiznis/walue/internal/auth/password"
	"github.com/smallbiznis/walue/internal/clock"
	"github.com/smallbiznis/walue/internal/config"
	"github.com/smallbiznis/walue/internal/observability/metrics"
	tenantdomain "github.com/smallbiznis/walue/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const codeBytes = 32

type TokenGenerator interface {
	NewToken() (string, error)
}

type defaultTokenGenerator struct{}

func (defaultTokenGenerator) NewToken() (string, error) {
	return password.RandomToken(codeBytes)
}

type Params struct {
	fx.In

	Settings *config.SettingsHolder
	Tenants  tenantdomain.Service
	Codes    *CodeStore
	Clock    clock.Clock
	Log      *zap.Logger
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	settings *config.SettingsHolder
	tenants  tenantdomain.Service
	codes    *CodeStore
	clock    clock.Clock
	tokenGen TokenGenerator
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewService(p Params) *Service {
	return &Service{
		settings: p.Settings,
		tenants:  p.Tenants,
		codes:    p.Codes,
		clock:    p.Clock,
		tokenGen: defaultTokenGenerator{},
		metrics:  p.Metrics,
		log:      p.Log.Named("auth.oauth2.provider"),
	}
}

// Authorize mints a single-use authorization code for an active tenant.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	clientID := strings.TrimSpace(req.ClientID)
	redirectURI := strings.TrimSpace(req.RedirectURI)
	if clientID == "" || redirectURI == "" || strings.TrimSpace(req.ResponseType) == "" {
		return nil, ErrInvalidRequest
	}

	tenant, err := s.tenants.GetByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, tenantdomain.ErrNotFound) {
			return nil, ErrInvalidClient
		}
		return nil, err
	}
	if !tenant.IsActive() {
		return nil, ErrInvalidClient
	}
	if req.ResponseType != "code" {
		return nil, ErrInvalidRequest
	}
	if !redirectWithinSite(redirectURI, tenant.SiteURL) {
		return nil, ErrInvalidRedirectURI
	}

	code, err := s.tokenGen.NewToken()
	if err != nil {
		return nil, err
	}

	cfg := configFrom(s.settings.Get())
	now := s.clock.Now()
	payload := codePayload{
		TenantID:    tenant.ID.String(),
		RedirectURI: redirectURI,
		IssuedAt:    now,
	}
	if err := s.codes.Save(ctx, code, payload, cfg.CodeTTL); err != nil {
		return nil, err
	}

	return &AuthorizeResult{
		Code:        code,
		RedirectURL: appendAuthCode(redirectURI, code, req.State),
		ExpiresAt:   now.Add(cfg.CodeTTL),
	}, nil
}

// Token authenticates the client and then serves the requested grant.
func (s *Service) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	tenant, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	cfg := configFrom(s.settings.Get())
	if len(cfg.SigningKey) == 0 {
		return nil, ErrSigningKeyMissing
	}

	switch strings.TrimSpace(req.GrantType) {
	case GrantAuthorizationCode:
		payload, err := s.codes.Redeem(ctx, strings.TrimSpace(req.Code))
		if err != nil {
			return nil, err
		}
		if payload.TenantID != tenant.ID.String() {
			return nil, grantError(ReasonTenantMismatch)
		}
		if payload.RedirectURI != strings.TrimSpace(req.RedirectURI) {
			return nil, grantError(ReasonRedirectMismatch)
		}
	case GrantRefreshToken:
		raw := strings.TrimSpace(req.RefreshToken)
		if raw == "" {
			return nil, grantError(ReasonMissingCredential)
		}
		claims, err := s.parse(cfg, raw)
		if err != nil {
			return nil, err
		}
		if claims.Type != TokenKindRefresh {
			return nil, grantError(ReasonWrongKind)
		}
		if claims.TenantID != tenant.ID.String() {
			return nil, grantError(ReasonTenantMismatch)
		}
	default:
		return nil, ErrUnsupportedGrantType
	}

	resp, err := s.issue(cfg, tenant.ID)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTokenIssued(ctx, req.GrantType)
	s.log.Info("oauth2 token issued",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("grant_type", req.GrantType),
	)
	return resp, nil
}

// ValidateToken resolves an access token to its tenant. Any failure is
// reported as false.
func (s *Service) ValidateToken(ctx context.Context, raw string) (*Identity, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	cfg := configFrom(s.settings.Get())
	if len(cfg.SigningKey) == 0 {
		return nil, false
	}
	claims, err := s.parse(cfg, raw)
	if err != nil || claims.Type != TokenKindAccess {
		return nil, false
	}
	tenantID, err := snowflake.ParseString(claims.TenantID)
	if err != nil || tenantID == 0 {
		return nil, false
	}
	if _, err := s.tenants.Get(ctx, tenantID); err != nil {
		if !errors.Is(err, tenantdomain.ErrNotFound) {
			s.log.Warn("token tenant lookup failed", zap.Error(err))
		}
		return nil, false
	}
	identity := &Identity{TenantID: tenantID}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, true
}

func (s *Service) authenticateClient(ctx context.Context, clientID, clientSecret string) (tenantdomain.Tenant, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" || clientSecret == "" {
		return tenantdomain.Tenant{}, ErrInvalidClient
	}
	tenant, err := s.tenants.VerifyClient(ctx, clientID, clientSecret)
	if err != nil {
		if errors.Is(err, tenantdomain.ErrInvalidCredentials) {
			return tenantdomain.Tenant{}, ErrInvalidClient
		}
		return tenantdomain.Tenant{}, err
	}
	if !tenant.IsActive() {
		return tenantdomain.Tenant{}, ErrInvalidClient
	}
	return tenant, nil
}

func (s *Service) issue(cfg Config, tenantID snowflake.ID) (*TokenResponse, error) {
	now := s.clock.Now()
	access, err := s.sign(cfg, tenantID, TokenKindAccess, now, cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(cfg, tenantID, TokenKindRefresh, now, cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(cfg.AccessTTL.Seconds()),
	}, nil
}

func (s *Service) sign(cfg Config, tenantID snowflake.ID, kind string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		TenantID: tenantID.String(),
		Type:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.SigningKey)
}

// parse verifies the signature and checks expiry against the service clock.
func (s *Service) parse(cfg Config, raw string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &Claims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return cfg.SigningKey, nil
	})
	if err != nil {
		return nil, grantError(ReasonMalformed)
	}
	if claims.ExpiresAt == nil || !claims.VerifyExpiresAt(s.clock.Now(), true) {
		return nil, grantError(ReasonExpired)
	}
	return claims, nil
}

// redirectWithinSite reports whether redirect lives under the tenant site.
// The character after the prefix must end the authority or start a path,
// query or fragment so "https://a.io.evil" never matches "https://a.io".
func redirectWithinSite(redirect, site string) bool {
	site = strings.TrimRight(strings.TrimSpace(site), "/")
	if site == "" || !strings.HasPrefix(redirect, site) {
		return false
	}
	if _, err := url.Parse(redirect); err != nil {
		return false
	}
	rest := redirect[len(site):]
	if rest == "" {
		return true
	}
	switch rest[0] {
	case '/', '?', '#':
		return true
	}
	return false
}

func appendAuthCode(redirectURI, code, state string) string {
	sep := "?"
	if strings.Contains(redirectURI, "?") {
		sep = "&"
	}
	out := redirectURI + sep + "code=" + url.QueryEscape(code)
	if state != "" {
		out += "&state=" + url.QueryEscape(state)
	}
	return out
}
