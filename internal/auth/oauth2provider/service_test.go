package oauth2provider

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/walue/internal/clock"
	"github.com/smallbiznis/walue/internal/config"
	"github.com/smallbiznis/walue/internal/tenant/tenanttest"
	"github.com/smallbiznis/walue/internal/tokenstore"
	"github.com/smallbiznis/walue/pkg/db/dbtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticTokenGen struct {
	mu     sync.Mutex
	values []string
}

func (g *staticTokenGen) NewToken() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.values) == 0 {
		return "", errors.New("no tokens left")
	}
	v := g.values[0]
	g.values = g.values[1:]
	return v, nil
}

type testEnv struct {
	svc          *Service
	clock        *clock.FakeClock
	env          tenanttest.Env
	clientID     string
	clientSecret string
	tenantID     string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC))
	env := tenanttest.New(t, dbtest.New(t), clk)
	res := env.Register(t, "ops@acme.io", "starter", true)

	settings := config.DefaultSettings()
	settings.OAuthSecret = "test-signing-secret"

	svc := NewService(Params{
		Settings: config.NewStaticSettings(settings),
		Tenants:  env.Tenants,
		Codes:    NewCodeStore(tokenstore.NewMemoryStore()),
		Clock:    clk,
		Log:      zap.NewNop(),
	})
	return testEnv{
		svc:          svc,
		clock:        clk,
		env:          env,
		clientID:     res.ClientID,
		clientSecret: res.ClientSecret,
		tenantID:     res.TenantID,
	}
}

func (e testEnv) authorize(t *testing.T, redirect string) *AuthorizeResult {
	t.Helper()
	res, err := e.svc.Authorize(context.Background(), AuthorizeRequest{
		ClientID:     e.clientID,
		RedirectURI:  redirect,
		ResponseType: "code",
		State:        "xyz",
	})
	require.NoError(t, err)
	return res
}

func (e testEnv) exchange(code, redirect string) (*TokenResponse, error) {
	return e.svc.Token(context.Background(), TokenRequest{
		GrantType:    GrantAuthorizationCode,
		Code:         code,
		ClientID:     e.clientID,
		ClientSecret: e.clientSecret,
		RedirectURI:  redirect,
	})
}

func requireReason(t *testing.T, err error, reason string) {
	t.Helper()
	require.ErrorIs(t, err, ErrInvalidGrant)
	var grantErr *GrantError
	require.True(t, errors.As(err, &grantErr))
	require.Equal(t, reason, grantErr.Reason)
}

func TestAuthorizationCodeFlow(t *testing.T) {
	e := newTestEnv(t)
	redirect := "https://acme.example.com/oauth/callback"

	auth := e.authorize(t, redirect)
	require.Equal(t, redirect+"?code="+auth.Code+"&state=xyz", auth.RedirectURL)

	tokens, err := e.exchange(auth.Code, redirect)
	require.NoError(t, err)
	require.Equal(t, "Bearer", tokens.TokenType)
	require.Equal(t, 3600, tokens.ExpiresIn)

	identity, ok := e.svc.ValidateToken(context.Background(), tokens.AccessToken)
	require.True(t, ok)
	require.Equal(t, e.tenantID, identity.TenantID.String())

	_, err = e.exchange(auth.Code, redirect)
	requireReason(t, err, ReasonCodeNotFound)
}

func TestAuthorizationCodeConcurrentRedemption(t *testing.T) {
	e := newTestEnv(t)
	redirect := "https://acme.example.com/cb"
	auth := e.authorize(t, redirect)

	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.exchange(auth.Code, redirect)
			if err == nil {
				wins.Add(1)
				return
			}
			var grantErr *GrantError
			if errors.As(err, &grantErr) && grantErr.Reason == ReasonCodeNotFound {
				losses.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, wins.Load())
	require.EqualValues(t, 9, losses.Load())
}

func TestRedirectMismatchConsumesCode(t *testing.T) {
	e := newTestEnv(t)
	auth := e.authorize(t, "https://acme.example.com/cb")

	_, err := e.exchange(auth.Code, "https://acme.example.com/other")
	requireReason(t, err, ReasonRedirectMismatch)

	_, err = e.exchange(auth.Code, "https://acme.example.com/cb")
	requireReason(t, err, ReasonCodeNotFound)
}

func TestCodeIssuedForAnotherTenant(t *testing.T) {
	e := newTestEnv(t)
	other := e.env.Register(t, "other@acme.io", "starter", true)
	auth := e.authorize(t, "https://acme.example.com/cb")

	_, err := e.svc.Token(context.Background(), TokenRequest{
		GrantType:    GrantAuthorizationCode,
		Code:         auth.Code,
		ClientID:     other.ClientID,
		ClientSecret: other.ClientSecret,
		RedirectURI:  "https://acme.example.com/cb",
	})
	requireReason(t, err, ReasonTenantMismatch)
}

func TestAuthorizeValidation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	pending := e.env.Register(t, "pending@acme.io", "starter", false)

	cases := []struct {
		name string
		req  AuthorizeRequest
		want error
	}{
		{"unknown client", AuthorizeRequest{ClientID: "nope", RedirectURI: "https://acme.example.com/cb", ResponseType: "code"}, ErrInvalidClient},
		{"pending client", AuthorizeRequest{ClientID: pending.ClientID, RedirectURI: "https://acme.example.com/cb", ResponseType: "code"}, ErrInvalidClient},
		{"response type", AuthorizeRequest{ClientID: e.clientID, RedirectURI: "https://acme.example.com/cb", ResponseType: "token"}, ErrInvalidRequest},
		{"missing redirect", AuthorizeRequest{ClientID: e.clientID, ResponseType: "code"}, ErrInvalidRequest},
		{"foreign host", AuthorizeRequest{ClientID: e.clientID, RedirectURI: "https://evil.io/cb", ResponseType: "code"}, ErrInvalidRedirectURI},
		{"suffix host", AuthorizeRequest{ClientID: e.clientID, RedirectURI: "https://acme.example.com.evil.io/cb", ResponseType: "code"}, ErrInvalidRedirectURI},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.svc.Authorize(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	res, err := e.svc.Authorize(ctx, AuthorizeRequest{
		ClientID:     e.clientID,
		RedirectURI:  "https://acme.example.com/cb?next=home",
		ResponseType: "code",
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(res.RedirectURL, "https://acme.example.com/cb?next=home&code="))
	require.NotContains(t, res.RedirectURL, "state=")
}

func TestTokenKindsAreNotInterchangeable(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	redirect := "https://acme.example.com/cb"
	tokens, err := e.exchange(e.authorize(t, redirect).Code, redirect)
	require.NoError(t, err)

	_, ok := e.svc.ValidateToken(ctx, tokens.RefreshToken)
	require.False(t, ok)

	_, err = e.svc.Token(ctx, TokenRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: tokens.AccessToken,
		ClientID:     e.clientID,
		ClientSecret: e.clientSecret,
	})
	requireReason(t, err, ReasonWrongKind)

	refreshed, err := e.svc.Token(ctx, TokenRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: tokens.RefreshToken,
		ClientID:     e.clientID,
		ClientSecret: e.clientSecret,
	})
	require.NoError(t, err)
	_, ok = e.svc.ValidateToken(ctx, refreshed.AccessToken)
	require.True(t, ok)
}

func TestTokenExpiry(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	redirect := "https://acme.example.com/cb"
	tokens, err := e.exchange(e.authorize(t, redirect).Code, redirect)
	require.NoError(t, err)

	e.clock.Advance(2 * time.Hour)
	_, ok := e.svc.ValidateToken(ctx, tokens.AccessToken)
	require.False(t, ok)

	e.clock.Advance(31 * 24 * time.Hour)
	_, err = e.svc.Token(ctx, TokenRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: tokens.RefreshToken,
		ClientID:     e.clientID,
		ClientSecret: e.clientSecret,
	})
	requireReason(t, err, ReasonExpired)

	_, err = e.svc.Token(ctx, TokenRequest{
		GrantType:    GrantRefreshToken,
		RefreshToken: "not.a.jwt",
		ClientID:     e.clientID,
		ClientSecret: e.clientSecret,
	})
	requireReason(t, err, ReasonMalformed)
}

func TestTokenClientChecks(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.svc.Token(ctx, TokenRequest{GrantType: GrantAuthorizationCode, ClientID: e.clientID, ClientSecret: "wrong"})
	require.ErrorIs(t, err, ErrInvalidClient)

	_, err = e.svc.Token(ctx, TokenRequest{GrantType: "password", ClientID: e.clientID, ClientSecret: e.clientSecret})
	require.ErrorIs(t, err, ErrUnsupportedGrantType)

	_, err = e.env.Tenants.Suspend(ctx, e.tenantID)
	require.NoError(t, err)
	_, err = e.svc.Token(ctx, TokenRequest{GrantType: GrantRefreshToken, ClientID: e.clientID, ClientSecret: e.clientSecret})
	require.ErrorIs(t, err, ErrInvalidClient)
}

func TestSettingsReloadChangesSigningKey(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	redirect := "https://acme.example.com/cb"
	tokens, err := e.exchange(e.authorize(t, redirect).Code, redirect)
	require.NoError(t, err)

	next := e.svc.settings.Get()
	next.OAuthSecret = "rotated-secret"
	require.NoError(t, e.svc.settings.Set(next))

	_, ok := e.svc.ValidateToken(ctx, tokens.AccessToken)
	require.False(t, ok)
}
