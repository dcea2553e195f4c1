package oauth2provider

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(e testEnv) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, NewHandler(e.svc, zap.NewNop()))
	return r
}

func TestHandlerAuthorizeAndToken(t *testing.T) {
	e := newTestEnv(t)
	r := newTestRouter(e)
	redirect := "https://acme.example.com/cb"

	q := url.Values{}
	q.Set("client_id", e.clientID)
	q.Set("redirect_uri", redirect)
	q.Set("response_type", "code")
	q.Set("state", "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+q.Encode(), nil))
	require.Equal(t, http.StatusFound, w.Code)

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "abc", location.Query().Get("state"))
	code := location.Query().Get("code")
	require.NotEmpty(t, code)

	form := url.Values{}
	form.Set("grant_type", GrantAuthorizationCode)
	form.Set("code", code)
	form.Set("redirect_uri", redirect)
	form.Set("client_id", e.clientID)
	form.Set("client_secret", e.clientSecret)
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var tokens TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tokens))
	require.NotEmpty(t, tokens.AccessToken)
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	body := `{"refresh_token":"` + tokens.RefreshToken + `"}`
	req = httptest.NewRequest(http.MethodPost, "/oauth/refresh", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(e.clientID, e.clientSecret)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandlerErrors(t *testing.T) {
	e := newTestEnv(t)
	r := newTestRouter(e)

	cases := []struct {
		name   string
		body   string
		status int
		code   string
		reason string
	}{
		{"invalid client", `{"grant_type":"authorization_code","client_id":"x","client_secret":"y"}`, http.StatusUnauthorized, "invalid_client", ""},
		{"unknown code", `{"grant_type":"authorization_code","code":"zzz","client_id":"` + e.clientID + `","client_secret":"` + e.clientSecret + `"}`, http.StatusBadRequest, "invalid_grant", ReasonCodeNotFound},
		{"unsupported grant", `{"grant_type":"password","client_id":"` + e.clientID + `","client_secret":"` + e.clientSecret + `"}`, http.StatusBadRequest, "unsupported_grant_type", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			require.Equal(t, tc.status, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			require.Equal(t, tc.code, body["error"])
			if tc.reason != "" {
				require.Equal(t, tc.reason, body["error_description"])
			}
		})
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/authorize?client_id="+e.clientID+"&redirect_uri=https://evil.io&response_type=code", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, w.Header().Get("Location"))

	// RFC 6749 has no redirect-specific code; the description names the field.
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "invalid_request", body["error"])
	require.Equal(t, "Invalid redirect_uri", body["error_description"])
}
