package oauth2provider

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
)

// Handler serves the tenant-facing OAuth2 endpoints.
type Handler struct {
	svc *Service
	log *zap.Logger
}

func NewHandler(svc *Service, log *zap.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log.Named("auth.oauth2.handler"),
	}
}

func RegisterRoutes(r gin.IRouter, h *Handler) {
	group := r.Group("/oauth")
	group.GET("/authorize", h.Authorize)
	group.POST("/token", h.Token)
	group.POST("/refresh", h.Refresh)
}

func (h *Handler) Authorize(c *gin.Context) {
	result, err := h.svc.Authorize(c.Request.Context(), AuthorizeRequest{
		ClientID:     strings.TrimSpace(c.Query("client_id")),
		RedirectURI:  strings.TrimSpace(c.Query("redirect_uri")),
		ResponseType: strings.TrimSpace(c.Query("response_type")),
		State:        c.Query("state"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Redirect(http.StatusFound, result.RedirectURL)
}

func (h *Handler) Token(c *gin.Context) {
	req, ok := h.bindTokenRequest(c)
	if !ok {
		return
	}
	h.exchange(c, req)
}

// Refresh is the refresh_token grant without a grant_type parameter.
func (h *Handler) Refresh(c *gin.Context) {
	req, ok := h.bindTokenRequest(c)
	if !ok {
		return
	}
	req.GrantType = GrantRefreshToken
	h.exchange(c, req)
}

func (h *Handler) exchange(c *gin.Context, req TokenRequest) {
	resp, err := h.svc.Token(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) bindTokenRequest(c *gin.Context) (TokenRequest, bool) {
	var req TokenRequest
	var err error
	if strings.HasPrefix(c.ContentType(), binding.MIMEJSON) {
		err = c.ShouldBindJSON(&req)
	} else {
		err = c.ShouldBindWith(&req, binding.Form)
	}
	if err != nil {
		writeOAuthError(c, http.StatusBadRequest, ErrInvalidRequest.Error(), "malformed request body")
		return TokenRequest{}, false
	}

	if id, secret, ok := parseBasicAuth(c); ok {
		if req.ClientID != "" && req.ClientID != id {
			writeOAuthError(c, http.StatusUnauthorized, ErrInvalidClient.Error(), "client mismatch")
			return TokenRequest{}, false
		}
		req.ClientID = id
		req.ClientSecret = secret
	}
	return req, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, code, description := mapError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("oauth2 request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	writeOAuthError(c, status, code, description)
}

func mapError(err error) (int, string, string) {
	var grantErr *GrantError
	switch {
	case errors.As(err, &grantErr):
		return http.StatusBadRequest, ErrInvalidGrant.Error(), grantErr.Reason
	case errors.Is(err, ErrInvalidClient):
		return http.StatusUnauthorized, ErrInvalidClient.Error(), "Invalid OAuth client credentials."
	case errors.Is(err, ErrInvalidRedirectURI):
		return http.StatusBadRequest, ErrInvalidRequest.Error(), "Invalid redirect_uri"
	case errors.Is(err, ErrUnsupportedGrantType):
		return http.StatusBadRequest, ErrUnsupportedGrantType.Error(), ""
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, ErrInvalidRequest.Error(), "Missing or invalid parameters"
	default:
		return http.StatusInternalServerError, "server_error", ""
	}
}

func writeOAuthError(c *gin.Context, status int, code, description string) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	body := gin.H{"error": code}
	if description != "" {
		body["error_description"] = description
	}
	c.AbortWithStatusJSON(status, body)
}

func parseBasicAuth(c *gin.Context) (string, string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Basic") {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", "", false
	}
	id, secret, ok := strings.Cut(string(decoded), ":")
	if !ok || id == "" {
		return "", "", false
	}
	return id, secret, true
}
