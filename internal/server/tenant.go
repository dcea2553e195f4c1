package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	tenantdomain "github.com/smallbiznis/walue/internal/tenant/domain"
)

// RegisterTenant creates a PENDING tenant and returns its client
// credentials. The secret is shown only in this response.
func (s *Server) RegisterTenant(c *gin.Context) {
	var req tenantdomain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.tenants.Register(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusCreated, gin.H{
		"success":             true,
		"customer_id":         res.TenantID,
		"oauth_client_id":     res.ClientID,
		"oauth_client_secret": res.ClientSecret,
		"message":             res.Message,
	})
}

func (s *Server) GetTenantInfo(c *gin.Context) {
	tenant, ok := tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	info, err := s.tenants.Info(c.Request.Context(), tenant.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

func (s *Server) GetTenantFeatures(c *gin.Context) {
	tenant, ok := tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	features, err := s.tenants.Features(c.Request.Context(), tenant.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, features)
}
