package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	signupdomain "github.com/smallbiznis/walue/internal/signup/domain"
)

// InitiateTenantSignup starts embedded signup for the calling tenant.
func (s *Server) InitiateTenantSignup(c *gin.Context) {
	tenant, ok := tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	res, err := s.signup.Initiate(c.Request.Context(), tenant.ID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// SignupCallback is where Meta redirects the browser. Failures are
// reported in the body with success=false rather than as HTTP errors.
func (s *Server) SignupCallback(c *gin.Context) {
	var req signupdomain.CallbackRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.signup.Callback(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, res)
}

func (s *Server) AdminInitiateSignup(c *gin.Context) {
	res, err := s.signup.Initiate(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) AdminGetSignupStatus(c *gin.Context) {
	res, err := s.signup.Status(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}
