package server

import (
	"crypto/subtle"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/walue/internal/authorization"
	obscontext "github.com/smallbiznis/walue/internal/observability/context"
	"github.com/smallbiznis/walue/internal/observability/logger"
	"github.com/smallbiznis/walue/internal/ratelimit"
	tenantdomain "github.com/smallbiznis/walue/internal/tenant/domain"
	"go.uber.org/zap"
)

const (
	HeaderAdminKey = "X-Admin-Key"

	contextTenantKey = "tenant"
	contextActorKey  = "actor"
)

// TenantAuthRequired accepts a bearer access token and loads the tenant it
// was issued to. The tenant status is checked on every request so a
// suspension takes effect before the token expires.
func (s *Server) TenantAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		identity, ok := s.oauth.ValidateToken(ctx, raw)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		tenant, err := s.tenants.Get(ctx, identity.TenantID)
		if err != nil || !tenant.IsActive() {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		tenantID := tenant.ID.String()
		ctx = obscontext.WithTenantID(ctx, tenantID)
		ctx = obscontext.WithActor(ctx, obscontext.ActorTenant, tenantID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextTenantKey, tenant)
		c.Set(contextActorKey, authorization.TenantActor(tenantID))
		c.Next()
	}
}

// AdminRequired checks the static admin key. An empty configured key
// disables the admin surface.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(s.cfg.AdminAPIKey)
		provided := strings.TrimSpace(c.GetHeader(HeaderAdminKey))
		if expected == "" || provided == "" ||
			subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), obscontext.ActorAdmin, authorization.ActorAdmin)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextActorKey, authorization.ActorAdmin)
		c.Next()
	}
}

// authorize asks casbin whether the authenticated actor may act on object.
func (s *Server) authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetString(contextActorKey)
		if actor == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authz == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authz.Authorize(c.Request.Context(), actor, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// rateLimit takes one token from the tenant's bucket for scope.
func (s *Server) rateLimit(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		tenant, ok := tenantFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)
		res, err := s.limiter.Allow(ctx, tenant.ID.String(), scope)
		if err != nil {
			logger.FromContext(ctx).Warn("tenant rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			logger.FromContext(ctx).Warn("tenant rate limit exceeded",
				zap.String("reason", ratelimit.ReasonTenantRate),
				zap.String("endpoint", endpoint),
			)
			s.metrics.RecordRateLimitDenied(ctx, endpoint, ratelimit.ReasonTenantRate)

			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(res)))
			c.Header("X-Rate-Limited-Reason", ratelimit.ReasonTenantRate)
			AbortWithError(c, ErrRateLimited)
			return
		}

		s.metrics.RecordRateLimitAllowed(ctx, endpoint)
		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		}
		c.Next()
	}
}

func tenantFromContext(c *gin.Context) (tenantdomain.Tenant, bool) {
	v, ok := c.Get(contextTenantKey)
	if !ok {
		return tenantdomain.Tenant{}, false
	}
	tenant, ok := v.(tenantdomain.Tenant)
	return tenant, ok
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(strings.TrimSpace(header))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func retryAfterSeconds(res *ratelimit.Result) int {
	if res == nil || res.RetryAfter <= 0 {
		return 1
	}
	return max(int(math.Ceil(res.RetryAfter.Seconds())), 1)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
