package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	usagedomain "github.com/smallbiznis/walue/internal/usage/domain"
)

type reportUsageRequest struct {
	UsageType       string          `json:"usage_type"`
	Count           int64           `json:"count"`
	DurationMinutes decimal.Decimal `json:"duration_minutes"`
	Cost            decimal.Decimal `json:"cost"`
}

type reportUsageResponse struct {
	Success     bool                    `json:"success"`
	Balance     decimal.Decimal         `json:"balance"`
	QuotaStatus usagedomain.QuotaStatus `json:"quota_status"`
	Alerts      []usagedomain.Alert     `json:"alerts"`
}

// ReportUsage records usage the tenant's own application metered. The
// reported cost is taken as is; no markup is applied.
func (s *Server) ReportUsage(c *gin.Context) {
	tenant, ok := tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req reportUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	if err := s.usage.RecordUsage(ctx, usagedomain.RecordUsageRequest{
		TenantID:        tenant.ID,
		Kind:            usagedomain.Kind(strings.ToLower(strings.TrimSpace(req.UsageType))),
		Count:           req.Count,
		DurationMinutes: req.DurationMinutes,
		Cost:            req.Cost,
		Markup:          decimal.Zero,
	}); err != nil {
		AbortWithError(c, err)
		return
	}

	status, err := s.usage.BalanceStatus(ctx, tenant.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, reportUsageResponse{
		Success:     true,
		Balance:     status.Balance,
		QuotaStatus: status.QuotaStatus,
		Alerts:      status.Alerts,
	})
}

func (s *Server) GetUsageSummary(c *gin.Context) {
	tenant, ok := tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	summary, err := s.usage.UsageSummary(c.Request.Context(), tenant.ID, usagedomain.PeriodQuery{
		Period:    strings.TrimSpace(c.Query("period")),
		StartDate: strings.TrimSpace(c.Query("start_date")),
		EndDate:   strings.TrimSpace(c.Query("end_date")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (s *Server) GetBalanceStatus(c *gin.Context) {
	tenant, ok := tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	status, err := s.usage.BalanceStatus(c.Request.Context(), tenant.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) GetBillingInfo(c *gin.Context) {
	tenant, ok := tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	info, err := s.usage.BillingInfo(c.Request.Context(), tenant.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}
