package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/walue/internal/invoice/domain"
	"github.com/smallbiznis/walue/internal/observability/logger"
	plandomain "github.com/smallbiznis/walue/internal/plan/domain"
	tenantdomain "github.com/smallbiznis/walue/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/walue/internal/usage/domain"
	"github.com/smallbiznis/walue/internal/validation"
	"go.uber.org/zap"
)

type assignPlanRequest struct {
	PlanID string `json:"plan_id"`
}

type creditBalanceRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type connectWABARequest struct {
	WabaID         string `json:"waba_id"`
	PhoneNumberID  string `json:"phone_number_id"`
	MetaBusinessID string `json:"meta_business_id"`
}

type updateInvoiceStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) AdminListTenants(c *gin.Context) {
	tenants, err := s.tenants.List(c.Request.Context(), tenantdomain.ListTenantRequest{
		Status: strings.TrimSpace(c.Query("status")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tenants})
}

func (s *Server) AdminGetTenant(c *gin.Context) {
	id, err := parseTenantID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	info, err := s.tenants.Info(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

func (s *Server) AdminActivateTenant(c *gin.Context) {
	s.respondTenant(c, s.tenants.Activate)
}

func (s *Server) AdminSuspendTenant(c *gin.Context) {
	s.respondTenant(c, s.tenants.Suspend)
}

func (s *Server) AdminCancelTenant(c *gin.Context) {
	s.respondTenant(c, s.tenants.Cancel)
}

func (s *Server) respondTenant(c *gin.Context, fn func(ctx context.Context, id string) (tenantdomain.Tenant, error)) {
	tenant, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	logger.FromContext(c.Request.Context()).Info("tenant status changed",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("status", string(tenant.Status)),
	)
	c.JSON(http.StatusOK, tenant)
}

func (s *Server) AdminRotateSecret(c *gin.Context) {
	res, err := s.tenants.RotateSecret(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, res)
}

func (s *Server) AdminAssignPlan(c *gin.Context) {
	var req assignPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenant, err := s.tenants.AssignPlan(c.Request.Context(), c.Param("id"), req.PlanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, tenant)
}

func (s *Server) AdminCreditBalance(c *gin.Context) {
	var req creditBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenant, err := s.tenants.CreditBalance(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, tenant)
}

func (s *Server) AdminConnectWABA(c *gin.Context) {
	id, err := parseTenantID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req connectWABARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenant, err := s.tenants.ConnectWABA(c.Request.Context(), tenantdomain.ConnectWABARequest{
		TenantID:       id,
		WabaID:         req.WabaID,
		PhoneNumberID:  req.PhoneNumberID,
		MetaBusinessID: req.MetaBusinessID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, tenant)
}

func (s *Server) AdminGetTenantUsage(c *gin.Context) {
	id, err := parseTenantID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.usage.UsageSummary(c.Request.Context(), id, usagedomain.PeriodQuery{
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

// -------- Plans --------

func (s *Server) AdminListPlans(c *gin.Context) {
	plans, err := s.plans.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plans})
}

func (s *Server) AdminCreatePlan(c *gin.Context) {
	var req plandomain.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan, err := s.plans.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, plan)
}

func (s *Server) AdminGetPlan(c *gin.Context) {
	plan, err := s.plans.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, plan)
}

func (s *Server) AdminUpdatePlan(c *gin.Context) {
	var req plandomain.UpdatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = c.Param("id")

	plan, err := s.plans.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, plan)
}

func (s *Server) AdminDeletePlan(c *gin.Context) {
	if err := s.plans.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// -------- Invoices --------

func (s *Server) AdminListInvoices(c *gin.Context) {
	id, err := parseTenantID(c.Query("tenant_id"))
	if err != nil {
		AbortWithError(c, validation.New("tenant_id", "required", "tenant_id is required"))
		return
	}

	invoices, err := s.invoices.List(c.Request.Context(), invoicedomain.ListInvoiceRequest{
		TenantID: id,
		Status:   invoicedomain.InvoiceStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoices})
}

func (s *Server) AdminUpdateInvoiceStatus(c *gin.Context) {
	var req updateInvoiceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	status := invoicedomain.InvoiceStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	invoice, err := s.invoices.UpdateStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, invoice)
}

// -------- Jobs --------

func (s *Server) AdminListJobs(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.scheduler.JobNames()})
}

// AdminRunJob runs a scheduled job now, outside its period.
func (s *Server) AdminRunJob(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	name := strings.TrimSpace(c.Param("name"))
	if err := s.scheduler.RunJob(c.Request.Context(), name); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": name, "status": "completed"})
}

func parseTenantID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, tenantdomain.ErrInvalidID
	}
	return id, nil
}
