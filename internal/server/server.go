package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/walue/internal/auth/oauth2provider"
	"github.com/smallbiznis/walue/internal/authorization"
	callsdomain "github.com/smallbiznis/walue/internal/calls/domain"
	"github.com/smallbiznis/walue/internal/config"
	invoicedomain "github.com/smallbiznis/walue/internal/invoice/domain"
	messagingdomain "github.com/smallbiznis/walue/internal/messaging/domain"
	"github.com/smallbiznis/walue/internal/observability"
	obsmiddleware "github.com/smallbiznis/walue/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/walue/internal/observability/metrics"
	obstracing "github.com/smallbiznis/walue/internal/observability/tracing"
	plandomain "github.com/smallbiznis/walue/internal/plan/domain"
	"github.com/smallbiznis/walue/internal/ratelimit"
	"github.com/smallbiznis/walue/internal/scheduler"
	signupdomain "github.com/smallbiznis/walue/internal/signup/domain"
	tenantdomain "github.com/smallbiznis/walue/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/walue/internal/usage/domain"
	"github.com/smallbiznis/walue/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Rate limit scopes. Each scope has its own bucket per tenant.
const (
	scopeUsage    = "usage"
	scopeMessages = "messages"
	scopeCalls    = "calls"
)

// Module serves every route group from one process.
var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	log       *zap.Logger
	oauth     *oauth2provider.Service
	oauthHTTP *oauth2provider.Handler
	authz     authorization.Service
	tenants   tenantdomain.Service
	plans     plandomain.Service
	usage     usagedomain.Service
	invoices  invoicedomain.Service
	messaging messagingdomain.Service
	calls     callsdomain.Service
	signup    signupdomain.Service
	webhooks  *webhook.Service
	limiter   *ratelimit.TenantLimiter
	metrics   *obsmetrics.Metrics
	scheduler *scheduler.Scheduler
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	Log       *zap.Logger
	OAuth     *oauth2provider.Service
	OAuthHTTP *oauth2provider.Handler
	Authz     authorization.Service
	Tenants   tenantdomain.Service
	Plans     plandomain.Service
	Usage     usagedomain.Service
	Invoices  invoicedomain.Service
	Messaging messagingdomain.Service
	Calls     callsdomain.Service
	Signup    signupdomain.Service
	Webhooks  *webhook.Service
	Limiter   *ratelimit.TenantLimiter `optional:"true"`
	Metrics   *obsmetrics.Metrics      `optional:"true"`
	Scheduler *scheduler.Scheduler     `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		log:       p.Log.Named("http.server"),
		oauth:     p.OAuth,
		oauthHTTP: p.OAuthHTTP,
		authz:     p.Authz,
		tenants:   p.Tenants,
		plans:     p.Plans,
		usage:     p.Usage,
		invoices:  p.Invoices,
		messaging: p.Messaging,
		calls:     p.Calls,
		signup:    p.Signup,
		webhooks:  p.Webhooks,
		limiter:   p.Limiter,
		metrics:   p.Metrics,
		scheduler: p.Scheduler,
	}
}

// RegisterRoutes mounts every route group.
func (s *Server) RegisterRoutes() {
	s.RegisterAuthRoutes()
	s.RegisterPublicRoutes()
	s.RegisterWebhookRoutes()
	s.RegisterAPIRoutes()
	s.RegisterAdminRoutes()
}

func (s *Server) RegisterAuthRoutes() {
	if s.oauthHTTP == nil {
		return
	}
	oauth2provider.RegisterRoutes(s.engine, s.oauthHTTP)
}

func (s *Server) RegisterPublicRoutes() {
	api := s.engine.Group("/api/v1")
	api.POST("/tenants", s.RegisterTenant)

	s.engine.GET("/signup/callback", s.SignupCallback)
}

func (s *Server) RegisterWebhookRoutes() {
	hooks := s.engine.Group("/webhooks")
	hooks.GET("/meta", s.VerifyMetaWebhook)
	hooks.POST("/meta", s.ReceiveMetaWebhook)
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api/v1")
	api.Use(s.TenantAuthRequired())

	// -------- Usage & billing --------
	api.POST("/usage", s.rateLimit(scopeUsage), s.authorize(authorization.ObjectUsage, authorization.ActionUsageRecord), s.ReportUsage)
	api.GET("/usage/summary", s.authorize(authorization.ObjectUsage, authorization.ActionUsageView), s.GetUsageSummary)
	api.GET("/usage/balance", s.authorize(authorization.ObjectUsage, authorization.ActionUsageView), s.GetBalanceStatus)
	api.GET("/billing", s.authorize(authorization.ObjectUsage, authorization.ActionUsageView), s.GetBillingInfo)

	// -------- Invoices --------
	api.GET("/invoices", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.ListInvoices)
	api.GET("/invoices/:id", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.GetInvoice)
	api.GET("/invoices/:id/pdf", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.DownloadInvoicePDF)

	// -------- Tenant --------
	api.GET("/tenant", s.authorize(authorization.ObjectTenant, authorization.ActionTenantView), s.GetTenantInfo)
	api.GET("/tenant/features", s.authorize(authorization.ObjectTenant, authorization.ActionTenantView), s.GetTenantFeatures)

	// -------- Messages --------
	messages := api.Group("/messages", s.rateLimit(scopeMessages), s.authorize(authorization.ObjectMessage, authorization.ActionMessageSend))
	messages.POST("/template", s.SendTemplate)
	messages.POST("/text", s.SendText)
	messages.POST("/media", s.SendMedia)

	// -------- Calls --------
	calls := api.Group("/calls", s.rateLimit(scopeCalls), s.authorize(authorization.ObjectCall, authorization.ActionCallManage))
	calls.POST("", s.InitiateCall)
	calls.POST("/permission", s.RequestCallPermission)
	calls.GET("/ice-servers", s.GetICEServers)
	calls.GET("/:id", s.GetCallStatus)
	calls.POST("/:id/end", s.EndCall)

	// -------- Embedded signup --------
	api.POST("/signup", s.authorize(authorization.ObjectSignup, authorization.ActionSignupInitiate), s.InitiateTenantSignup)
}

func (s *Server) RegisterAdminRoutes() {
	admin := s.engine.Group("/admin/v1")
	admin.Use(s.AdminRequired())

	// -------- Tenants --------
	admin.GET("/tenants", s.authorize(authorization.ObjectTenant, authorization.ActionTenantView), s.AdminListTenants)
	admin.GET("/tenants/:id", s.authorize(authorization.ObjectTenant, authorization.ActionTenantView), s.AdminGetTenant)
	admin.POST("/tenants/:id/activate", s.authorize(authorization.ObjectTenant, authorization.ActionTenantActivate), s.AdminActivateTenant)
	admin.POST("/tenants/:id/suspend", s.authorize(authorization.ObjectTenant, authorization.ActionTenantSuspend), s.AdminSuspendTenant)
	admin.POST("/tenants/:id/cancel", s.authorize(authorization.ObjectTenant, authorization.ActionTenantCancel), s.AdminCancelTenant)
	admin.POST("/tenants/:id/rotate-secret", s.authorize(authorization.ObjectTenant, authorization.ActionTenantRotateSecret), s.AdminRotateSecret)
	admin.PUT("/tenants/:id/plan", s.authorize(authorization.ObjectTenant, authorization.ActionTenantAssignPlan), s.AdminAssignPlan)
	admin.POST("/tenants/:id/balance", s.authorize(authorization.ObjectTenant, authorization.ActionTenantCreditBalance), s.AdminCreditBalance)
	admin.PUT("/tenants/:id/waba", s.authorize(authorization.ObjectTenant, authorization.ActionTenantConnectWABA), s.AdminConnectWABA)
	admin.GET("/tenants/:id/usage", s.authorize(authorization.ObjectUsage, authorization.ActionUsageView), s.AdminGetTenantUsage)

	// -------- Plans --------
	admin.GET("/plans", s.authorize(authorization.ObjectPlan, authorization.ActionPlanView), s.AdminListPlans)
	admin.POST("/plans", s.authorize(authorization.ObjectPlan, authorization.ActionPlanCreate), s.AdminCreatePlan)
	admin.GET("/plans/:id", s.authorize(authorization.ObjectPlan, authorization.ActionPlanView), s.AdminGetPlan)
	admin.PATCH("/plans/:id", s.authorize(authorization.ObjectPlan, authorization.ActionPlanUpdate), s.AdminUpdatePlan)
	admin.DELETE("/plans/:id", s.authorize(authorization.ObjectPlan, authorization.ActionPlanDelete), s.AdminDeletePlan)

	// -------- Invoices --------
	admin.GET("/invoices", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.AdminListInvoices)
	admin.PATCH("/invoices/:id", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceUpdate), s.AdminUpdateInvoiceStatus)

	// -------- Embedded signup --------
	admin.POST("/tenants/:id/signup", s.authorize(authorization.ObjectSignup, authorization.ActionSignupInitiate), s.AdminInitiateSignup)
	admin.GET("/signup/:session_id", s.authorize(authorization.ObjectSignup, authorization.ActionSignupView), s.AdminGetSignupStatus)

	// -------- Jobs --------
	admin.GET("/jobs", s.authorize(authorization.ObjectJob, authorization.ActionJobRun), s.AdminListJobs)
	admin.POST("/jobs/:name/run", s.authorize(authorization.ObjectJob, authorization.ActionJobRun), s.AdminRunJob)
}
