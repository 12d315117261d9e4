package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	apikeydomain "github.com/meterline/meterline/internal/apikey/domain"
	auditdomain "github.com/meterline/meterline/internal/audit/domain"
	bundledomain "github.com/meterline/meterline/internal/bundle/domain"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/entitlement"
	invoicedomain "github.com/meterline/meterline/internal/invoice/domain"
	obslogger "github.com/meterline/meterline/internal/observability/logger"
	"github.com/meterline/meterline/internal/observability/metrics"
	obstracing "github.com/meterline/meterline/internal/observability/tracing"
	paymentdomain "github.com/meterline/meterline/internal/payment/domain"
	"github.com/meterline/meterline/internal/ratelimit"
	"github.com/meterline/meterline/internal/schema"
	tenantdomain "github.com/meterline/meterline/internal/tenant/domain"
	usagedomain "github.com/meterline/meterline/internal/usage/domain"
)

var Module = fx.Module("server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

type EngineParams struct {
	fx.In

	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

func NewEngine(p EngineParams) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(p.Log.Named("http")))
	r.Use(obstracing.GinMiddleware())
	r.Use(metricsMiddleware(p.Metrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if p.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(p.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	return r
}

func metricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.RecordHTTPRequest(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	genID        *snowflake.Node
	registry     *schema.Registry
	tenantSvc    tenantdomain.Service
	bundleSvc    bundledomain.Service
	entitlements entitlement.Resolver
	usageSvc     usagedomain.Service
	invoiceSvc   invoicedomain.Service
	paymentSvc   paymentdomain.Service
	apiKeySvc    apikeydomain.Service
	auditSvc     auditdomain.Service
	limiter      *ratelimit.IngestLimiter
	obsMetrics   *metrics.Metrics
	log          *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	GenID        *snowflake.Node
	Registry     *schema.Registry
	TenantSvc    tenantdomain.Service
	BundleSvc    bundledomain.Service
	Entitlements entitlement.Resolver
	UsageSvc     usagedomain.Service
	InvoiceSvc   invoicedomain.Service
	PaymentSvc   paymentdomain.Service
	APIKeySvc    apikeydomain.Service
	AuditSvc     auditdomain.Service
	Limiter      *ratelimit.IngestLimiter `optional:"true"`
	ObsMetrics   *metrics.Metrics         `optional:"true"`
	Log          *zap.Logger
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		genID:        p.GenID,
		registry:     p.Registry,
		tenantSvc:    p.TenantSvc,
		bundleSvc:    p.BundleSvc,
		entitlements: p.Entitlements,
		usageSvc:     p.UsageSvc,
		invoiceSvc:   p.InvoiceSvc,
		paymentSvc:   p.PaymentSvc,
		apiKeySvc:    p.APIKeySvc,
		auditSvc:     p.AuditSvc,
		limiter:      p.Limiter,
		obsMetrics:   p.ObsMetrics,
		log:          p.Log.Named("server"),
	}
}

func registerRoutes(s *Server) {
	s.RegisterRoutes()
}

func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api")
	api.GET("/capabilities", s.Capabilities)
	api.GET("/schemas", s.ListSchemas)
	api.GET("/schemas/:eventType", s.GetSchema)
	api.POST("/usage", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeUsageWrite), s.IngestUsage)

	s.engine.GET("/apps/:appId/teams/:teamId/entitlements", s.APIKeyRequired(), s.TeamEntitlements)
	s.engine.GET("/teams/:teamId/usage", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeBillingRead), s.TeamUsage)
	s.engine.GET("/teams/:teamId/cogs", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeBillingRead), s.TeamCogs)

	admin := s.engine.Group("/admin")
	admin.Use(s.AdminKeyRequired())
	admin.POST("/apps", s.CreateApp)
	admin.POST("/teams", s.CreateTeam)
	admin.POST("/users/provision", s.ProvisionUser)
	admin.POST("/bundles", s.CreateBundle)
	admin.GET("/bundles", s.ListBundles)
	admin.POST("/bundles/:id/apps", s.AttachBundleApp)
	admin.POST("/bundles/:id/policies", s.SetBundlePolicy)
	admin.POST("/contracts", s.CreateContract)
	admin.POST("/api-keys", s.CreateAPIKey)
	admin.DELETE("/api-keys/:id", s.RevokeAPIKey)
	admin.POST("/invoices", s.GenerateInvoice)
	admin.GET("/invoices/:id", s.GetInvoice)
	admin.GET("/invoices/:id/export", s.ExportInvoice)
	admin.POST("/invoices/:id/pay", s.PayInvoice)

	s.engine.POST("/webhooks/payment", s.PaymentWebhook)
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
