package api

import (
	"net/http"
	"time"

	"github.com/certamo/internal/api/handlers"
	"github.com/certamo/internal/api/middleware"
	"github.com/certamo/internal/config"
	"github.com/certamo/pkg/metrics"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Router struct {
	engine      *gin.Engine
	cfg         *config.Configuration
	logger      *zap.Logger
	metrics     *metrics.MetricsCollector
	limiter     *middleware.RateLimiter
	adminMw     *middleware.AdminMiddleware
	certHandler *handlers.CertificateHandler
	adminHdl    *handlers.AdminHandler
	healthHdl   *handlers.HealthHandler
}

func NewRouter(
	cfg *config.Configuration,
	logger *zap.Logger,
	collector *metrics.MetricsCollector,
	limiter *middleware.RateLimiter,
	adminMw *middleware.AdminMiddleware,
	certHandler *handlers.CertificateHandler,
	adminHandler *handlers.AdminHandler,
	healthHandler *handlers.HealthHandler,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(middleware.RequestID())
	engine.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	engine.Use(ginzap.RecoveryWithZap(logger, true))

	engine.LoadHTMLGlob("templates/*.html")

	return &Router{
		engine:      engine,
		cfg:         cfg,
		logger:      logger,
		metrics:     collector,
		limiter:     limiter,
		adminMw:     adminMw,
		certHandler: certHandler,
		adminHdl:    adminHandler,
		healthHdl:   healthHandler,
	}
}

func (r *Router) SetupRoutes() {
	budgets := r.cfg.RateLimit

	r.engine.GET("/", r.healthHdl.Index)
	r.engine.GET("/health", r.healthHdl.Health)

	r.engine.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"counters":  r.metrics.GetCounters(),
			"latencies": r.metrics.GetLatencies(),
			"sizes":     r.metrics.GetSizes(),
		})
	})

	r.engine.GET("/certificate/:slug",
		r.limiter.Limit(middleware.ClassView, budgets.View),
		r.certHandler.ViewCertificate)
	r.engine.GET("/certificate/:slug/pdf",
		r.limiter.Limit(middleware.ClassView, budgets.View),
		r.certHandler.DownloadPDF)
	r.engine.GET("/preview/:slug",
		r.limiter.Limit(middleware.ClassPreview, budgets.Preview),
		r.certHandler.Preview)
	r.engine.GET("/download/:slug",
		r.limiter.Limit(middleware.ClassDownload, budgets.Download),
		r.certHandler.DownloadSVG)
	r.engine.GET("/certificates",
		r.limiter.Limit(middleware.ClassList, budgets.List),
		r.certHandler.ListCertificates)
	r.engine.GET("/search/email/:email",
		r.limiter.Limit(middleware.ClassSearch, budgets.Search),
		r.certHandler.SearchByEmail)
	r.engine.GET("/search/name/:name",
		r.limiter.Limit(middleware.ClassSearch, budgets.Search),
		r.certHandler.SearchByName)

	r.engine.POST("/certificates/generate",
		r.limiter.Limit(middleware.ClassBatch, budgets.Batch),
		r.adminMw.RequireAdmin(),
		r.adminHdl.Generate)

	admin := r.engine.Group("/admin")
	{
		admin.GET("/login", r.adminHdl.ShowLoginPage)
		admin.POST("/login", r.adminHdl.Login)
		admin.GET("/logout", r.adminHdl.Logout)

		protected := admin.Group("/")
		protected.Use(r.adminMw.RequireAdmin())
		{
			protected.GET("/dashboard", r.adminHdl.Dashboard)
			protected.GET("/export", r.adminHdl.Export)
		}
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
