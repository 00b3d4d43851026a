package handlers

import (
	"net/http"
	"time"

	"github.com/certamo/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type HealthHandler struct {
	records           *store.CertificateStore
	storageConfigured bool
	logger            *zap.Logger
}

func NewHealthHandler(records *store.CertificateStore, storageConfigured bool, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		records:           records,
		storageConfigured: storageConfigured,
		logger:            logger.With(zap.String("handler", "health")),
	}
}

// Health reports service status for monitoring.
func (hh *HealthHandler) Health(c *gin.Context) {
	total, err := hh.records.Count(c.Request.Context())
	if err != nil {
		hh.logger.Error("Health check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "unhealthy",
		})
		return
	}

	storage := "not_configured"
	if hh.storageConfigured {
		storage = "configured"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"database":      "connected",
		"storage":       storage,
		"total_records": total,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

// Index describes the public API surface.
func (hh *HealthHandler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "certamo",
		"version": "1.0",
		"endpoints": gin.H{
			"health":       "/health",
			"view":         "/certificate/:slug",
			"pdf":          "/certificate/:slug/pdf",
			"preview":      "/preview/:slug",
			"download":     "/download/:slug",
			"list":         "/certificates",
			"search_email": "/search/email/:email",
			"search_name":  "/search/name/:name",
			"generate":     "/certificates/generate (POST, admin)",
			"admin":        "/admin/login",
		},
	})
}
