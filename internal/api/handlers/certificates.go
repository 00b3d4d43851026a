package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/certamo/internal/db/models"
	"github.com/certamo/internal/fetcher"
	"github.com/certamo/internal/render"
	"github.com/certamo/internal/services"
	"github.com/certamo/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	previewWidth  = 1200
	previewHeight = 675
)

// CertificateHandler serves the public certificate routes. Every internal
// failure kind is translated here into one of a small set of sanitized
// responses; raw error text never reaches the client.
type CertificateHandler struct {
	delivery *services.DeliveryService
	records  *store.CertificateStore
	baseURL  string
	logger   *zap.Logger
}

func NewCertificateHandler(
	delivery *services.DeliveryService,
	records *store.CertificateStore,
	baseURL string,
	logger *zap.Logger,
) *CertificateHandler {
	return &CertificateHandler{
		delivery: delivery,
		records:  records,
		baseURL:  baseURL,
		logger:   logger.With(zap.String("handler", "certificate")),
	}
}

// ViewCertificate renders the public HTML page for one certificate.
func (ch *CertificateHandler) ViewCertificate(c *gin.Context) {
	slug := c.Param("slug")

	cert, err := ch.delivery.View(c.Request.Context(), slug)
	if err != nil {
		status, message := ch.mapDeliveryError(slug, err)
		c.HTML(status, "error.html", gin.H{"message": message})
		return
	}

	c.HTML(http.StatusOK, "certificate.html", gin.H{
		"Name":     cert.RecipientName,
		"Slug":     cert.Slug,
		"Date":     cert.CreatedAt.Format("January 2, 2006"),
		"AssetURL": cert.AssetURL,
		"PageURL":  ch.baseURL + "/certificate/" + cert.Slug,
	})
}

// DownloadPDF streams the certificate rendered as PDF.
func (ch *CertificateHandler) DownloadPDF(c *gin.Context) {
	slug := c.Param("slug")

	pdf, cert, err := ch.delivery.PDF(c.Request.Context(), slug)
	if err != nil {
		status, message := ch.mapDeliveryError(slug, err)
		c.JSON(status, gin.H{"error": message})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+cert.Slug+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// Preview redirects to the CDN-transformed PNG used by social cards.
func (ch *CertificateHandler) Preview(c *gin.Context) {
	slug := c.Param("slug")

	url, err := ch.delivery.PreviewURL(c.Request.Context(), slug, previewWidth, previewHeight)
	if err != nil {
		status, message := ch.mapDeliveryError(slug, err)
		c.JSON(status, gin.H{"error": message})
		return
	}

	c.Redirect(http.StatusFound, url)
}

// DownloadSVG serves the stored SVG asset bytes.
func (ch *CertificateHandler) DownloadSVG(c *gin.Context) {
	slug := c.Param("slug")

	svg, cert, err := ch.delivery.Download(c.Request.Context(), slug)
	if err != nil {
		status, message := ch.mapDeliveryError(slug, err)
		c.JSON(status, gin.H{"error": message})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+cert.Slug+`.svg"`)
	c.Data(http.StatusOK, "image/svg+xml", svg)
}

// ListCertificates returns a paginated listing.
func (ch *CertificateHandler) ListCertificates(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	certs, err := ch.records.List(c.Request.Context(), limit, offset)
	if err != nil {
		ch.logger.Error("Failed to list certificates", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	total, err := ch.records.Count(c.Request.Context())
	if err != nil {
		ch.logger.Error("Failed to count certificates", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":        total,
		"limit":        limit,
		"offset":       offset,
		"certificates": ch.listing(certs),
	})
}

// SearchByEmail returns certificates whose recipient email contains the
// given fragment.
func (ch *CertificateHandler) SearchByEmail(c *gin.Context) {
	certs, err := ch.records.SearchByEmail(c.Request.Context(), c.Param("email"))
	if err != nil {
		ch.logger.Error("Email search failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":        len(certs),
		"certificates": ch.listing(certs),
	})
}

// SearchByName returns certificates whose recipient name contains the
// given fragment.
func (ch *CertificateHandler) SearchByName(c *gin.Context) {
	certs, err := ch.records.SearchByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		ch.logger.Error("Name search failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":        len(certs),
		"certificates": ch.listing(certs),
	})
}

type certificateListing struct {
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	URL          string `json:"url"`
	ViewCount    int64  `json:"view_count"`
	CreatedAt    string `json:"created_at"`
	LastViewedAt string `json:"last_viewed_at,omitempty"`
}

func (ch *CertificateHandler) listing(certs []models.Certificate) []certificateListing {
	out := make([]certificateListing, 0, len(certs))
	for _, cert := range certs {
		item := certificateListing{
			Slug:      cert.Slug,
			Name:      cert.RecipientName,
			Email:     cert.RecipientEmail,
			URL:       ch.baseURL + "/certificate/" + cert.Slug,
			ViewCount: cert.ViewCount,
			CreatedAt: cert.CreatedAt.UTC().Format(time.RFC3339),
		}
		if cert.LastViewedAt != nil {
			item.LastViewedAt = cert.LastViewedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, item)
	}
	return out
}

// mapDeliveryError translates pipeline failures into sanitized responses.
func (ch *CertificateHandler) mapDeliveryError(slug string, err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidSlug):
		ch.logger.Debug("Rejected invalid slug")
		return http.StatusBadRequest, "Invalid certificate identifier"
	case errors.Is(err, services.ErrNotFound):
		ch.logger.Debug("Certificate not found", zap.String("slug", slug))
		return http.StatusNotFound, "Certificate not found"
	case errors.Is(err, services.ErrAssetNotPermitted):
		// operator problem, reported generically
		return http.StatusInternalServerError, "Certificate is not available"
	case errors.Is(err, services.ErrPreviewUnavailable):
		return http.StatusServiceUnavailable, "Preview is not available"
	case errors.Is(err, render.ErrEngineBusy):
		ch.logger.Warn("Render pool exhausted", zap.String("slug", slug))
		return http.StatusServiceUnavailable, "Service is busy, try again shortly"
	case errors.Is(err, render.ErrRenderTimeout),
		errors.Is(err, render.ErrMalformedSVG):
		ch.logger.Error("Render failed", zap.String("slug", slug), zap.Error(err))
		return http.StatusInternalServerError, "Could not render the certificate"
	case errors.Is(err, fetcher.ErrFetchTimeout),
		errors.Is(err, fetcher.ErrPayloadTooLarge),
		errors.Is(err, fetcher.ErrDisallowedHost),
		errors.Is(err, fetcher.ErrUpstream):
		ch.logger.Error("Asset fetch failed", zap.String("slug", slug), zap.Error(err))
		return http.StatusInternalServerError, "Certificate asset is temporarily unavailable"
	default:
		ch.logger.Error("Unexpected delivery failure", zap.String("slug", slug), zap.Error(err))
		return http.StatusInternalServerError, "Internal server error"
	}
}
