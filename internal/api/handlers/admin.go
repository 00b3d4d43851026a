package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/certamo/internal/api/middleware"
	"github.com/certamo/internal/services"
	"github.com/certamo/internal/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AdminHandler struct {
	sessions  *services.SessionService
	generator *services.GeneratorService
	records   *store.CertificateStore
	baseURL   string
	maxBatch  int
	logger    *zap.Logger
}

func NewAdminHandler(
	sessions *services.SessionService,
	generator *services.GeneratorService,
	records *store.CertificateStore,
	baseURL string,
	maxBatch int,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		sessions:  sessions,
		generator: generator,
		records:   records,
		baseURL:   baseURL,
		maxBatch:  maxBatch,
		logger:    logger.With(zap.String("handler", "admin")),
	}
}

func (ah *AdminHandler) ShowLoginPage(c *gin.Context) {
	c.HTML(http.StatusOK, "admin_login.html", gin.H{})
}

// Login checks the admin password and sets the session cookie.
func (ah *AdminHandler) Login(c *gin.Context) {
	password := c.PostForm("password")

	token, err := ah.sessions.Login(password)
	if err != nil {
		ah.logger.Warn("Admin login failed", zap.String("client_ip", c.ClientIP()))
		c.HTML(http.StatusUnauthorized, "admin_login.html", gin.H{
			"Error": "Incorrect password",
		})
		return
	}

	c.SetCookie(middleware.SessionCookie, token, 0, "/", "", false, true)
	c.Redirect(http.StatusSeeOther, "/admin/dashboard")
}

func (ah *AdminHandler) Logout(c *gin.Context) {
	if token, err := c.Cookie(middleware.SessionCookie); err == nil {
		ah.sessions.Logout(token)
	}
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", false, true)
	c.Redirect(http.StatusSeeOther, "/admin/login")
}

// Dashboard returns the stats and recent certificates for the admin UI.
func (ah *AdminHandler) Dashboard(c *gin.Context) {
	total, err := ah.records.Count(c.Request.Context())
	if err != nil {
		ah.logger.Error("Failed to count certificates", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	certs, err := ah.records.List(c.Request.Context(), 1000, 0)
	if err != nil {
		ah.logger.Error("Failed to list certificates", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	rows := make([]gin.H, 0, len(certs))
	for _, cert := range certs {
		rows = append(rows, gin.H{
			"slug":       cert.Slug,
			"name":       cert.RecipientName,
			"email":      cert.RecipientEmail,
			"url":        ah.baseURL + "/certificate/" + cert.Slug,
			"view_count": cert.ViewCount,
			"created_at": cert.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"total":        total,
		"certificates": rows,
	})
}

type generateRequest struct {
	Participants []services.Participant `json:"participants" binding:"required,min=1,dive"`
	SendEmail    bool                   `json:"send_email"`
}

// Generate runs a certificate batch for the posted participants.
func (ah *AdminHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ah.logger.Warn("Rejected invalid generation payload", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Invalid payload"})
		return
	}

	if len(req.Participants) > ah.maxBatch {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": fmt.Sprintf("Batch exceeds the maximum of %d participants", ah.maxBatch),
		})
		return
	}

	summary := ah.generator.GenerateBatch(c.Request.Context(), req.Participants, req.SendEmail)
	c.JSON(http.StatusOK, summary)
}

// Export streams the full certificate table as CSV.
func (ah *AdminHandler) Export(c *gin.Context) {
	certs, err := ah.records.List(c.Request.Context(), 10000, 0)
	if err != nil {
		ah.logger.Error("CSV export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	filename := "certificates_" + time.Now().Format("20060102") + ".csv"
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)

	writer := csv.NewWriter(c.Writer)
	writer.Write([]string{"Name", "Email", "Slug", "URL", "Views", "Created", "Asset URL"})
	for _, cert := range certs {
		writer.Write([]string{
			cert.RecipientName,
			cert.RecipientEmail,
			cert.Slug,
			ah.baseURL + "/certificate/" + cert.Slug,
			strconv.FormatInt(cert.ViewCount, 10),
			cert.CreatedAt.UTC().Format(time.RFC3339),
			cert.AssetURL,
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		// headers are already sent, only the log can tell the export
		// was truncated
		ah.logger.Error("CSV export truncated", zap.Int("records", len(certs)), zap.Error(err))
	}
}
