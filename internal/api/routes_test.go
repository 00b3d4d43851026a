package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/certamo/internal/api/handlers"
	"github.com/certamo/internal/api/middleware"
	"github.com/certamo/internal/config"
	"github.com/certamo/internal/db/models"
	"github.com/certamo/internal/fetcher"
	"github.com/certamo/internal/policy"
	"github.com/certamo/internal/render"
	"github.com/certamo/internal/services"
	"github.com/certamo/internal/store"
	"github.com/certamo/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestRouter builds the full production route table in a scratch
// directory holding the HTML templates and certificate template.
func newTestRouter(t *testing.T, cfg *config.Configuration) *Router {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "templates"), 0o755))
	for name, body := range map[string]string{
		"certificate.html": `<html><body>{{.Name}}</body></html>`,
		"error.html":       `<html><body>{{.message}}</body></html>`,
		"admin_login.html": `<html><body><form>{{.Error}}</form></body></html>`,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "templates", name), []byte(body), 0o644))
	}
	templatePath := filepath.Join(dir, "template.svg")
	require.NoError(t, os.WriteFile(templatePath,
		[]byte(`<svg xmlns="http://www.w3.org/2000/svg"><text>{{NAME}}</text></svg>`), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Certificate{}))

	logger := zap.NewNop()
	collector := metrics.NewMetricsCollector()
	records := store.NewCertificateStore(db, logger)
	checker := policy.NewChecker(cfg.Delivery.AllowedAssetHosts)
	limiter := middleware.NewRateLimiter(middleware.NewMemoryCounterStore(), cfg.RateLimit.Window, cfg.RateLimit.Enabled, logger)

	delivery := services.NewDeliveryService(
		records,
		fetcher.NewFetcher(checker, time.Second, 1<<20, logger, collector),
		render.NewRenderer(1, time.Second, true, logger, collector),
		nil, checker, logger, collector,
	)
	generator, err := services.NewGeneratorService(
		records, nil, nil, templatePath, cfg.Server.BaseURL, logger, collector,
	)
	require.NoError(t, err)
	sessions := services.NewSessionService("", "dev-password", time.Hour, logger)

	router := NewRouter(
		cfg, logger, collector, limiter,
		middleware.NewAdminMiddleware(sessions, nil, logger),
		handlers.NewCertificateHandler(delivery, records, cfg.Server.BaseURL, logger),
		handlers.NewAdminHandler(sessions, generator, records, cfg.Server.BaseURL, cfg.Delivery.MaxBatchSize, logger),
		handlers.NewHealthHandler(records, false, logger),
	)
	router.SetupRoutes()
	return router
}

func testConfig() *config.Configuration {
	cfg := &config.Configuration{}
	cfg.Server.BaseURL = "https://certs.example.com"
	cfg.Delivery.AllowedAssetHosts = []string{"res.cloudinary.com"}
	cfg.Delivery.MaxBatchSize = 10
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.Window = time.Minute
	cfg.RateLimit.View = 2
	cfg.RateLimit.Preview = 30
	cfg.RateLimit.Download = 100
	cfg.RateLimit.Batch = 10
	cfg.RateLimit.List = 60
	cfg.RateLimit.Search = 30
	return cfg
}

func get(router *Router, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.GetEngine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

// The HTML page and its PDF rendition are the same certificate; both routes
// must drain one shared budget.
func TestViewAndPDFShareOneBudget(t *testing.T) {
	router := newTestRouter(t, testConfig())

	w := get(router, "/certificate/ghost-cert")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(router, "/certificate/ghost-cert/pdf")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// the budget of 2 is spent across both routes
	w = get(router, "/certificate/ghost-cert")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	w = get(router, "/certificate/ghost-cert/pdf")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// other classes keep their own budgets
	w = get(router, "/download/ghost-cert")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPublicRouteTable(t *testing.T) {
	router := newTestRouter(t, testConfig())

	for path, want := range map[string]int{
		"/":                     http.StatusOK,
		"/health":               http.StatusOK,
		"/metrics":              http.StatusOK,
		"/certificates":         http.StatusOK,
		"/search/email/nobody":  http.StatusOK,
		"/search/name/nobody":   http.StatusOK,
		"/admin/login":          http.StatusOK,
		"/admin/dashboard":      http.StatusUnauthorized,
		"/admin/export":         http.StatusUnauthorized,
		"/download/ghost-cert":  http.StatusNotFound,
		"/preview/ghost-cert":   http.StatusServiceUnavailable,
	} {
		w := get(router, path)
		assert.Equal(t, want, w.Code, "GET %s", path)
	}
}
