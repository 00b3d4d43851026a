package handlers

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/certamo/internal/api/middleware"
	"github.com/certamo/internal/db/models"
	"github.com/certamo/internal/policy"
	"github.com/certamo/internal/services"
	"github.com/certamo/internal/store"
	"github.com/certamo/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testPageTemplates = `
{{define "certificate.html"}}<html><body><h1>{{.Name}}</h1><p>{{.Slug}} {{.Date}}</p></body></html>{{end}}
{{define "error.html"}}<html><body><p>{{.message}}</p></body></html>{{end}}
`

type stubFetcher struct {
	payload []byte
	calls   int
}

func (f *stubFetcher) Fetch(_ context.Context, _ string) ([]byte, error) {
	f.calls++
	return f.payload, nil
}

type stubRenderer struct {
	calls int
}

func (r *stubRenderer) PDF(_ context.Context, _ []byte) ([]byte, error) {
	r.calls++
	return []byte("%PDF-1.4 stub"), nil
}

type stubPreviews struct{}

func (stubPreviews) PNGPreviewURL(publicID string, width, height int) string {
	return fmt.Sprintf("https://res.cloudinary.com/demo/image/upload/w_%d,h_%d,c_fit,f_png/%s", width, height, publicID)
}

type handlerFixture struct {
	router  *gin.Engine
	records *store.CertificateStore
	fetch   *stubFetcher
	render  *stubRenderer
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Certificate{}))

	logger := zap.NewNop()
	records := store.NewCertificateStore(db, logger)
	fetch := &stubFetcher{payload: []byte(`<svg xmlns="http://www.w3.org/2000/svg"/>`)}
	renderer := &stubRenderer{}

	delivery := services.NewDeliveryService(
		records, fetch, renderer, stubPreviews{},
		policy.NewChecker([]string{"res.cloudinary.com", "cloudinary.com"}),
		logger,
		metrics.NewMetricsCollector(),
	)

	handler := NewCertificateHandler(delivery, records, "https://certs.example.com", logger)

	limiter := middleware.NewRateLimiter(middleware.NewMemoryCounterStore(), time.Minute, true, logger)

	router := gin.New()
	router.SetHTMLTemplate(template.Must(template.New("pages").Parse(testPageTemplates)))
	router.GET("/certificate/:slug", limiter.Limit(middleware.ClassView, 10), handler.ViewCertificate)
	router.GET("/certificate/:slug/pdf", limiter.Limit(middleware.ClassView, 10), handler.DownloadPDF)
	router.GET("/certificate/:slug/svg", limiter.Limit(middleware.ClassDownload, 20), handler.DownloadSVG)
	router.GET("/certificate/:slug/preview", limiter.Limit(middleware.ClassPreview, 30), handler.Preview)
	router.GET("/certificates", limiter.Limit(middleware.ClassList, 60), handler.ListCertificates)
	router.GET("/certificates/search/email/:email", limiter.Limit(middleware.ClassSearch, 30), handler.SearchByEmail)

	return &handlerFixture{router: router, records: records, fetch: fetch, render: renderer}
}

func (f *handlerFixture) seed(t *testing.T, slug, name, email, assetURL string) {
	t.Helper()
	require.NoError(t, f.records.Create(context.Background(), &models.Certificate{
		Slug:           slug,
		RecipientName:  name,
		RecipientEmail: email,
		AssetURL:       assetURL,
		AssetPublicID:  "certificates/" + slug,
	}))
}

func (f *handlerFixture) get(path string, clientIP string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if clientIP != "" {
		req.RemoteAddr = clientIP + ":52814"
	}
	f.router.ServeHTTP(w, req)
	return w
}

func TestViewCertificatePageCountsView(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t, "maria-garcia", "María García", "maria@example.com",
		"https://res.cloudinary.com/demo/raw/upload/certificates/maria-garcia.svg")

	w := f.get("/certificate/maria-garcia", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "María García")
	assert.Contains(t, w.Body.String(), "maria-garcia")

	cert, err := f.records.GetBySlug(context.Background(), "maria-garcia")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cert.ViewCount)
}

func TestViewUnknownCertificate(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.get("/certificate/no-such-cert", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Certificate not found")
}

func TestViewRejectsMalformedSlug(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.get("/certificate/Maria%20Garcia", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid certificate identifier")
}

func TestPDFDeliversRenderedDocument(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t, "maria-garcia", "María García", "maria@example.com",
		"https://res.cloudinary.com/demo/raw/upload/certificates/maria-garcia.svg")

	w := f.get("/certificate/maria-garcia/pdf", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "maria-garcia.pdf")
	assert.Equal(t, 1, f.fetch.calls)
	assert.Equal(t, 1, f.render.calls)
}

func TestPoisonedAssetURLNeverFetched(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t, "poisoned", "Poisoned Record", "x@example.com",
		"http://169.254.169.254/latest/meta-data/")

	for _, path := range []string{"/certificate/poisoned/pdf", "/certificate/poisoned/svg"} {
		w := f.get(path, "")
		assert.Equal(t, http.StatusInternalServerError, w.Code, path)
		assert.Contains(t, w.Body.String(), "Certificate is not available")
		assert.NotContains(t, w.Body.String(), "169.254.169.254", "the stored URL must never be echoed")
	}
	assert.Zero(t, f.fetch.calls, "no outbound request may leave the service")
	assert.Zero(t, f.render.calls)
}

func TestPreviewRedirectsToCDN(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t, "maria-garcia", "María García", "maria@example.com",
		"https://res.cloudinary.com/demo/raw/upload/certificates/maria-garcia.svg")

	w := f.get("/certificate/maria-garcia/preview", "")
	assert.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	assert.Contains(t, location, "w_1200,h_675,c_fit,f_png")
	assert.Contains(t, location, "certificates/maria-garcia")
}

func TestViewBudgetEnforced(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t, "maria-garcia", "María García", "maria@example.com",
		"https://res.cloudinary.com/demo/raw/upload/certificates/maria-garcia.svg")

	for i := 0; i < 10; i++ {
		w := f.get("/certificate/maria-garcia", "203.0.113.7")
		require.Equal(t, http.StatusOK, w.Code, "request %d should fit the budget", i+1)
	}

	w := f.get("/certificate/maria-garcia", "203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Too many requests")

	// another client still has a full budget
	w = f.get("/certificate/maria-garcia", "198.51.100.9")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListCertificates(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t, "maria-garcia", "María García", "maria@example.com",
		"https://res.cloudinary.com/demo/raw/upload/certificates/maria-garcia.svg")
	f.seed(t, "juan-perez", "Juan Pérez", "juan@example.com",
		"https://res.cloudinary.com/demo/raw/upload/certificates/juan-perez.svg")

	w := f.get("/certificates?limit=1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":2`)
	assert.Contains(t, w.Body.String(), `"limit":1`)
}

func TestSearchByEmail(t *testing.T) {
	f := newHandlerFixture(t)
	f.seed(t, "maria-garcia", "María García", "maria@example.com",
		"https://res.cloudinary.com/demo/raw/upload/certificates/maria-garcia.svg")

	w := f.get("/certificates/search/email/maria", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "maria-garcia")

	w = f.get("/certificates/search/email/nobody", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":0`)
}
