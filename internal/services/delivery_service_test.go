package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/certamo/internal/db/models"
	"github.com/certamo/internal/policy"
	"github.com/certamo/internal/render"
	"github.com/certamo/internal/store"
	"github.com/certamo/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRecordStore struct {
	records     map[string]*models.Certificate
	lookups     int
	viewsMarked map[string]int
}

func newFakeRecordStore(records ...*models.Certificate) *fakeRecordStore {
	s := &fakeRecordStore{
		records:     make(map[string]*models.Certificate),
		viewsMarked: make(map[string]int),
	}
	for _, r := range records {
		s.records[r.Slug] = r
	}
	return s
}

func (s *fakeRecordStore) GetBySlug(_ context.Context, slug string) (*models.Certificate, error) {
	s.lookups++
	if cert, ok := s.records[slug]; ok {
		copied := *cert
		return &copied, nil
	}
	return nil, store.ErrNotFound
}

func (s *fakeRecordStore) MarkViewed(_ context.Context, slug string) error {
	if _, ok := s.records[slug]; !ok {
		return store.ErrNotFound
	}
	s.viewsMarked[slug]++
	return nil
}

type fakeFetcher struct {
	payload []byte
	err     error
	calls   int
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

type fakeRenderer struct {
	pdf   []byte
	err   error
	calls int
}

func (r *fakeRenderer) PDF(_ context.Context, _ []byte) ([]byte, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.pdf, nil
}

type fakePreviews struct{}

func (fakePreviews) PNGPreviewURL(publicID string, width, height int) string {
	return fmt.Sprintf("https://res.cloudinary.com/demo/image/upload/w_%d,h_%d,c_fit,f_png/%s", width, height, publicID)
}

func testRecord() *models.Certificate {
	return &models.Certificate{
		Slug:           "test-usuario",
		RecipientName:  "Test Usuario",
		RecipientEmail: "test@example.com",
		AssetURL:       "https://res.cloudinary.com/demo/raw/upload/certificates/test-usuario.svg",
		AssetPublicID:  "certificates/test-usuario",
	}
}

func newDelivery(records RecordStore, f AssetFetcher, r PDFRenderer) *DeliveryService {
	return NewDeliveryService(
		records, f, r, fakePreviews{},
		policy.NewChecker([]string{"res.cloudinary.com", "cloudinary.com"}),
		zap.NewNop(),
		metrics.NewMetricsCollector(),
	)
}

func TestViewInvalidSlugSkipsStore(t *testing.T) {
	records := newFakeRecordStore(testRecord())
	ds := newDelivery(records, &fakeFetcher{}, &fakeRenderer{})

	for _, slug := range []string{"../etc/passwd", "UPPER", "a b", ""} {
		_, err := ds.View(context.Background(), slug)
		assert.ErrorIs(t, err, ErrInvalidSlug, "slug %q", slug)
	}
	assert.Zero(t, records.lookups, "invalid slugs must never reach the store")
}

func TestViewUnknownSlug(t *testing.T) {
	ds := newDelivery(newFakeRecordStore(), &fakeFetcher{}, &fakeRenderer{})

	_, err := ds.View(context.Background(), "nope-nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestViewCountsExactlyOncePerView(t *testing.T) {
	records := newFakeRecordStore(testRecord())
	ds := newDelivery(records, &fakeFetcher{}, &fakeRenderer{})

	cert, err := ds.View(context.Background(), "test-usuario")
	require.NoError(t, err)
	assert.Equal(t, "Test Usuario", cert.RecipientName)
	assert.Equal(t, 1, records.viewsMarked["test-usuario"])

	_, err = ds.View(context.Background(), "test-usuario")
	require.NoError(t, err)
	assert.Equal(t, 2, records.viewsMarked["test-usuario"])
}

func TestDisallowedAssetURLNeverFetched(t *testing.T) {
	record := testRecord()
	record.AssetURL = "http://169.254.169.254/latest/meta-data/"
	records := newFakeRecordStore(record)
	fetch := &fakeFetcher{}
	ds := newDelivery(records, fetch, &fakeRenderer{})

	_, _, err := ds.Download(context.Background(), "test-usuario")
	assert.ErrorIs(t, err, ErrAssetNotPermitted)
	assert.Zero(t, fetch.calls, "no outbound fetch may be attempted")

	_, err = ds.View(context.Background(), "test-usuario")
	assert.ErrorIs(t, err, ErrAssetNotPermitted)
	assert.Zero(t, records.viewsMarked["test-usuario"], "rejected views must not count")
}

func TestPDFMarksViewOnlyAfterSuccessfulRender(t *testing.T) {
	records := newFakeRecordStore(testRecord())
	fetch := &fakeFetcher{payload: []byte("<svg/>")}
	renderer := &fakeRenderer{err: render.ErrRenderTimeout}
	ds := newDelivery(records, fetch, renderer)

	_, _, err := ds.PDF(context.Background(), "test-usuario")
	assert.ErrorIs(t, err, render.ErrRenderTimeout)
	assert.Zero(t, records.viewsMarked["test-usuario"], "failed render must not count as a view")

	renderer.err = nil
	renderer.pdf = []byte("%PDF")
	pdf, cert, err := ds.PDF(context.Background(), "test-usuario")
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(pdf))
	assert.Equal(t, "test-usuario", cert.Slug)
	assert.Equal(t, 1, records.viewsMarked["test-usuario"])
}

func TestPDFFetchFailureSkipsRender(t *testing.T) {
	records := newFakeRecordStore(testRecord())
	fetch := &fakeFetcher{err: errors.New("upstream down")}
	renderer := &fakeRenderer{}
	ds := newDelivery(records, fetch, renderer)

	_, _, err := ds.PDF(context.Background(), "test-usuario")
	require.Error(t, err)
	assert.Zero(t, renderer.calls)
	assert.Zero(t, records.viewsMarked["test-usuario"])
}

func TestPreviewURL(t *testing.T) {
	ds := newDelivery(newFakeRecordStore(testRecord()), &fakeFetcher{}, &fakeRenderer{})

	url, err := ds.PreviewURL(context.Background(), "test-usuario", 1200, 675)
	require.NoError(t, err)
	assert.Contains(t, url, "w_1200,h_675")
	assert.Contains(t, url, "certificates/test-usuario")
}

func TestPreviewUnavailableWithoutStorage(t *testing.T) {
	ds := NewDeliveryService(
		newFakeRecordStore(testRecord()), &fakeFetcher{}, &fakeRenderer{}, nil,
		policy.NewChecker([]string{"res.cloudinary.com"}),
		zap.NewNop(),
		metrics.NewMetricsCollector(),
	)

	_, err := ds.PreviewURL(context.Background(), "test-usuario", 1200, 675)
	assert.ErrorIs(t, err, ErrPreviewUnavailable)
}
