package services

import (
	"context"
	"errors"
	"time"

	"github.com/certamo/internal/db/models"
	"github.com/certamo/internal/policy"
	"github.com/certamo/internal/store"
	"github.com/certamo/pkg/metrics"
	"go.uber.org/zap"
)

var (
	ErrInvalidSlug = errors.New("slug is not valid")
	ErrNotFound    = errors.New("certificate not found")
	// ErrAssetNotPermitted means a stored record points outside the trusted
	// host allow-list. Surfaced to callers as a generic configuration
	// error; the offending URL is never echoed back.
	ErrAssetNotPermitted = errors.New("stored asset location is not permitted")
	// ErrPreviewUnavailable means no storage backend is configured to build
	// preview URLs.
	ErrPreviewUnavailable = errors.New("preview is not available")
)

// RecordStore is the read/update contract the delivery path needs from the
// certificate store.
type RecordStore interface {
	GetBySlug(ctx context.Context, slug string) (*models.Certificate, error)
	MarkViewed(ctx context.Context, slug string) error
}

// AssetFetcher retrieves the stored SVG from the CDN.
type AssetFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// PDFRenderer rasterizes SVG bytes to PDF.
type PDFRenderer interface {
	PDF(ctx context.Context, svg []byte) ([]byte, error)
}

// PreviewURLBuilder produces the CDN delivery URL for a PNG preview of a
// stored asset.
type PreviewURLBuilder interface {
	PNGPreviewURL(publicID string, width, height int) string
}

// DeliveryService runs the certificate delivery pipeline: slug validation,
// record lookup, asset-URL policy check, bounded fetch, render, view
// accounting. Cheap checks always run before expensive work.
type DeliveryService struct {
	records  RecordStore
	fetcher  AssetFetcher
	renderer PDFRenderer
	previews PreviewURLBuilder
	checker  *policy.Checker
	logger   *zap.Logger
	metrics  *metrics.MetricsCollector
}

func NewDeliveryService(
	records RecordStore,
	fetcher AssetFetcher,
	renderer PDFRenderer,
	previews PreviewURLBuilder,
	checker *policy.Checker,
	logger *zap.Logger,
	collector *metrics.MetricsCollector,
) *DeliveryService {
	return &DeliveryService{
		records:  records,
		fetcher:  fetcher,
		renderer: renderer,
		previews: previews,
		checker:  checker,
		logger:   logger.With(zap.String("service", "delivery_service")),
		metrics:  collector,
	}
}

// lookup runs the stages shared by every public route: slug validation,
// record lookup and the asset-URL policy check.
func (ds *DeliveryService) lookup(ctx context.Context, slug string) (*models.Certificate, error) {
	if !policy.ValidSlug(slug) {
		ds.metrics.IncrementCounter("delivery_invalid_slug", nil)
		return nil, ErrInvalidSlug
	}

	cert, err := ds.records.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !ds.checker.AllowedAssetURL(cert.AssetURL) {
		// logged for operators, never returned to the caller
		ds.logger.Error("Stored asset URL failed the allow-list check",
			zap.String("slug", slug))
		ds.metrics.IncrementCounter("delivery_asset_not_permitted", nil)
		return nil, ErrAssetNotPermitted
	}

	return cert, nil
}

// View returns the record for the HTML certificate page and counts the
// view. The counter moves only after every validation stage has passed.
func (ds *DeliveryService) View(ctx context.Context, slug string) (*models.Certificate, error) {
	cert, err := ds.lookup(ctx, slug)
	if err != nil {
		return nil, err
	}

	if err := ds.records.MarkViewed(ctx, slug); err != nil {
		// the page is still served; losing one count beats failing the view
		ds.logger.Warn("Failed to record view", zap.String("slug", slug), zap.Error(err))
	} else {
		cert.ViewCount++
	}

	ds.metrics.IncrementCounter("certificate_views", nil)
	return cert, nil
}

// Download fetches the raw SVG asset for direct delivery.
func (ds *DeliveryService) Download(ctx context.Context, slug string) ([]byte, *models.Certificate, error) {
	cert, err := ds.lookup(ctx, slug)
	if err != nil {
		return nil, nil, err
	}

	svg, err := ds.fetcher.Fetch(ctx, cert.AssetURL)
	if err != nil {
		return nil, nil, err
	}

	ds.metrics.IncrementCounter("certificate_downloads", nil)
	return svg, cert, nil
}

// PDF fetches the SVG and renders it. The view count moves only after the
// render has fully succeeded, so failed attempts never inflate it.
func (ds *DeliveryService) PDF(ctx context.Context, slug string) ([]byte, *models.Certificate, error) {
	cert, err := ds.lookup(ctx, slug)
	if err != nil {
		return nil, nil, err
	}

	svg, err := ds.fetcher.Fetch(ctx, cert.AssetURL)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	pdf, err := ds.renderer.PDF(ctx, svg)
	if err != nil {
		return nil, nil, err
	}

	if err := ds.records.MarkViewed(ctx, slug); err != nil {
		ds.logger.Warn("Failed to record view after render",
			zap.String("slug", slug), zap.Error(err))
	}

	ds.metrics.ObserveLatency("delivery_pdf", time.Since(start))
	ds.metrics.IncrementCounter("certificate_pdfs", nil)
	return pdf, cert, nil
}

// PreviewURL resolves the PNG preview location for a certificate.
func (ds *DeliveryService) PreviewURL(ctx context.Context, slug string, width, height int) (string, error) {
	if ds.previews == nil {
		return "", ErrPreviewUnavailable
	}

	cert, err := ds.lookup(ctx, slug)
	if err != nil {
		return "", err
	}

	ds.metrics.IncrementCounter("certificate_previews", nil)
	return ds.previews.PNGPreviewURL(cert.AssetPublicID, width, height), nil
}
