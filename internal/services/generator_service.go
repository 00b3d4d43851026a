package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/certamo/internal/db/models"
	"github.com/certamo/internal/store"
	"github.com/certamo/internal/utils"
	"github.com/certamo/pkg/cloudinary"
	"github.com/certamo/pkg/metrics"
	"go.uber.org/zap"
)

var (
	ErrStorageNotConfigured = errors.New("asset storage is not configured")
	ErrEmptyName            = errors.New("participant name produces an empty slug")
)

const maxSlugRetries = 3

// AssetUploader stores a rendered SVG and reports where it landed.
type AssetUploader interface {
	UploadSVG(ctx context.Context, svg []byte, publicID string) (*cloudinary.UploadResult, error)
}

// Notifier mails a recipient their certificate link.
type Notifier interface {
	SendCertificateLink(to, name, certificateURL string) error
}

type Participant struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
}

type GenerationResult struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Slug      string `json:"slug,omitempty"`
	URL       string `json:"url,omitempty"`
	Success   bool   `json:"success"`
	EmailSent bool   `json:"email_sent,omitempty"`
	Error     string `json:"error,omitempty"`
}

type BatchSummary struct {
	Total     int                `json:"total"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Results   []GenerationResult `json:"results"`
}

// GeneratorService produces personalized certificates: template fill,
// unique slug assignment, CDN upload, record persistence and optional
// recipient notification.
type GeneratorService struct {
	records  *store.CertificateStore
	uploader AssetUploader
	notifier Notifier
	template []byte
	baseURL  string
	logger   *zap.Logger
	metrics  *metrics.MetricsCollector
}

func NewGeneratorService(
	records *store.CertificateStore,
	uploader AssetUploader,
	notifier Notifier,
	templatePath string,
	baseURL string,
	logger *zap.Logger,
	collector *metrics.MetricsCollector,
) (*GeneratorService, error) {
	template, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate template: %w", err)
	}

	return &GeneratorService{
		records:  records,
		uploader: uploader,
		notifier: notifier,
		template: template,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger.With(zap.String("service", "generator_service")),
		metrics:  collector,
	}, nil
}

// Generate creates one certificate. Regenerating for a name that already
// has a certificate never overwrites: the new record gets the next
// versioned slug (base, base-2, base-3, ...).
func (gs *GeneratorService) Generate(ctx context.Context, p Participant, sendEmail bool) (*GenerationResult, error) {
	if gs.uploader == nil {
		return nil, ErrStorageNotConfigured
	}

	slug, err := gs.uniqueSlug(ctx, p.Name)
	if err != nil {
		return nil, err
	}

	svg := gs.fillTemplate(p.Name)

	var upload *cloudinary.UploadResult
	for attempt := 0; ; attempt++ {
		upload, err = gs.uploader.UploadSVG(ctx, svg, slug)
		if err != nil {
			gs.metrics.IncrementCounter("generation_upload_failed", nil)
			return nil, err
		}

		err = gs.records.Create(ctx, &models.Certificate{
			Slug:           slug,
			RecipientName:  p.Name,
			RecipientEmail: p.Email,
			AssetURL:       upload.SecureURL,
			AssetPublicID:  upload.PublicID,
		})
		if err == nil {
			break
		}
		// a concurrent generation can claim the slug between the
		// existence check and the insert; move on to the next version
		if errors.Is(err, store.ErrDuplicateSlug) && attempt < maxSlugRetries {
			gs.logger.Warn("Slug claimed concurrently, retrying",
				zap.String("slug", slug))
			slug, err = gs.uniqueSlug(ctx, p.Name)
			if err != nil {
				return nil, err
			}
			continue
		}
		return nil, fmt.Errorf("failed to persist certificate: %w", err)
	}

	result := &GenerationResult{
		Name:    p.Name,
		Email:   p.Email,
		Slug:    slug,
		URL:     gs.baseURL + "/certificate/" + slug,
		Success: true,
	}

	if sendEmail && gs.notifier != nil {
		if err := gs.notifier.SendCertificateLink(p.Email, p.Name, result.URL); err != nil {
			// notification failure does not invalidate the certificate
			gs.logger.Warn("Failed to send certificate email",
				zap.String("slug", slug), zap.Error(err))
		} else {
			result.EmailSent = true
		}
	}

	gs.metrics.IncrementCounter("certificates_generated", nil)
	gs.logger.Info("Certificate generated",
		zap.String("slug", slug),
		zap.String("public_id", upload.PublicID))
	return result, nil
}

// GenerateBatch processes participants one by one; individual failures are
// reported per item and never abort the batch.
func (gs *GeneratorService) GenerateBatch(ctx context.Context, participants []Participant, sendEmail bool) *BatchSummary {
	summary := &BatchSummary{
		Total:   len(participants),
		Results: make([]GenerationResult, 0, len(participants)),
	}

	gs.logger.Info("Starting certificate batch", zap.Int("count", len(participants)))

	for i, p := range participants {
		if ctx.Err() != nil {
			break
		}

		result, err := gs.Generate(ctx, p, sendEmail)
		if err != nil {
			summary.Failed++
			summary.Results = append(summary.Results, GenerationResult{
				Name:    p.Name,
				Email:   p.Email,
				Success: false,
				Error:   err.Error(),
			})
			gs.logger.Error("Failed to generate certificate",
				zap.String("name", p.Name), zap.Error(err))
			continue
		}

		summary.Succeeded++
		summary.Results = append(summary.Results, *result)

		if (i+1)%50 == 0 {
			gs.logger.Info("Batch progress",
				zap.Int("processed", i+1), zap.Int("total", len(participants)))
		}
	}

	gs.logger.Info("Certificate batch completed",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	return summary
}

func (gs *GeneratorService) fillTemplate(name string) []byte {
	filled := string(gs.template)
	filled = strings.ReplaceAll(filled, "{{NAME}}", name)
	// legacy templates carry the Spanish placeholder
	filled = strings.ReplaceAll(filled, "{{NOMBRE}}", name)
	return []byte(filled)
}

func (gs *GeneratorService) uniqueSlug(ctx context.Context, name string) (string, error) {
	base := utils.Slugify(name)
	if base == "" {
		return "", ErrEmptyName
	}

	slug := base
	for counter := 2; ; counter++ {
		exists, err := gs.records.SlugExists(ctx, slug)
		if err != nil {
			return "", err
		}
		if !exists {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, counter)
	}
}
