package cloudinary

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"go.uber.org/zap"
)

// Storage wraps the Cloudinary SDK for certificate asset storage. Assets
// are uploaded as raw SVG files under a configured folder; previews are
// served through Cloudinary's on-the-fly PNG transformation.
type Storage struct {
	client    *cloudinary.Cloudinary
	cloudName string
	folder    string
	logger    *zap.Logger
}

// UploadResult describes a stored asset.
type UploadResult struct {
	PublicID  string
	SecureURL string
	Bytes     int
}

func NewStorage(cloudName, apiKey, apiSecret, folder string, logger *zap.Logger) (*Storage, error) {
	if cloudName == "" || apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("cloudinary credentials are not configured")
	}

	client, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &Storage{
		client:    client,
		cloudName: cloudName,
		folder:    folder,
		logger:    logger.With(zap.String("component", "cloudinary")),
	}, nil
}

// UploadSVG stores svg under publicID. Re-uploads overwrite and invalidate
// any cached copy on the CDN edge.
func (s *Storage) UploadSVG(ctx context.Context, svg []byte, publicID string) (*UploadResult, error) {
	result, err := s.client.Upload.Upload(ctx, strings.NewReader(string(svg)), uploader.UploadParams{
		PublicID:     publicID,
		Folder:       s.folder,
		ResourceType: "raw",
		Overwrite:    api.Bool(true),
		Invalidate:   api.Bool(true),
	})
	if err != nil {
		s.logger.Error("SVG upload failed", zap.String("public_id", publicID), zap.Error(err))
		return nil, fmt.Errorf("cloudinary upload failed: %w", err)
	}

	s.logger.Info("SVG uploaded",
		zap.String("public_id", result.PublicID),
		zap.Int("bytes", result.Bytes))

	return &UploadResult{
		PublicID:  result.PublicID,
		SecureURL: result.SecureURL,
		Bytes:     result.Bytes,
	}, nil
}

// Delete removes a stored asset.
func (s *Storage) Delete(ctx context.Context, publicID string) error {
	_, err := s.client.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: "raw",
		Invalidate:   api.Bool(true),
	})
	if err != nil {
		s.logger.Error("Asset delete failed", zap.String("public_id", publicID), zap.Error(err))
		return fmt.Errorf("cloudinary delete failed: %w", err)
	}
	return nil
}

// PNGPreviewURL returns the delivery URL that converts the stored SVG to a
// fitted PNG, sized for social-media preview cards.
func (s *Storage) PNGPreviewURL(publicID string, width, height int) string {
	return fmt.Sprintf("https://res.cloudinary.com/%s/image/upload/w_%d,h_%d,c_fit,f_png/%s",
		s.cloudName, width, height, publicID)
}
