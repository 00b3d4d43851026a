package store

import (
	"context"
	"errors"
	"time"

	"github.com/certamo/internal/db/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("certificate not found")
	ErrDuplicateSlug = errors.New("slug already exists")
)

// CertificateStore is the data access layer for certificate records.
type CertificateStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewCertificateStore(db *gorm.DB, logger *zap.Logger) *CertificateStore {
	return &CertificateStore{
		db:     db,
		logger: logger.With(zap.String("component", "certificate_store")),
	}
}

func (s *CertificateStore) Create(ctx context.Context, cert *models.Certificate) error {
	err := s.db.WithContext(ctx).Create(cert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateSlug
		}
		return err
	}
	return nil
}

func (s *CertificateStore) GetBySlug(ctx context.Context, slug string) (*models.Certificate, error) {
	var cert models.Certificate
	err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&cert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cert, nil
}

func (s *CertificateStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Certificate{}).
		Where("slug = ?", slug).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkViewed bumps the view counter. The increment happens in SQL so that
// concurrent views of the same certificate never lose updates.
func (s *CertificateStore) MarkViewed(ctx context.Context, slug string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&models.Certificate{}).
		Where("slug = ?", slug).
		Updates(map[string]interface{}{
			"view_count":     gorm.Expr("view_count + 1"),
			"last_viewed_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *CertificateStore) List(ctx context.Context, limit, offset int) ([]models.Certificate, error) {
	var certs []models.Certificate
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&certs).Error
	return certs, err
}

func (s *CertificateStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Certificate{}).Count(&count).Error
	return count, err
}

func (s *CertificateStore) SearchByEmail(ctx context.Context, email string) ([]models.Certificate, error) {
	var certs []models.Certificate
	err := s.db.WithContext(ctx).
		Where("lower(recipient_email) LIKE lower(?)", "%"+email+"%").
		Order("created_at DESC").
		Find(&certs).Error
	return certs, err
}

func (s *CertificateStore) SearchByName(ctx context.Context, name string) ([]models.Certificate, error) {
	var certs []models.Certificate
	err := s.db.WithContext(ctx).
		Where("lower(recipient_name) LIKE lower(?)", "%"+name+"%").
		Order("created_at DESC").
		Find(&certs).Error
	return certs, err
}
