package models

import (
	"time"

	"gorm.io/gorm"
)

// Certificate is one generated certificate. Slug, recipient data and the
// stored asset location are immutable after creation; only the view counter
// and last-view timestamp are updated afterwards, and only by the delivery
// path.
type Certificate struct {
	gorm.Model
	Slug           string `gorm:"uniqueIndex;size:255;not null"`
	RecipientName  string `gorm:"size:255;not null;index"`
	RecipientEmail string `gorm:"size:255;not null;index"`
	AssetURL       string `gorm:"size:500;not null"`
	AssetPublicID  string `gorm:"size:255;not null"`
	ViewCount      int64  `gorm:"not null;default:0"`
	LastViewedAt   *time.Time
}
