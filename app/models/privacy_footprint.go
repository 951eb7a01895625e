package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PrivacyFootprint is the share of a user's data held by one platform, in percent.
type PrivacyFootprint struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID      string    `gorm:"type:varchar(36);not null;index" json:"user_id"`
	Platform    string    `gorm:"type:varchar(100);not null" json:"platform" validate:"required,max=100"`
	Percentage  int       `gorm:"not null" json:"percentage" validate:"gte=0,lte=100"`
	LastUpdated time.Time `gorm:"autoUpdateTime" json:"last_updated"`
}

func (f *PrivacyFootprint) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	return nil
}
