package repository

import (
	"github.com/ManuelReschke/MindShield/app/models"
	"gorm.io/gorm"
)

type privacyFootprintRepository struct {
	db *gorm.DB
}

// NewPrivacyFootprintRepository creates a new footprint repository instance
func NewPrivacyFootprintRepository(db *gorm.DB) PrivacyFootprintRepository {
	return &privacyFootprintRepository{db: db}
}

func (r *privacyFootprintRepository) GetUserPrivacyFootprint(userID string) ([]models.PrivacyFootprint, error) {
	var footprints []models.PrivacyFootprint
	err := r.db.Where("user_id = ?", userID).Order("platform ASC").Find(&footprints).Error
	return footprints, err
}

func (r *privacyFootprintRepository) ReplacePrivacyFootprint(userID string, footprints []models.PrivacyFootprint) ([]models.PrivacyFootprint, error) {
	stored := make([]models.PrivacyFootprint, 0, len(footprints))
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.PrivacyFootprint{}).Error; err != nil {
			return err
		}
		for _, fp := range footprints {
			row := models.PrivacyFootprint{
				UserID:     userID,
				Platform:   fp.Platform,
				Percentage: fp.Percentage,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			stored = append(stored, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}
