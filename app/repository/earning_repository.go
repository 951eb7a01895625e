package repository

import (
	"github.com/ManuelReschke/MindShield/app/models"
	"gorm.io/gorm"
)

// earningRepository implements the EarningRepository interface
type earningRepository struct {
	db *gorm.DB
}

// NewEarningRepository creates a new earning repository instance
func NewEarningRepository(db *gorm.DB) EarningRepository {
	return &earningRepository{db: db}
}

// CreateEarning stores a new earning for the user; status defaults to pending.
func (r *earningRepository) CreateEarning(userID string, in NewEarning) (*models.Earning, error) {
	status := in.Status
	if status == "" {
		status = models.EarningStatusPending
	}
	earning := &models.Earning{
		UserID:                userID,
		PermissionID:          in.PermissionID,
		Amount:                in.Amount,
		Status:                status,
		BlockchainTxHash:      in.BlockchainTxHash,
		StripePaymentIntentID: in.StripePaymentIntentID,
	}
	if err := r.db.Create(earning).Error; err != nil {
		return nil, err
	}
	return earning, nil
}

// GetByID retrieves an earning by its ID
func (r *earningRepository) GetByID(id string) (*models.Earning, error) {
	var earning models.Earning
	if err := r.db.Where("id = ?", id).First(&earning).Error; err != nil {
		return nil, err
	}
	return &earning, nil
}

// GetUserEarnings lists a user's earnings, newest first.
func (r *earningRepository) GetUserEarnings(userID string) ([]models.Earning, error) {
	var earnings []models.Earning
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&earnings).Error
	return earnings, err
}

// UpdateEarningStatus sets the status and any provided payment references.
func (r *earningRepository) UpdateEarningStatus(id, status, paymentIntentID, txHash string) (*models.Earning, error) {
	updates := map[string]interface{}{"status": status}
	if paymentIntentID != "" {
		updates["stripe_payment_intent_id"] = paymentIntentID
	}
	if txHash != "" {
		updates["blockchain_tx_hash"] = txHash
	}
	res := r.db.Model(&models.Earning{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.GetByID(id)
}
