package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	EarningStatusPending   = "pending"
	EarningStatusCompleted = "completed"
	EarningStatusFailed    = "failed"
)

// Earning is a single payment to a user in paise (1/100 rupee).
type Earning struct {
	ID                    string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID                string    `gorm:"type:varchar(36);not null;index" json:"user_id"`
	PermissionID          *string   `gorm:"type:varchar(36);index" json:"permission_id,omitempty"`
	Amount                int64     `gorm:"not null" json:"amount" validate:"gt=0"`
	StripePaymentIntentID string    `gorm:"type:varchar(191);default:''" json:"stripe_payment_intent_id,omitempty"`
	BlockchainTxHash      string    `gorm:"type:varchar(66);default:'';index" json:"blockchain_tx_hash,omitempty"`
	Status                string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status" validate:"oneof=pending completed failed"`
	CreatedAt             time.Time `gorm:"autoCreateTime;precision:6" json:"created_at"`
}

func (e *Earning) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

// IsValidEarningStatus reports whether s is a known earning status.
func IsValidEarningStatus(s string) bool {
	switch s {
	case EarningStatusPending, EarningStatusCompleted, EarningStatusFailed:
		return true
	}
	return false
}
