package models

import (
	"fmt"
	"strings"
	"time"
)

// Ledger event kinds as emitted by the DataLicense contract.
const (
	LedgerEventAccessGranted = "AccessGranted"
	LedgerEventAccessRevoked = "AccessRevoked"
	LedgerEventPaymentMade   = "PaymentMade"
)

// Ledger event processing states.
const (
	LedgerEventStatusProcessed = "processed"
	LedgerEventStatusOrphaned  = "orphaned"
)

// LedgerEvent records every ledger event the reconciler has acknowledged.
// The unique EventKey makes redelivered events detectable; orphaned rows
// double as the repair queue for events that matched no off-chain record.
type LedgerEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	EventKey        string     `gorm:"type:varchar(100);not null;uniqueIndex:ux_ledger_events_event_key" json:"event_key"`
	Kind            string     `gorm:"type:varchar(32);not null;index" json:"kind"`
	UserAddress     string     `gorm:"type:varchar(42);not null;index" json:"user_address"`
	CompanyAddress  string     `gorm:"type:varchar(42);not null" json:"company_address"`
	LicenseID       uint64     `gorm:"default:0" json:"license_id"`
	Amount          string     `gorm:"type:varchar(80);default:''" json:"amount"`
	TxHash          string     `gorm:"type:varchar(66);not null" json:"tx_hash"`
	LogIndex        uint       `gorm:"not null" json:"log_index"`
	BlockNumber     uint64     `gorm:"not null;index" json:"block_number"`
	Status          string     `gorm:"type:varchar(20);not null;index" json:"status"`
	Attempts        int        `gorm:"not null;default:0" json:"attempts"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// LedgerEventKey identifies a log entry independently of delivery.
func LedgerEventKey(txHash string, logIndex uint) string {
	return fmt.Sprintf("%s:%d", strings.ToLower(txHash), logIndex)
}

// IsOrphaned reports whether the event still waits for repair.
func (e *LedgerEvent) IsOrphaned() bool {
	return e.Status == LedgerEventStatusOrphaned
}

// ReconcilerCursor stores the block from which a reconciler resumes after restart.
type ReconcilerCursor struct {
	Name        string    `gorm:"primaryKey;type:varchar(64)" json:"name"`
	BlockNumber uint64    `gorm:"not null;default:0" json:"block_number"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
