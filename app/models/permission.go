package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Permission status values. Pending rows are written by the API before the
// ledger confirms; every other transition is driven by ledger events or an
// explicit manual approval.
const (
	PermissionStatusPending    = "pending"
	PermissionStatusActive     = "active"
	PermissionStatusRevoked    = "revoked"
	PermissionStatusSuperseded = "superseded"
)

// Permission is the off-chain mirror of a data license between a user and a company.
type Permission struct {
	ID               string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID           string    `gorm:"type:varchar(36);not null;index:idx_permissions_user_company,priority:1" json:"user_id"`
	CompanyName      string    `gorm:"type:varchar(191);not null" json:"company_name" validate:"required,max=191"`
	CompanyAddress   string    `gorm:"type:varchar(42);default:'';index:idx_permissions_user_company,priority:2" json:"company_address" validate:"omitempty,eth_addr"`
	CompanyLogo      string    `gorm:"type:varchar(255);default:''" json:"company_logo,omitempty" validate:"max=255"`
	AccessTypes      string    `gorm:"type:text;not null" json:"-" validate:"required"`
	MonthlyPayment   int64     `gorm:"not null;default:0" json:"monthly_payment" validate:"gte=0"`
	Status           string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status" validate:"oneof=pending active revoked superseded"`
	LicenseID        *uint64   `gorm:"index" json:"license_id,omitempty"`
	BlockchainTxHash string    `gorm:"type:varchar(66);default:''" json:"blockchain_tx_hash,omitempty"`
	CreatedAt        time.Time `gorm:"autoCreateTime;precision:6" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Permission) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CompanyAddress = NormalizeAddress(p.CompanyAddress)
	return nil
}

// AccessTypeList splits the stored comma-joined access categories.
func (p *Permission) AccessTypeList() []string {
	return SplitDataTypes(p.AccessTypes)
}

// SetAccessTypes stores the access categories comma-joined, like the ledger's dataTypes.
func (p *Permission) SetAccessTypes(types []string) {
	p.AccessTypes = JoinDataTypes(types)
}

// IsActive reports whether the permission is currently confirmed.
func (p *Permission) IsActive() bool {
	return p.Status == PermissionStatusActive
}

// MatchesCompany reports whether the permission belongs to the given company
// address. Rows created from the dashboard before an address was known carry
// the address in CompanyName instead.
func (p *Permission) MatchesCompany(address string) bool {
	addr := NormalizeAddress(address)
	if addr == "" {
		return false
	}
	if p.CompanyAddress != "" {
		return p.CompanyAddress == addr
	}
	return NormalizeAddress(p.CompanyName) == addr
}

// SplitDataTypes parses a comma-joined category list, dropping blanks.
func SplitDataTypes(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// JoinDataTypes is the inverse of SplitDataTypes.
func JoinDataTypes(types []string) string {
	clean := make([]string, 0, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	return strings.Join(clean, ",")
}

// IsValidPermissionStatus reports whether s is a known permission status.
func IsValidPermissionStatus(s string) bool {
	switch s {
	case PermissionStatusPending, PermissionStatusActive, PermissionStatusRevoked, PermissionStatusSuperseded:
		return true
	}
	return false
}
