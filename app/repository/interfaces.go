package repository

import (
	"time"

	"github.com/ManuelReschke/MindShield/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id string) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByWalletAddress(address string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	TouchAPIKeyUsage(id string, at time.Time) error
}

// PermissionRepository defines the interface for permission-related database operations
type PermissionRepository interface {
	Create(permission *models.Permission) error
	GetByID(id string) (*models.Permission, error)
	GetUserPermissions(userID string) ([]models.Permission, error)
	// FindByUserAndCompany returns matching permissions, newest first.
	FindByUserAndCompany(userID, companyAddress string, statuses ...string) ([]models.Permission, error)
	GetByLicenseID(licenseID uint64) (*models.Permission, error)
	UpdatePermissionStatus(id, status, txHash string) (*models.Permission, error)
	Activate(id string, licenseID uint64, txHash string) (*models.Permission, error)
	AttachTxHash(id, txHash string) error
	Delete(id string) error
}

// NewEarning is the input for CreateEarning.
type NewEarning struct {
	PermissionID          *string
	Amount                int64
	Status                string
	BlockchainTxHash      string
	StripePaymentIntentID string
}

// EarningRepository defines the interface for earning-related database operations
type EarningRepository interface {
	CreateEarning(userID string, in NewEarning) (*models.Earning, error)
	GetByID(id string) (*models.Earning, error)
	GetUserEarnings(userID string) ([]models.Earning, error)
	UpdateEarningStatus(id, status, paymentIntentID, txHash string) (*models.Earning, error)
}

// PrivacyFootprintRepository defines the interface for footprint operations
type PrivacyFootprintRepository interface {
	GetUserPrivacyFootprint(userID string) ([]models.PrivacyFootprint, error)
	// ReplacePrivacyFootprint deletes the user's footprints and stores the given set.
	ReplacePrivacyFootprint(userID string, footprints []models.PrivacyFootprint) ([]models.PrivacyFootprint, error)
}

// LedgerEventRepository tracks processed and orphaned ledger events plus the replay cursor.
type LedgerEventRepository interface {
	// CreateIfNotExists inserts the event unless its EventKey is already known.
	// The bool reports whether a new row was written.
	CreateIfNotExists(event *models.LedgerEvent) (bool, *models.LedgerEvent, error)
	GetByID(id uint) (*models.LedgerEvent, error)
	GetByKey(eventKey string) (*models.LedgerEvent, error)
	ListOrphaned(limit int) ([]models.LedgerEvent, error)
	MarkProcessed(id uint) (bool, error)
	MarkOrphaned(id uint, reason string) error
	CountByStatus() (map[string]int64, error)
	GetCursor(name string) (uint64, error)
	SaveCursor(name string, block uint64) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	db               *gorm.DB
	User             UserRepository
	Permission       PermissionRepository
	Earning          EarningRepository
	PrivacyFootprint PrivacyFootprintRepository
	LedgerEvent      LedgerEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:               db,
		User:             NewUserRepository(db),
		Permission:       NewPermissionRepository(db),
		Earning:          NewEarningRepository(db),
		PrivacyFootprint: NewPrivacyFootprintRepository(db),
		LedgerEvent:      NewLedgerEventRepository(db),
	}
}

// Transaction runs fn with repositories bound to a single database transaction.
// Returning an error from fn rolls every write back.
func (r *Repositories) Transaction(fn func(tx *Repositories) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}
