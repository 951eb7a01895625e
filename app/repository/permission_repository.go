package repository

import (
	"github.com/ManuelReschke/MindShield/app/models"
	"gorm.io/gorm"
)

// permissionRepository implements the PermissionRepository interface
type permissionRepository struct {
	db *gorm.DB
}

// NewPermissionRepository creates a new permission repository instance
func NewPermissionRepository(db *gorm.DB) PermissionRepository {
	return &permissionRepository{db: db}
}

// Create stores a new permission; status defaults to pending.
func (r *permissionRepository) Create(permission *models.Permission) error {
	if permission.Status == "" {
		permission.Status = models.PermissionStatusPending
	}
	return r.db.Create(permission).Error
}

// GetByID retrieves a permission by its ID
func (r *permissionRepository) GetByID(id string) (*models.Permission, error) {
	var permission models.Permission
	if err := r.db.Where("id = ?", id).First(&permission).Error; err != nil {
		return nil, err
	}
	return &permission, nil
}

// GetUserPermissions lists all permissions of a user, newest first.
func (r *permissionRepository) GetUserPermissions(userID string) ([]models.Permission, error) {
	var permissions []models.Permission
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&permissions).Error
	return permissions, err
}

func (r *permissionRepository) FindByUserAndCompany(userID, companyAddress string, statuses ...string) ([]models.Permission, error) {
	addr := models.NormalizeAddress(companyAddress)
	query := r.db.Where("user_id = ?", userID).
		Where("(company_address = ? OR (company_address = '' AND LOWER(company_name) = ?))", addr, addr)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	var permissions []models.Permission
	err := query.Order("created_at DESC").Find(&permissions).Error
	return permissions, err
}

// GetByLicenseID finds the permission bound to a ledger license.
func (r *permissionRepository) GetByLicenseID(licenseID uint64) (*models.Permission, error) {
	var permission models.Permission
	if err := r.db.Where("license_id = ?", licenseID).Order("created_at DESC").First(&permission).Error; err != nil {
		return nil, err
	}
	return &permission, nil
}

// UpdatePermissionStatus sets the status and, when given, the transaction hash.
func (r *permissionRepository) UpdatePermissionStatus(id, status, txHash string) (*models.Permission, error) {
	updates := map[string]interface{}{"status": status}
	if txHash != "" {
		updates["blockchain_tx_hash"] = txHash
	}
	res := r.db.Model(&models.Permission{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.GetByID(id)
}

// Activate confirms a permission against a ledger license.
func (r *permissionRepository) Activate(id string, licenseID uint64, txHash string) (*models.Permission, error) {
	updates := map[string]interface{}{
		"status":     models.PermissionStatusActive,
		"license_id": licenseID,
	}
	if txHash != "" {
		updates["blockchain_tx_hash"] = txHash
	}
	res := r.db.Model(&models.Permission{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.GetByID(id)
}

// AttachTxHash records the submission hash on a permission that has none yet.
// The status is left alone since the reconciler may already have moved it.
func (r *permissionRepository) AttachTxHash(id, txHash string) error {
	return r.db.Model(&models.Permission{}).
		Where("id = ? AND blockchain_tx_hash = ?", id, "").
		Update("blockchain_tx_hash", txHash).Error
}

// Delete removes a permission, used when its ledger submission never happened.
func (r *permissionRepository) Delete(id string) error {
	return r.db.Where("id = ?", id).Delete(&models.Permission{}).Error
}
