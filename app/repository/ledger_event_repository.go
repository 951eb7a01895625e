package repository

import (
	"errors"
	"time"

	"github.com/ManuelReschke/MindShield/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ledgerEventRepository struct {
	db *gorm.DB
}

// NewLedgerEventRepository creates a ledger event repository backed by GORM.
func NewLedgerEventRepository(db *gorm.DB) LedgerEventRepository {
	return &ledgerEventRepository{db: db}
}

func (r *ledgerEventRepository) CreateIfNotExists(event *models.LedgerEvent) (bool, *models.LedgerEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_key"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	stored, err := r.GetByKey(event.EventKey)
	if err != nil {
		return false, nil, err
	}
	return created, stored, nil
}

func (r *ledgerEventRepository) GetByID(id uint) (*models.LedgerEvent, error) {
	var event models.LedgerEvent
	if err := r.db.First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *ledgerEventRepository) GetByKey(eventKey string) (*models.LedgerEvent, error) {
	var event models.LedgerEvent
	if err := r.db.Where("event_key = ?", eventKey).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// ListOrphaned returns orphaned events in ledger order.
func (r *ledgerEventRepository) ListOrphaned(limit int) ([]models.LedgerEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []models.LedgerEvent
	err := r.db.Where("status = ?", models.LedgerEventStatusOrphaned).
		Order("block_number ASC").Order("log_index ASC").
		Limit(limit).Find(&events).Error
	return events, err
}

// MarkProcessed moves an orphaned event to processed. It reports false when
// the row was no longer orphaned, i.e. another worker repaired it first.
func (r *ledgerEventRepository) MarkProcessed(id uint) (bool, error) {
	now := time.Now()
	tx := r.db.Model(&models.LedgerEvent{}).
		Where("id = ? AND status = ?", id, models.LedgerEventStatusOrphaned).
		Updates(map[string]interface{}{
			"status":           models.LedgerEventStatusProcessed,
			"processed_at":     &now,
			"processing_error": "",
			"attempts":         gorm.Expr("attempts + 1"),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *ledgerEventRepository) MarkOrphaned(id uint, reason string) error {
	return r.db.Model(&models.LedgerEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":           models.LedgerEventStatusOrphaned,
		"processing_error": reason,
		"attempts":         gorm.Expr("attempts + 1"),
	}).Error
}

func (r *ledgerEventRepository) CountByStatus() (map[string]int64, error) {
	type row struct {
		Status string
		Total  int64
	}
	var rows []row
	err := r.db.Model(&models.LedgerEvent{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, rw := range rows {
		out[rw.Status] = rw.Total
	}
	return out, nil
}

// GetCursor returns 0 when the reconciler has never stored a cursor.
func (r *ledgerEventRepository) GetCursor(name string) (uint64, error) {
	var cursor models.ReconcilerCursor
	err := r.db.Where("name = ?", name).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cursor.BlockNumber, nil
}

func (r *ledgerEventRepository) SaveCursor(name string, block uint64) error {
	cursor := models.ReconcilerCursor{Name: name, BlockNumber: block}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"block_number", "updated_at"}),
	}).Create(&cursor).Error
}
