package repository

import (
	"bursar/internal/models"

	"gorm.io/gorm"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// HasEventID reports whether any ledger entry already carries the given
// provider event id. Used both for adjust-time idempotency and as the
// processed-event marker lookup for card-provider webhooks.
func (r *LedgerRepository) HasEventID(tx *gorm.DB, eventID string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	var n int64
	err := tx.Model(&models.LedgerEntry{}).Where("event_id = ?", eventID).Count(&n).Error
	return n > 0, err
}

// RecentByUser returns the newest entries for a user, newest first.
func (r *LedgerRepository) RecentByUser(userID uint, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	var entries []models.LedgerEntry
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// SumByUser totals all entry amounts for a user. The result must always
// equal the cached wallet balance; it exists for audit and tests.
func (r *LedgerRepository) SumByUser(userID uint) (int64, error) {
	var sum int64
	err := r.db.Model(&models.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount_minor), 0)").
		Scan(&sum).Error
	return sum, err
}
