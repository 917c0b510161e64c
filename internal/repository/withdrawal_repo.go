package repository

import (
	"time"

	"bursar/internal/domain"
	"bursar/internal/models"

	"gorm.io/gorm"
)

type WithdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) GetByID(id uint) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := r.db.First(&w, id).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WithdrawalRepository) GetByProviderPayoutID(payoutID string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := r.db.Where("provider_payout_id = ?", payoutID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// DailyInstantTotal sums instant withdrawal amounts for a user inside the
// given calendar day, counting only processing and paid requests.
func (r *WithdrawalRepository) DailyInstantTotal(userID uint, day time.Time) (int64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)
	var total int64
	err := r.db.Model(&models.Withdrawal{}).
		Where("user_id = ? AND type = ? AND status IN ? AND requested_at >= ? AND requested_at < ?",
			userID, domain.WithdrawalTypeInstant,
			[]string{domain.WithdrawalStatusProcessing, domain.WithdrawalStatusPaid},
			start, end).
		Select("COALESCE(SUM(amount_minor), 0)").
		Scan(&total).Error
	return total, err
}

func (r *WithdrawalRepository) ListByUser(userID uint, limit, offset int) ([]models.Withdrawal, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var ws []models.Withdrawal
	err := r.db.Where("user_id = ?", userID).
		Order("requested_at DESC").
		Limit(limit).Offset(offset).
		Find(&ws).Error
	return ws, err
}

func (r *WithdrawalRepository) ListByStatus(status, wtype string, limit, offset int) ([]models.Withdrawal, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := r.db.Where("status = ?", status)
	if wtype != "" {
		q = q.Where("type = ?", wtype)
	}
	var ws []models.Withdrawal
	err := q.Order("requested_at DESC").Limit(limit).Offset(offset).Find(&ws).Error
	return ws, err
}
