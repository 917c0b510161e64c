package repository

import (
	"bursar/internal/models"

	"gorm.io/gorm"
)

type ReceiptRepository struct {
	db *gorm.DB
}

func NewReceiptRepository(db *gorm.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

func (r *ReceiptRepository) GetByTransaction(tx *gorm.DB, platform, transactionID string) (*models.IAPReceipt, error) {
	if tx == nil {
		tx = r.db
	}
	var rec models.IAPReceipt
	err := tx.Where("platform = ? AND transaction_id = ?", platform, transactionID).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ReceiptRepository) GetByPurchaseToken(tx *gorm.DB, platform, token string) (*models.IAPReceipt, error) {
	if tx == nil {
		tx = r.db
	}
	var rec models.IAPReceipt
	err := tx.Where("platform = ? AND purchase_token = ?", platform, token).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
