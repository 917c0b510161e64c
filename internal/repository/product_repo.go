package repository

import (
	"errors"

	"bursar/internal/models"

	"gorm.io/gorm"
)

var ErrProductNotFound = errors.New("product not found")

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// GetCreditMinor looks up the wallet credit for a store SKU. The client's
// idea of the price is never consulted.
func (r *ProductRepository) GetCreditMinor(productID string) (int64, error) {
	var p models.Product
	err := r.db.Where("product_id = ? AND active = ?", productID, true).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrProductNotFound
	}
	if err != nil {
		return 0, err
	}
	return p.CreditMinor, nil
}
