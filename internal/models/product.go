package models

import (
	"time"
)

// Product is the local view of the purchasable catalog: the store SKU and
// the wallet credit it grants. Prices are never taken from clients.
type Product struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ProductID   string    `gorm:"size:128;uniqueIndex;not null" json:"product_id"`
	Name        string    `gorm:"size:255" json:"name"`
	CreditMinor int64     `gorm:"not null" json:"credit_minor"`
	Active      bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}
