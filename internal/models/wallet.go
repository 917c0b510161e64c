package models

import (
	"time"
)

// Wallet is the cached running balance for one user. It is a materialized
// view over ledger_entries and is only ever written by the wallet service
// inside the same transaction as the entry insert.
type Wallet struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	BalanceMinor int64     `gorm:"not null;default:0" json:"balance_minor"`
	Currency     string    `gorm:"size:3;not null;default:'usd'" json:"currency"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}
