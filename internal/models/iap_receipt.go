package models

import (
	"time"
)

// IAPReceipt tracks one mobile in-app purchase from first verification
// attempt through crediting (or revocation). (Platform, TransactionID) is
// globally unique; a retried verification returns the existing row.
type IAPReceipt struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	UserID                uint       `gorm:"not null;index" json:"user_id"`
	Platform              string     `gorm:"size:10;not null;uniqueIndex:uq_iap_receipts_platform_tx,priority:1" json:"platform"`
	TransactionID         string     `gorm:"size:191;not null;uniqueIndex:uq_iap_receipts_platform_tx,priority:2" json:"transaction_id"`
	OriginalTransactionID string     `gorm:"size:191" json:"original_transaction_id,omitempty"`
	ProductID             string     `gorm:"size:128;not null" json:"product_id"`
	BundleID              string     `gorm:"size:128" json:"bundle_id,omitempty"`
	Environment           string     `gorm:"size:16" json:"environment,omitempty"` // Production or Sandbox
	PurchaseToken         string     `gorm:"size:512;index" json:"-"`
	AppAccountToken       string     `gorm:"size:64" json:"-"`
	Status                string     `gorm:"size:16;not null;index" json:"status"`
	CreditedAmountMinor   *int64     `json:"credited_amount_minor"`
	RevokedAt             *time.Time `json:"revoked_at,omitempty"`
	RevocationReason      string     `gorm:"size:64" json:"revocation_reason,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

func (IAPReceipt) TableName() string {
	return "iap_receipts"
}
