package models

import (
	"time"
)

// LedgerEntry records one balance-affecting event. Rows are append-only:
// created inside the same transaction as the wallet balance update, never
// updated or deleted afterwards. EventID and IdempotencyKey are pointers so
// the unique indexes only apply when a value is present.
type LedgerEntry struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UserID          uint      `gorm:"not null;index" json:"user_id"`
	AmountMinor     int64     `gorm:"not null" json:"amount_minor"` // positive = credit, negative = debit
	Currency        string    `gorm:"size:3;not null" json:"currency"`
	Kind            string    `gorm:"size:32;not null;index;index:idx_ledger_external_ref,priority:3" json:"kind"`
	ExternalRefType string    `gorm:"size:64;index:idx_ledger_external_ref,priority:1" json:"external_ref_type"`
	ExternalRefID   string    `gorm:"size:128;index:idx_ledger_external_ref,priority:2" json:"external_ref_id"`
	EventID         *string   `gorm:"size:191;uniqueIndex" json:"event_id"`
	IdempotencyKey  *string   `gorm:"size:191;uniqueIndex" json:"-"`
	Livemode        bool      `gorm:"not null;default:false" json:"livemode"`
	CreatedAt       time.Time `json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
