package models

import (
	"time"
)

type Withdrawal struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           uint       `gorm:"not null;index" json:"user_id"`
	AmountMinor      int64      `gorm:"not null" json:"amount_minor"`
	Currency         string     `gorm:"size:3;not null" json:"currency"`
	Type             string     `gorm:"size:16;not null;index" json:"type"`   // standard, instant
	Status           string     `gorm:"size:20;not null;index" json:"status"` // pending_review, processing, paid, failed, rejected
	FeeMinor         int64      `gorm:"not null;default:0" json:"fee_minor"`
	ProviderPayoutID string     `gorm:"size:128;index" json:"provider_payout_id"`
	FailureReason    string     `gorm:"size:255" json:"failure_reason,omitempty"`
	RequestedAt      time.Time  `gorm:"not null" json:"requested_at"`
	ProcessedAt      *time.Time `json:"processed_at"`
	AdminID          *uint      `json:"admin_id"`
	AdminNotes       string     `gorm:"size:512" json:"admin_notes,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (Withdrawal) TableName() string {
	return "withdrawal_requests"
}
