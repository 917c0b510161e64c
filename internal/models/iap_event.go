package models

import (
	"time"
)

// IAPEvent is the processed-event marker for mobile store notifications.
// One row per provider event id; written in the same transaction as the
// handler's side effects so redelivery is detectable before anything runs.
type IAPEvent struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Platform         string     `gorm:"size:10;not null" json:"platform"`
	EventID          string     `gorm:"size:191;not null;uniqueIndex" json:"event_id"`
	NotificationType string     `gorm:"size:64" json:"notification_type"`
	Subtype          string     `gorm:"size:64" json:"subtype,omitempty"`
	TransactionID    string     `gorm:"size:191;index" json:"transaction_id,omitempty"`
	Outcome          string     `gorm:"size:32" json:"outcome"` // applied, no_op, skipped
	ReceivedAt       time.Time  `gorm:"not null" json:"received_at"`
	ProcessedAt      *time.Time `json:"processed_at"`
}

func (IAPEvent) TableName() string {
	return "iap_events"
}
