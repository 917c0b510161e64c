package models

import (
	"time"
)

// User is the local projection of an account. Identity itself (passwords,
// sessions) lives in the identity service; the monetary core only needs the
// resolved account id plus payout/onboarding state.
type User struct {
	ID                     uint      `gorm:"primaryKey" json:"id"`
	Email                  string    `gorm:"size:255;uniqueIndex" json:"email"`
	Username               string    `gorm:"size:64;index" json:"username"`
	Role                   string    `gorm:"size:20;not null;default:'USER'" json:"role"`
	StripeCustomerID       string    `gorm:"size:64;index" json:"-"`
	StripeConnectAccountID string    `gorm:"size:64;index" json:"-"`
	PayoutsEnabled         bool      `gorm:"default:false" json:"payouts_enabled"`
	InstantWithdrawalEnabled bool    `gorm:"default:true" json:"instant_withdrawal_enabled"`
	InstantDailyLimitMinor int64     `gorm:"default:50000" json:"instant_daily_limit_minor"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
