package repository

import (
	"bursar/internal/models"

	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(id uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetByConnectAccountID(accountID string) (*models.User, error) {
	var u models.User
	if err := r.db.Where("stripe_connect_account_id = ?", accountID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) SetPayoutsEnabled(accountID string, enabled bool) error {
	return r.db.Model(&models.User{}).
		Where("stripe_connect_account_id = ?", accountID).
		Update("payouts_enabled", enabled).Error
}
