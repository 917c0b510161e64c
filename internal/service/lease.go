package service

import (
	"errors"
	"sync"

	"bursar/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountLease grants exclusive access to one user's wallet row for the
// duration of a single balance adjustment. Adjustments for different users
// never contend, and no lease is ever held across an external network call.
type AccountLease interface {
	// LockWallet returns the wallet row with an exclusive claim held until
	// release is called (or, for row locks, until the transaction ends).
	// The wallet is created on first use; ErrUserNotFound if the user does
	// not exist.
	LockWallet(tx *gorm.DB, userID uint, currency string) (*models.Wallet, func(), error)
}

// RowLockLease serializes writers with a SELECT ... FOR UPDATE row lock.
// This is the production lease for storage engines with row-level locking.
type RowLockLease struct{}

func (RowLockLease) LockWallet(tx *gorm.DB, userID uint, currency string) (*models.Wallet, func(), error) {
	w, err := fetchOrCreateWallet(tx, userID, currency, true)
	if err != nil {
		return nil, nil, err
	}
	// The row lock is released by the surrounding transaction.
	return w, func() {}, nil
}

// MutexLease serializes writers with an in-process per-user mutex. Used with
// storage engines that have no row locks (the sqlite test database); only
// safe for single-process deployments.
type MutexLease struct {
	mu sync.Map // userID -> *sync.Mutex
}

func NewMutexLease() *MutexLease {
	return &MutexLease{}
}

func (l *MutexLease) LockWallet(tx *gorm.DB, userID uint, currency string) (*models.Wallet, func(), error) {
	v, _ := l.mu.LoadOrStore(userID, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	w, err := fetchOrCreateWallet(tx, userID, currency, false)
	if err != nil {
		m.Unlock()
		return nil, nil, err
	}
	return w, m.Unlock, nil
}

func fetchOrCreateWallet(tx *gorm.DB, userID uint, currency string, forUpdate bool) (*models.Wallet, error) {
	q := tx
	if forUpdate {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var w models.Wallet
	err := q.Where("user_id = ?", userID).First(&w).Error
	if err == nil {
		return &w, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	var u models.User
	if err := tx.First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	w = models.Wallet{UserID: userID, BalanceMinor: 0, Currency: currency}
	if err := tx.Create(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// lost the creation race; lock the winner's row
			err = q.Where("user_id = ?", userID).First(&w).Error
			if err != nil {
				return nil, err
			}
			return &w, nil
		}
		return nil, err
	}
	return &w, nil
}
