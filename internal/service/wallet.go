package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bursar/internal/clock"
	"bursar/internal/domain"
	"bursar/internal/metrics"
	"bursar/internal/models"
	"bursar/pkg/logger"

	"gorm.io/gorm"
)

// AdjustParams describes one balance adjustment. At most one of EventID,
// IdempotencyKey and the (ExternalRefType, ExternalRefID, Kind) tuple is
// needed for duplicate detection; all present keys are checked.
type AdjustParams struct {
	UserID          uint
	Currency        string
	DeltaMinor      int64 // positive = credit, negative = debit
	Kind            string
	ExternalRefType string
	ExternalRefID   string
	EventID         string
	IdempotencyKey  string
	Livemode        bool
}

// WalletService is the single mutating entry point for balances. Every money
// movement in the system funnels through Adjust: one ledger insert and one
// wallet update in the same transaction, guarded by the account lease.
type WalletService struct {
	db    *gorm.DB
	lease AccountLease
	clk   clock.Clock
	met   *metrics.Metrics
	log   *logger.Logger
}

func NewWalletService(db *gorm.DB, lease AccountLease, clk clock.Clock, met *metrics.Metrics, log *logger.Logger) *WalletService {
	return &WalletService{db: db, lease: lease, clk: clk, met: met, log: log}
}

// Adjust applies one balance adjustment in its own transaction.
func (s *WalletService) Adjust(ctx context.Context, p AdjustParams) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := s.AdjustTx(tx, p)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	return balance, err
}

// AdjustTx applies one balance adjustment inside the caller's transaction,
// so webhook handlers can commit the adjustment together with their
// processed-event marker.
func (s *WalletService) AdjustTx(tx *gorm.DB, p AdjustParams) (int64, error) {
	if p.DeltaMinor == 0 {
		return 0, ErrZeroDelta
	}
	if p.Kind == "" {
		return 0, fmt.Errorf("ledger kind is required")
	}
	currency := strings.ToLower(p.Currency)
	if !domain.SupportedCurrencies[currency] {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, p.Currency)
	}

	// Idempotency short-circuits. Each check returns the *current* balance
	// (not the would-be result) and performs no write. Order matters: event
	// id, then caller key, then the external-reference tuple.
	if p.EventID != "" {
		dup, err := entryExists(tx, "event_id = ?", p.EventID)
		if err != nil {
			return 0, err
		}
		if dup {
			s.log.Infof("[Wallet] duplicate event_id %s, returning existing balance", p.EventID)
			return s.shortCircuit(tx, p)
		}
	}
	if p.IdempotencyKey != "" {
		dup, err := entryExists(tx, "idempotency_key = ?", p.IdempotencyKey)
		if err != nil {
			return 0, err
		}
		if dup {
			s.log.Infof("[Wallet] duplicate idempotency_key %s, returning existing balance", p.IdempotencyKey)
			return s.shortCircuit(tx, p)
		}
	}
	if p.ExternalRefType != "" && p.ExternalRefID != "" {
		dup, err := entryExists(tx, "external_ref_type = ? AND external_ref_id = ? AND kind = ? AND user_id = ? AND currency = ?",
			p.ExternalRefType, p.ExternalRefID, p.Kind, p.UserID, currency)
		if err != nil {
			return 0, err
		}
		if dup {
			s.log.Infof("[Wallet] duplicate ledger entry %s/%s/%s, returning existing balance",
				p.ExternalRefType, p.ExternalRefID, p.Kind)
			return s.shortCircuit(tx, p)
		}
	}

	w, release, err := s.lease.LockWallet(tx, p.UserID, currency)
	if err != nil {
		return 0, err
	}
	defer release()

	// Currency is fixed once a non-zero balance exists.
	if w.BalanceMinor != 0 && w.Currency != currency {
		s.count(p.Kind, "rejected")
		return 0, fmt.Errorf("%w: wallet is %s, operation is %s", ErrCurrencyMismatch, w.Currency, currency)
	}

	delta := p.DeltaMinor
	newBalance := w.BalanceMinor + delta
	if newBalance < 0 {
		switch p.Kind {
		case domain.KindAdjustment, domain.KindDisputeHold:
			// administrative override / chargeback hold may go negative
		case domain.KindIAPRefund:
			// store refunds claw back at most what is still in the wallet
			delta = -w.BalanceMinor
			if delta == 0 {
				s.log.Warnf("[Wallet] iap_refund clamped to no-op: user=%d requested=%d", p.UserID, p.DeltaMinor)
				s.count(p.Kind, "clamped")
				return w.BalanceMinor, nil
			}
			s.log.Warnf("[Wallet] iap_refund clamped to zero: user=%d requested=%d applied=%d", p.UserID, p.DeltaMinor, delta)
			newBalance = 0
		default:
			s.count(p.Kind, "rejected")
			return 0, fmt.Errorf("%w: current=%d attempted=%d", ErrInsufficientFunds, w.BalanceMinor, p.DeltaMinor)
		}
	}

	entry := models.LedgerEntry{
		UserID:          p.UserID,
		AmountMinor:     delta,
		Currency:        currency,
		Kind:            p.Kind,
		ExternalRefType: p.ExternalRefType,
		ExternalRefID:   p.ExternalRefID,
		EventID:         optString(p.EventID),
		IdempotencyKey:  optString(p.IdempotencyKey),
		Livemode:        p.Livemode,
		CreatedAt:       s.clk.Now(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// lost an idempotency race; the first writer's entry stands
			s.log.Infof("[Wallet] adjustment lost idempotency race: user=%d kind=%s", p.UserID, p.Kind)
			return s.shortCircuit(tx, p)
		}
		return 0, fmt.Errorf("create ledger entry: %w", err)
	}
	updates := map[string]interface{}{
		"balance_minor": newBalance,
		"currency":      currency,
		"updated_at":    s.clk.Now(),
	}
	if err := tx.Model(&models.Wallet{}).Where("id = ?", w.ID).Updates(updates).Error; err != nil {
		return 0, fmt.Errorf("update wallet balance: %w", err)
	}

	s.count(p.Kind, "applied")
	s.log.Infof("[Wallet] balance adjusted: user=%d currency=%s delta=%d balance=%d kind=%s",
		p.UserID, currency, delta, newBalance, p.Kind)
	return newBalance, nil
}

// Balance returns the cached wallet for a user, zero-valued when the user
// has never had a balance.
func (s *WalletService) Balance(ctx context.Context, userID uint, defaultCurrency string) (*models.Wallet, error) {
	var w models.Wallet
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Wallet{UserID: userID, BalanceMinor: 0, Currency: strings.ToLower(defaultCurrency)}, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *WalletService) shortCircuit(tx *gorm.DB, p AdjustParams) (int64, error) {
	s.count(p.Kind, "short_circuit")
	var w models.Wallet
	err := tx.Where("user_id = ?", p.UserID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return w.BalanceMinor, nil
}

func (s *WalletService) count(kind, result string) {
	if s.met != nil {
		s.met.LedgerAdjustments.WithLabelValues(kind, result).Inc()
	}
}

func entryExists(tx *gorm.DB, query string, args ...interface{}) (bool, error) {
	var n int64
	err := tx.Model(&models.LedgerEntry{}).Where(query, args...).Count(&n).Error
	return n > 0, err
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
