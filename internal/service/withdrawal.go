package service

import (
	"context"
	"errors"
	"fmt"

	"bursar/config"
	"bursar/internal/clock"
	"bursar/internal/domain"
	"bursar/internal/metrics"
	"bursar/internal/models"
	"bursar/internal/repository"
	"bursar/pkg/gateway"
	"bursar/pkg/logger"

	"gorm.io/gorm"
)

// WithdrawalService drives the withdrawal state machine:
// pending_review -> {paid, rejected} for standard requests and
// processing -> {paid, failed} for instant ones. Debits and refunds go
// through the wallet service; the gateway call never holds the lease.
type WithdrawalService struct {
	db          *gorm.DB
	wallet      *WalletService
	users       *repository.UserRepository
	withdrawals *repository.WithdrawalRepository
	gw          gateway.Gateway
	clk         clock.Clock
	met         *metrics.Metrics
	log         *logger.Logger
	cfg         config.WalletConfig
}

func NewWithdrawalService(
	db *gorm.DB,
	wallet *WalletService,
	users *repository.UserRepository,
	withdrawals *repository.WithdrawalRepository,
	gw gateway.Gateway,
	clk clock.Clock,
	met *metrics.Metrics,
	log *logger.Logger,
	cfg config.WalletConfig,
) *WithdrawalService {
	return &WithdrawalService{
		db:          db,
		wallet:      wallet,
		users:       users,
		withdrawals: withdrawals,
		gw:          gw,
		clk:         clk,
		met:         met,
		log:         log,
		cfg:         cfg,
	}
}

// WithdrawalResult is returned to the HTTP layer. Refunded is set when a
// payout failed after the debit and the full amount+fee went back.
type WithdrawalResult struct {
	Withdrawal      *models.Withdrawal
	NewBalanceMinor int64
	Refunded        bool
}

// CalculateFee returns the fee in minor units: instant withdrawals pay a
// percentage with a floor, standard withdrawals are free.
func (s *WithdrawalService) CalculateFee(amountMinor int64, wtype string) int64 {
	if wtype != domain.WithdrawalTypeInstant {
		return 0
	}
	fee := amountMinor * s.cfg.InstantFeePercent / 100
	if fee < s.cfg.InstantFeeMinMinor {
		fee = s.cfg.InstantFeeMinMinor
	}
	return fee
}

// Request validates, debits amount+fee and creates the withdrawal record.
// Instant requests then attempt the payout immediately; on gateway failure
// the full debited amount is refunded before returning.
func (s *WithdrawalService) Request(ctx context.Context, userID uint, amountMinor int64, wtype string) (*WithdrawalResult, error) {
	if amountMinor <= 0 {
		return nil, fmt.Errorf("amount_minor must be positive")
	}
	if wtype != domain.WithdrawalTypeStandard && wtype != domain.WithdrawalTypeInstant {
		return nil, fmt.Errorf("unknown withdrawal type %q", wtype)
	}
	user, err := s.users.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if user.StripeConnectAccountID == "" {
		return nil, ErrNotOnboarded
	}
	wallet, err := s.wallet.Balance(ctx, userID, s.cfg.Currency)
	if err != nil {
		return nil, err
	}
	currency := wallet.Currency
	fee := s.CalculateFee(amountMinor, wtype)
	totalDebit := amountMinor + fee

	if wtype == domain.WithdrawalTypeInstant {
		if !user.InstantWithdrawalEnabled {
			return nil, ErrInstantDisabled
		}
		limit := user.InstantDailyLimitMinor
		if limit <= 0 {
			limit = s.cfg.InstantDailyLimitMinor
		}
		dailyTotal, err := s.withdrawals.DailyInstantTotal(userID, s.clk.Now())
		if err != nil {
			return nil, err
		}
		if dailyTotal+amountMinor > limit {
			return nil, fmt.Errorf("%w: remaining=%d", ErrDailyLimitExceeded, limit-dailyTotal)
		}
	}

	initialStatus := domain.WithdrawalStatusPendingReview
	if wtype == domain.WithdrawalTypeInstant {
		initialStatus = domain.WithdrawalStatusProcessing
	}

	// Debit and record creation commit together: if the debit fails with
	// insufficient funds, no withdrawal row is created.
	w := &models.Withdrawal{
		UserID:      userID,
		AmountMinor: amountMinor,
		Currency:    currency,
		Type:        wtype,
		Status:      initialStatus,
		FeeMinor:    fee,
		RequestedAt: s.clk.Now(),
	}
	var newBalance int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := s.wallet.AdjustTx(tx, AdjustParams{
			UserID:          userID,
			Currency:        currency,
			DeltaMinor:      -totalDebit,
			Kind:            domain.KindWithdraw,
			ExternalRefType: "withdrawal_request",
		})
		if err != nil {
			return err
		}
		newBalance = b
		return tx.Create(w).Error
	})
	if err != nil {
		return nil, err
	}

	if wtype != domain.WithdrawalTypeInstant {
		s.log.Infof("[Withdrawal] request %d queued for review: user=%d amount=%d fee=%d", w.ID, userID, amountMinor, fee)
		return &WithdrawalResult{Withdrawal: w, NewBalanceMinor: newBalance}, nil
	}
	return s.attemptPayout(ctx, w, user)
}

// Approve runs the gateway payout for a pending_review withdrawal. The
// status claim transition makes concurrent reviewer actions safe.
func (s *WithdrawalService) Approve(ctx context.Context, withdrawalID, adminID uint) (*WithdrawalResult, error) {
	w, user, err := s.claim(ctx, withdrawalID, adminID, true)
	if err != nil {
		return nil, err
	}
	return s.attemptPayout(ctx, w, user)
}

// Reject refunds amount+fee and finalizes the withdrawal as rejected.
func (s *WithdrawalService) Reject(ctx context.Context, withdrawalID, adminID uint, reason string) (*WithdrawalResult, error) {
	w, _, err := s.claim(ctx, withdrawalID, adminID, false)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "Withdrawal rejected by reviewer"
	}
	now := s.clk.Now()
	var newBalance int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := s.wallet.AdjustTx(tx, AdjustParams{
			UserID:          w.UserID,
			Currency:        w.Currency,
			DeltaMinor:      w.AmountMinor + w.FeeMinor,
			Kind:            domain.KindRefund,
			ExternalRefType: "withdrawal_rejected",
			ExternalRefID:   fmt.Sprintf("%d", w.ID),
		})
		if err != nil {
			return err
		}
		newBalance = b
		return tx.Model(w).Updates(map[string]interface{}{
			"status":       domain.WithdrawalStatusRejected,
			"processed_at": now,
			"admin_id":     adminID,
			"admin_notes":  reason,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	w.Status = domain.WithdrawalStatusRejected
	w.ProcessedAt = &now
	s.log.Infof("[Withdrawal] request %d rejected by admin %d, refunded %d", w.ID, adminID, w.AmountMinor+w.FeeMinor)
	return &WithdrawalResult{Withdrawal: w, NewBalanceMinor: newBalance, Refunded: true}, nil
}

// MarkPaid advances a withdrawal to paid from a payout-paid webhook event.
// A no-op when the withdrawal already reached paid.
func (s *WithdrawalService) MarkPaid(tx *gorm.DB, w *models.Withdrawal, payoutID string) error {
	if w.Status == domain.WithdrawalStatusPaid {
		return nil
	}
	now := s.clk.Now()
	updates := map[string]interface{}{
		"status":       domain.WithdrawalStatusPaid,
		"processed_at": now,
	}
	if payoutID != "" {
		updates["provider_payout_id"] = payoutID
	}
	return tx.Model(w).Updates(updates).Error
}

// CompensateFailed refunds amount+fee for a failed payout and finalizes the
// withdrawal. Safe to call more than once: the refund is keyed on the
// withdrawal id, so a redelivered failure event collapses into a no-op.
func (s *WithdrawalService) CompensateFailed(tx *gorm.DB, w *models.Withdrawal, reason string) (int64, error) {
	newBalance, err := s.wallet.AdjustTx(tx, AdjustParams{
		UserID:          w.UserID,
		Currency:        w.Currency,
		DeltaMinor:      w.AmountMinor + w.FeeMinor,
		Kind:            domain.KindRefund,
		ExternalRefType: "withdrawal_failed",
		ExternalRefID:   fmt.Sprintf("%d", w.ID),
	})
	if err != nil {
		return 0, err
	}
	if w.Status != domain.WithdrawalStatusFailed {
		now := s.clk.Now()
		if err := tx.Model(w).Updates(map[string]interface{}{
			"status":         domain.WithdrawalStatusFailed,
			"processed_at":   now,
			"failure_reason": reason,
		}).Error; err != nil {
			return 0, err
		}
		w.Status = domain.WithdrawalStatusFailed
		w.ProcessedAt = &now
		w.FailureReason = reason
	}
	return newBalance, nil
}

func (s *WithdrawalService) attemptPayout(ctx context.Context, w *models.Withdrawal, user *models.User) (*WithdrawalResult, error) {
	// The wallet lease is never held here; a payout failure feeds back into
	// a second, fast, locked adjustment below.
	res, err := s.gw.CreatePayout(ctx, gateway.PayoutRequest{
		DestinationAccountID: user.StripeConnectAccountID,
		AmountMinor:          w.AmountMinor,
		Currency:             w.Currency,
		Description:          fmt.Sprintf("Withdrawal %d for user %d", w.ID, w.UserID),
		IdempotencyKey:       fmt.Sprintf("wd-%d", w.ID),
	})
	if err != nil {
		s.countPayout("failed")
		s.log.Warnf("[Withdrawal] payout failed for request %d: %v", w.ID, err)
		var newBalance int64
		txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			b, err := s.CompensateFailed(tx, w, err.Error())
			if err != nil {
				return err
			}
			newBalance = b
			return nil
		})
		if txErr != nil {
			return nil, fmt.Errorf("refund after payout failure: %w", txErr)
		}
		s.log.Infof("[Withdrawal] request %d failed, refunded %d to user %d", w.ID, w.AmountMinor+w.FeeMinor, w.UserID)
		return &WithdrawalResult{Withdrawal: w, NewBalanceMinor: newBalance, Refunded: true}, nil
	}

	s.countPayout("paid")
	now := s.clk.Now()
	if err := s.db.WithContext(ctx).Model(w).Updates(map[string]interface{}{
		"status":             domain.WithdrawalStatusPaid,
		"provider_payout_id": res.PayoutID,
		"processed_at":       now,
	}).Error; err != nil {
		return nil, err
	}
	w.Status = domain.WithdrawalStatusPaid
	w.ProviderPayoutID = res.PayoutID
	w.ProcessedAt = &now
	wallet, err := s.wallet.Balance(ctx, w.UserID, w.Currency)
	if err != nil {
		return nil, err
	}
	s.log.Infof("[Withdrawal] request %d paid: payout=%s user=%d", w.ID, res.PayoutID, w.UserID)
	return &WithdrawalResult{Withdrawal: w, NewBalanceMinor: wallet.BalanceMinor}, nil
}

// claim atomically moves a pending_review withdrawal to processing so only
// one reviewer action can act on it. All preconditions run before the
// transition: once claimed, the only ways out are paid and failed, so an
// error after the UPDATE would strand a debited row no reviewer can refund.
// needDestination is set for approvals; a rejection refunds without one.
func (s *WithdrawalService) claim(ctx context.Context, withdrawalID, adminID uint, needDestination bool) (*models.Withdrawal, *models.User, error) {
	w, err := s.withdrawals.GetByID(withdrawalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrWithdrawalNotFound
		}
		return nil, nil, err
	}
	user, err := s.users.GetByID(w.UserID)
	if err != nil {
		return nil, nil, err
	}
	if needDestination && user.StripeConnectAccountID == "" {
		return nil, nil, ErrNotOnboarded
	}
	res := s.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", withdrawalID, domain.WithdrawalStatusPendingReview).
		Updates(map[string]interface{}{
			"status":   domain.WithdrawalStatusProcessing,
			"admin_id": adminID,
		})
	if res.Error != nil {
		return nil, nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil, fmt.Errorf("%w: current status %s", ErrInvalidState, w.Status)
	}
	w.Status = domain.WithdrawalStatusProcessing
	aid := adminID
	w.AdminID = &aid
	return w, user, nil
}

func (s *WithdrawalService) countPayout(outcome string) {
	if s.met != nil {
		s.met.PayoutAttempts.WithLabelValues(outcome).Inc()
	}
}
