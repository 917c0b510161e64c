package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"bursar/internal/clock"
	"bursar/internal/domain"
	"bursar/internal/metrics"
	"bursar/internal/models"
	"bursar/internal/repository"
	"bursar/pkg/logger"

	"gorm.io/gorm"
)

// Stripe event types the processor acts on.
const (
	StripeEventPayoutPaid             = "payout.paid"
	StripeEventPayoutFailed           = "payout.failed"
	StripeEventPaymentIntentSucceeded = "payment_intent.succeeded"
	StripeEventAccountUpdated         = "account.updated"
)

// StripeEvent is the envelope every Stripe webhook delivery shares.
type StripeEvent struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Livemode bool   `json:"livemode"`
	Account  string `json:"account,omitempty"`
	Data     struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripePayoutObject struct {
	ID             string `json:"id"`
	FailureCode    string `json:"failure_code"`
	FailureMessage string `json:"failure_message"`
}

type stripePaymentIntentObject struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
}

type stripeAccountObject struct {
	ID             string `json:"id"`
	PayoutsEnabled bool   `json:"payouts_enabled"`
}

// StripeWebhookService reconciles processor state with the ledger. Every
// delivery leaves a marker ledger entry (user 0, amount 0) carrying the
// event id; the marker and the event's side effects commit together, so a
// redelivered event is detected before anything runs.
type StripeWebhookService struct {
	db          *gorm.DB
	wallet      *WalletService
	withdrawals *WithdrawalService
	products    *repository.ProductRepository
	currency    string
	clk         clock.Clock
	met         *metrics.Metrics
	log         *logger.Logger
}

func NewStripeWebhookService(
	db *gorm.DB,
	wallet *WalletService,
	withdrawals *WithdrawalService,
	products *repository.ProductRepository,
	currency string,
	clk clock.Clock,
	met *metrics.Metrics,
	log *logger.Logger,
) *StripeWebhookService {
	return &StripeWebhookService{
		db:          db,
		wallet:      wallet,
		withdrawals: withdrawals,
		products:    products,
		currency:    strings.ToLower(currency),
		clk:         clk,
		met:         met,
		log:         log,
	}
}

// WebhookResult reports what a delivery did.
type WebhookResult struct {
	EventID string
	Type    string
	Outcome string // applied, no_op, skipped, duplicate
}

// Process handles one signature-verified delivery. Unknown event types are
// acknowledged with a marker so Stripe stops retrying them.
func (s *StripeWebhookService) Process(ctx context.Context, payload []byte) (*WebhookResult, error) {
	var ev StripeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode stripe event: %w", err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, errors.New("stripe event missing id or type")
	}

	res := &WebhookResult{EventID: ev.ID, Type: ev.Type}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen, err := entryExists(tx, "event_id = ?", ev.ID)
		if err != nil {
			return err
		}
		if seen {
			res.Outcome = "duplicate"
			return nil
		}

		outcome, err := s.dispatch(tx, &ev)
		if err != nil {
			return err
		}
		res.Outcome = outcome

		marker := models.LedgerEntry{
			UserID:          0,
			AmountMinor:     0,
			Currency:        s.currency,
			Kind:            domain.KindWebhookEvent,
			ExternalRefType: "stripe_event",
			ExternalRefID:   ev.Type,
			EventID:         &ev.ID,
			Livemode:        ev.Livemode,
			CreatedAt:       s.clk.Now(),
		}
		return tx.Create(&marker).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Concurrent delivery of the same event id: the first writer's
			// transaction committed, this one rolled back completely.
			res.Outcome = "duplicate"
			s.countEvent(ev.Type, res.Outcome)
			return res, nil
		}
		return nil, err
	}
	s.countEvent(ev.Type, res.Outcome)
	s.log.Infof("[StripeWebhook] event %s type=%s outcome=%s", ev.ID, ev.Type, res.Outcome)
	return res, nil
}

func (s *StripeWebhookService) dispatch(tx *gorm.DB, ev *StripeEvent) (string, error) {
	switch ev.Type {
	case StripeEventPayoutPaid:
		return s.handlePayoutPaid(tx, ev)
	case StripeEventPayoutFailed:
		return s.handlePayoutFailed(tx, ev)
	case StripeEventPaymentIntentSucceeded:
		return s.handlePaymentIntentSucceeded(tx, ev)
	case StripeEventAccountUpdated:
		return s.handleAccountUpdated(tx, ev)
	default:
		return "no_op", nil
	}
}

func (s *StripeWebhookService) handlePayoutPaid(tx *gorm.DB, ev *StripeEvent) (string, error) {
	var obj stripePayoutObject
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		return "", fmt.Errorf("decode payout object: %w", err)
	}
	w, err := findWithdrawalByPayout(tx, obj.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Warnf("[StripeWebhook] payout %s paid but no matching withdrawal", obj.ID)
		return "skipped", nil
	}
	if err != nil {
		return "", err
	}
	if w.Status == domain.WithdrawalStatusPaid {
		return "no_op", nil
	}
	if err := s.withdrawals.MarkPaid(tx, w, obj.ID); err != nil {
		return "", err
	}
	return "applied", nil
}

func (s *StripeWebhookService) handlePayoutFailed(tx *gorm.DB, ev *StripeEvent) (string, error) {
	var obj stripePayoutObject
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		return "", fmt.Errorf("decode payout object: %w", err)
	}
	w, err := findWithdrawalByPayout(tx, obj.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Warnf("[StripeWebhook] payout %s failed but no matching withdrawal", obj.ID)
		return "skipped", nil
	}
	if err != nil {
		return "", err
	}
	reason := obj.FailureMessage
	if reason == "" {
		reason = obj.FailureCode
	}
	if reason == "" {
		reason = "payout failed"
	}
	// CompensateFailed is keyed on the withdrawal id, so a payout that
	// already fed the refund path at request time collapses to a no-op here.
	if _, err := s.withdrawals.CompensateFailed(tx, w, reason); err != nil {
		return "", err
	}
	return "applied", nil
}

// handlePaymentIntentSucceeded credits a wallet from a card purchase. The
// metadata decides the target: account_id names the user, product_id (when
// set) selects the catalog price instead of trusting the charge amount.
func (s *StripeWebhookService) handlePaymentIntentSucceeded(tx *gorm.DB, ev *StripeEvent) (string, error) {
	var obj stripePaymentIntentObject
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		return "", fmt.Errorf("decode payment intent: %w", err)
	}
	accountID := obj.Metadata["account_id"]
	if accountID == "" {
		s.log.Warnf("[StripeWebhook] payment intent %s has no account_id metadata", obj.ID)
		return "skipped", nil
	}
	userID, err := strconv.ParseUint(accountID, 10, 64)
	if err != nil {
		s.log.Warnf("[StripeWebhook] payment intent %s has bad account_id %q", obj.ID, accountID)
		return "skipped", nil
	}

	kind := domain.KindDeposit
	amount := obj.AmountReceived
	if amount == 0 {
		amount = obj.Amount
	}
	if productID := obj.Metadata["product_id"]; productID != "" {
		credit, err := s.products.GetCreditMinor(productID)
		if err != nil {
			if errors.Is(err, repository.ErrProductNotFound) {
				s.log.Warnf("[StripeWebhook] payment intent %s references unknown product %s", obj.ID, productID)
				return "skipped", nil
			}
			return "", err
		}
		kind = domain.KindProductPurchaseCredit
		amount = credit
	} else if k := obj.Metadata["kind"]; k != "" {
		// Metadata is set by our own checkout code but still untrusted input;
		// only the two purchase kinds may come in through it.
		switch k {
		case domain.KindDeposit, domain.KindProductPurchaseCredit:
			kind = k
		default:
			s.log.Warnf("[StripeWebhook] payment intent %s has unsupported kind %q", obj.ID, k)
			return "skipped", nil
		}
	}
	if amount <= 0 {
		return "skipped", nil
	}

	currency := strings.ToLower(obj.Currency)
	if currency == "" {
		currency = s.currency
	}
	_, err = s.wallet.AdjustTx(tx, AdjustParams{
		UserID:          uint(userID),
		Currency:        currency,
		DeltaMinor:      amount,
		Kind:            kind,
		ExternalRefType: "payment_intent",
		ExternalRefID:   obj.ID,
		EventID:         obj.ID,
		Livemode:        ev.Livemode,
	})
	if err != nil {
		return "", err
	}
	return "applied", nil
}

func (s *StripeWebhookService) handleAccountUpdated(tx *gorm.DB, ev *StripeEvent) (string, error) {
	var obj stripeAccountObject
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		return "", fmt.Errorf("decode account object: %w", err)
	}
	res := tx.Model(&models.User{}).
		Where("stripe_connect_account_id = ?", obj.ID).
		Update("payouts_enabled", obj.PayoutsEnabled)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "skipped", nil
	}
	return "applied", nil
}

func (s *StripeWebhookService) countEvent(eventType, outcome string) {
	if s.met != nil {
		s.met.WebhookEvents.WithLabelValues("stripe", eventType, outcome).Inc()
	}
}

func findWithdrawalByPayout(tx *gorm.DB, payoutID string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := tx.Where("provider_payout_id = ?", payoutID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}
