package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"bursar/internal/clock"
	"bursar/internal/domain"
	"bursar/internal/metrics"
	"bursar/internal/models"
	"bursar/internal/repository"
	"bursar/pkg/gateway"
	"bursar/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

func newStripeFixture(t *testing.T, db *gorm.DB, gw gateway.Gateway) (*StripeWebhookService, *WithdrawalService, *WalletService) {
	t.Helper()
	met := metrics.New(prometheus.NewRegistry())
	log := logger.New("test")
	clk := clock.Fixed{T: testTime}
	wallet := NewWalletService(db, NewMutexLease(), clk, met, log)
	withdrawals := NewWithdrawalService(db, wallet,
		repository.NewUserRepository(db), repository.NewWithdrawalRepository(db),
		gw, clk, met, log, testWalletConfig())
	svc := NewStripeWebhookService(db, wallet, withdrawals,
		repository.NewProductRepository(db), "usd", clk, met, log)
	return svc, withdrawals, wallet
}

func stripeEventJSON(t *testing.T, id, etype string, object interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal object: %v", err)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"id":       id,
		"type":     etype,
		"livemode": false,
		"data":     map[string]json.RawMessage{"object": raw},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload
}

func TestPayoutPaidMarksWithdrawal(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{}
	svc, withdrawals, wallet := newStripeFixture(t, db, gw)
	u := seedPayoutUser(t, db, wallet, 100000)

	req, err := withdrawals.Request(context.Background(), u.ID, 10000, domain.WithdrawalTypeInstant)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	payoutID := req.Withdrawal.ProviderPayoutID

	// Force a non-terminal status so the event has something to confirm.
	if err := db.Model(req.Withdrawal).Update("status", domain.WithdrawalStatusProcessing).Error; err != nil {
		t.Fatalf("reset status: %v", err)
	}
	res, err := svc.Process(context.Background(), stripeEventJSON(t, "evt_paid_1", StripeEventPayoutPaid,
		map[string]string{"id": payoutID}))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != "applied" {
		t.Fatalf("outcome = %s, want applied", res.Outcome)
	}
	var w models.Withdrawal
	if err := db.First(&w, req.Withdrawal.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if w.Status != domain.WithdrawalStatusPaid {
		t.Fatalf("status = %s, want paid", w.Status)
	}
}

func TestPayoutFailedEventRefunds(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{}
	svc, withdrawals, wallet := newStripeFixture(t, db, gw)
	u := seedPayoutUser(t, db, wallet, 100000)

	req, err := withdrawals.Request(context.Background(), u.ID, 10000, domain.WithdrawalTypeInstant)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.NewBalanceMinor != 89800 {
		t.Fatalf("balance after debit = %d, want 89800", req.NewBalanceMinor)
	}

	// The processor accepted the payout but it bounced asynchronously.
	payload := stripeEventJSON(t, "evt_failed_1", StripeEventPayoutFailed,
		map[string]string{"id": req.Withdrawal.ProviderPayoutID, "failure_message": "account closed"})
	res, err := svc.Process(context.Background(), payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != "applied" {
		t.Fatalf("outcome = %s, want applied", res.Outcome)
	}
	if b := mustBalance(t, db, u.ID); b != 100000 {
		t.Fatalf("balance = %d, want 100000 restored", b)
	}
	var w models.Withdrawal
	if err := db.First(&w, req.Withdrawal.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if w.Status != domain.WithdrawalStatusFailed || w.FailureReason != "account closed" {
		t.Fatalf("got status=%s reason=%q", w.Status, w.FailureReason)
	}
}

func TestEventRedeliveryIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{}
	svc, withdrawals, wallet := newStripeFixture(t, db, gw)
	u := seedPayoutUser(t, db, wallet, 100000)

	req, err := withdrawals.Request(context.Background(), u.ID, 10000, domain.WithdrawalTypeInstant)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	payload := stripeEventJSON(t, "evt_failed_2", StripeEventPayoutFailed,
		map[string]string{"id": req.Withdrawal.ProviderPayoutID, "failure_message": "bank refused"})

	outcomes := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		res, err := svc.Process(context.Background(), payload)
		if err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
		outcomes = append(outcomes, res.Outcome)
	}
	if outcomes[0] != "applied" || outcomes[1] != "duplicate" || outcomes[2] != "duplicate" {
		t.Fatalf("outcomes = %v", outcomes)
	}
	if b := mustBalance(t, db, u.ID); b != 100000 {
		t.Fatalf("balance = %d, want exactly one refund", b)
	}
}

func TestPaymentIntentSucceededCreditsAmount(t *testing.T) {
	db := newTestDB(t)
	svc, _, _ := newStripeFixture(t, db, &fakeGateway{})
	u := seedUser(t, db, nil)

	payload := stripeEventJSON(t, "evt_pi_1", StripeEventPaymentIntentSucceeded, map[string]interface{}{
		"id":              "pi_100",
		"amount":          2500,
		"amount_received": 2500,
		"currency":        "usd",
		"metadata":        map[string]string{"account_id": fmt.Sprint(u.ID)},
	})
	res, err := svc.Process(context.Background(), payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != "applied" {
		t.Fatalf("outcome = %s, want applied", res.Outcome)
	}
	if b := mustBalance(t, db, u.ID); b != 2500 {
		t.Fatalf("balance = %d, want 2500", b)
	}
}

func TestPaymentIntentWithProductUsesCatalogPrice(t *testing.T) {
	db := newTestDB(t)
	svc, _, _ := newStripeFixture(t, db, &fakeGateway{})
	u := seedUser(t, db, nil)
	seedProduct(t, db, "coins_500", 499)

	// Charge amount differs from catalog; the catalog wins.
	payload := stripeEventJSON(t, "evt_pi_2", StripeEventPaymentIntentSucceeded, map[string]interface{}{
		"id":              "pi_200",
		"amount":          9999,
		"amount_received": 9999,
		"currency":        "usd",
		"metadata":        map[string]string{"account_id": fmt.Sprint(u.ID), "product_id": "coins_500"},
	})
	if _, err := svc.Process(context.Background(), payload); err != nil {
		t.Fatalf("process: %v", err)
	}
	if b := mustBalance(t, db, u.ID); b != 499 {
		t.Fatalf("balance = %d, want catalog 499", b)
	}
	var entry models.LedgerEntry
	if err := db.Where("user_id = ?", u.ID).First(&entry).Error; err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entry.Kind != domain.KindProductPurchaseCredit {
		t.Fatalf("kind = %s, want product_purchase_credit", entry.Kind)
	}
}

func TestPaymentIntentWithoutAccountSkipped(t *testing.T) {
	db := newTestDB(t)
	svc, _, _ := newStripeFixture(t, db, &fakeGateway{})

	payload := stripeEventJSON(t, "evt_pi_3", StripeEventPaymentIntentSucceeded, map[string]interface{}{
		"id": "pi_300", "amount": 100, "currency": "usd",
	})
	res, err := svc.Process(context.Background(), payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != "skipped" {
		t.Fatalf("outcome = %s, want skipped", res.Outcome)
	}
}

func TestAccountUpdatedTogglesPayouts(t *testing.T) {
	db := newTestDB(t)
	svc, _, _ := newStripeFixture(t, db, &fakeGateway{})
	u := seedUser(t, db, &models.User{Email: "acct@example.com", StripeConnectAccountID: "acct_77"})

	payload := stripeEventJSON(t, "evt_acct_1", StripeEventAccountUpdated, map[string]interface{}{
		"id": "acct_77", "payouts_enabled": true,
	})
	res, err := svc.Process(context.Background(), payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != "applied" {
		t.Fatalf("outcome = %s, want applied", res.Outcome)
	}
	var got models.User
	if err := db.First(&got, u.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !got.PayoutsEnabled {
		t.Fatalf("payouts_enabled not set")
	}
}

func TestUnknownEventTypeLeavesMarker(t *testing.T) {
	db := newTestDB(t)
	svc, _, _ := newStripeFixture(t, db, &fakeGateway{})

	payload := stripeEventJSON(t, "evt_misc_1", "charge.refund.updated", map[string]string{"id": "re_1"})
	res, err := svc.Process(context.Background(), payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != "no_op" {
		t.Fatalf("outcome = %s, want no_op", res.Outcome)
	}
	seen, err := repository.NewLedgerRepository(db).HasEventID(nil, "evt_misc_1")
	if err != nil || !seen {
		t.Fatalf("marker missing (seen=%v, err=%v)", seen, err)
	}

	// And the marker makes the redelivery a duplicate.
	res, err = svc.Process(context.Background(), payload)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if res.Outcome != "duplicate" {
		t.Fatalf("redelivery outcome = %s, want duplicate", res.Outcome)
	}
}

func TestPaymentIntentRejectsUnknownKindMetadata(t *testing.T) {
	db := newTestDB(t)
	svc, _, _ := newStripeFixture(t, db, &fakeGateway{})
	u := seedUser(t, db, nil)

	payload := stripeEventJSON(t, "evt_pi_4", StripeEventPaymentIntentSucceeded, map[string]interface{}{
		"id":              "pi_400",
		"amount":          1000,
		"amount_received": 1000,
		"currency":        "usd",
		"metadata":        map[string]string{"account_id": fmt.Sprint(u.ID), "kind": "adjustment"},
	})
	res, err := svc.Process(context.Background(), payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != "skipped" {
		t.Fatalf("outcome = %s, want skipped", res.Outcome)
	}
	if n := ledgerCount(t, db, u.ID); n != 0 {
		t.Fatalf("ledger entries = %d, want 0", n)
	}
}
