package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"bursar/internal/domain"
	"bursar/internal/models"
)

func TestAdjustCreditThenDebit(t *testing.T) {
	db := newTestDB(t)
	svc := newTestWalletService(t, db)
	u := seedUser(t, db, nil)
	ctx := context.Background()

	b, err := svc.Adjust(ctx, AdjustParams{UserID: u.ID, Currency: "usd", DeltaMinor: 1000, Kind: domain.KindDeposit})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if b != 1000 {
		t.Fatalf("balance after credit = %d, want 1000", b)
	}
	b, err = svc.Adjust(ctx, AdjustParams{UserID: u.ID, Currency: "usd", DeltaMinor: -400, Kind: domain.KindWithdraw})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if b != 600 {
		t.Fatalf("balance after debit = %d, want 600", b)
	}
	if sum := ledgerSum(t, db, u.ID); sum != 600 {
		t.Fatalf("ledger sum = %d, want 600", sum)
	}
}

func TestAdjustRejectsZeroDelta(t *testing.T) {
	db := newTestDB(t)
	svc := newTestWalletService(t, db)
	u := seedUser(t, db, nil)

	_, err := svc.Adjust(context.Background(), AdjustParams{UserID: u.ID, Currency: "usd", DeltaMinor: 0, Kind: domain.KindDeposit})
	if !errors.Is(err, ErrZeroDelta) {
		t.Fatalf("err = %v, want ErrZeroDelta", err)
	}
}

func TestAdjustRejectsUnsupportedCurrency(t *testing.T) {
	db := newTestDB(t)
	svc := newTestWalletService(t, db)
	u := seedUser(t, db, nil)

	_, err := svc.Adjust(context.Background(), AdjustParams{UserID: u.ID, Currency: "jpy", DeltaMinor: 100, Kind: domain.KindDeposit})
	if !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("err = %v, want ErrUnsupportedCurrency", err)
	}
}

func TestAdjustRejectsUnknownUser(t *testing.T) {
	db := newTestDB(t)
	svc := newTestWalletService(t, db)

	_, err := svc.Adjust(context.Background(), AdjustParams{UserID: 999, Currency: "usd", DeltaMinor: 100, Kind: domain.KindDeposit})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestDebitCannotOverdraw(t *testing.T) {
	db := newTestDB(t)
	svc := newTestWalletService(t, db)
	u := seedUser(t, db, nil)
	ctx := context.Background()

	if _, err := svc.Adjust(ctx, AdjustParams{UserID: u.ID, Currency: "usd", DeltaMinor: 500, Kind: domain.KindDeposit}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	_, err := svc.Adjust(ctx, AdjustParams{UserID: u.ID, Currency: "usd", DeltaMinor: -600, Kind: domain.KindWithdraw})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if b := mustBalance(t, db, u.ID); b != 500 {
		t.Fatalf("balance = %d, want 500 (rejected debit must not change it)", b)
	}
	if n := ledgerCount(t, db, u.ID); n != 1 {
		t.Fatalf("ledger entries = %d, want 1", n)
	}
}

func TestAdjustmentMayGoNegative(t *testing.T) {
	db := newTestDB(t)
	svc := newTestWalletService(t, db)
	u := seedUser(t, db, nil)

	b, err := svc.Adjust(context.Background(), AdjustParams{UserID: u.ID, Currency: "usd", DeltaMinor: -250, Kind: domain.KindAdjustment})
	if err != nil {
		t.Fatalf("adjustment: %v", err)
	}
	if b != -250 {
		t.Fatalf("balance = %d, want -250", b)
	}
}

func TestIAPRefundClampsAtZero(t *testing.T) {
	db := newTestDB(t)
	svc := newTestWalletService(t, db)
	u := seedUser(t, db, nil)
	ctx := context.Background()

	if _, err := svc.Adjust(ctx, AdjustParams{UserID: u.ID, Currency: "usd", DeltaMinor: 300, Kind: domain.KindDeposit}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	b, err := svc.Adjust(ctx, AdjustParams{UserID: u.ID, Currency: "usd", DeltaMinor: -500, Kind: domain.KindIAPRefund})
	if err != nil {
		t.Fatalf("iap refund: %v", err)
	}
	if b != 0 {
		t.Fatalf("balance = %d, want 0", b)
	}
	// The recorded entry reflects the clamped amount, so the ledger still sums.
	if sum := ledgerSum(t, db, u.ID); sum != 0 {
		t.Fatalf("ledger sum = %d, want 0", sum)
	}
}

func TestIAPRefundOnEmptyWalletIsNoOp(t *testing.T) {
	db := newTestDB(t)
	svc := newTestWalletService(t, db)
	u := seedUser(t, db, nil)
	ctx := context.Background()

	if _, err := svc.Adjust(ctx, AdjustParams{UserID: u.ID, Currency: "usd", DeltaMinor: 100, Kind: domain.KindDeposit}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if _, err := svc.Adjust(ctx, AdjustParams{UserID: u.ID, Currency: "usd", DeltaMinor: -100, Kind: domain.KindWithdraw}); err != nil {
		t.Fatalf("debit: %v", err)
	}
	b, err := svc.Adjust(ctx, AdjustParams{UserID: u.ID, Currency: "usd", DeltaMinor: -50, Kind: domain.KindIAPRefund})
	if err != nil {
		t.Fatalf("iap refund: %v", err)
	}
	if b != 0 {
		t.Fatalf("balance = %d, want 0", b)
	}
	if n := ledgerCount(t, db, u.ID); n != 2 {
		t.Fatalf("ledger entries = %d, want 2 (no-op refund writes nothing)", n)
	}
}

func TestEventIDShortCircuits(t *testing.T) {
	db := newTestDB(t)
	svc := newTestWalletService(t, db)
	u := seedUser(t, db, nil)
	ctx := context.Background()

	p := AdjustParams{UserID: u.ID, Currency: "usd", DeltaMinor: 1000, Kind: domain.KindDeposit, EventID: "evt_1"}
	if _, err := svc.Adjust(ctx, p); err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := svc.Adjust(ctx, p)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if b != 1000 {
		t.Fatalf("replay balance = %d, want current balance 1000", b)
	}
	if n := ledgerCount(t, db, u.ID); n != 1 {
		t.Fatalf("ledger entries = %d, want 1", n)
	}
}

func TestIdempotencyKeyShortCircuits(t *testing.T) {
	db := newTestDB(t)
	svc := newTestWalletService(t, db)
	u := seedUser(t, db, nil)
	ctx := context.Background()

	p := AdjustParams{UserID: u.ID, Currency: "usd", DeltaMinor: 700, Kind: domain.KindDeposit, IdempotencyKey: "key-1"}
	if _, err := svc.Adjust(ctx, p); err != nil {
		t.Fatalf("first: %v", err)
	}
	// Same key, different amount: the stored entry wins, nothing new applies.
	p.DeltaMinor = 9999
	b, err := svc.Adjust(ctx, p)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if b != 700 {
		t.Fatalf("replay balance = %d, want 700", b)
	}
	if n := ledgerCount(t, db, u.ID); n != 1 {
		t.Fatalf("ledger entries = %d, want 1", n)
	}
}

func TestExternalRefTupleShortCircuits(t *testing.T) {
	db := newTestDB(t)
	svc := newTestWalletService(t, db)
	u := seedUser(t, db, nil)
	ctx := context.Background()

	p := AdjustParams{
		UserID: u.ID, Currency: "usd", DeltaMinor: 500, Kind: domain.KindRefund,
		ExternalRefType: "withdrawal_failed", ExternalRefID: "42",
	}
	if _, err := svc.Adjust(ctx, p); err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := svc.Adjust(ctx, p)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if b != 500 {
		t.Fatalf("replay balance = %d, want 500", b)
	}

	// A different kind against the same reference is a distinct operation.
	p2 := p
	p2.Kind = domain.KindDeposit
	if _, err := svc.Adjust(ctx, p2); err != nil {
		t.Fatalf("different kind: %v", err)
	}
	if n := ledgerCount(t, db, u.ID); n != 2 {
		t.Fatalf("ledger entries = %d, want 2", n)
	}
}

func TestCurrencyFixedOnceFunded(t *testing.T) {
	db := newTestDB(t)
	svc := newTestWalletService(t, db)
	u := seedUser(t, db, nil)
	ctx := context.Background()

	if _, err := svc.Adjust(ctx, AdjustParams{UserID: u.ID, Currency: "usd", DeltaMinor: 100, Kind: domain.KindDeposit}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	_, err := svc.Adjust(ctx, AdjustParams{UserID: u.ID, Currency: "eur", DeltaMinor: 100, Kind: domain.KindDeposit})
	if !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("err = %v, want ErrCurrencyMismatch", err)
	}
}

func TestBalanceForUnfundedUser(t *testing.T) {
	db := newTestDB(t)
	svc := newTestWalletService(t, db)
	u := seedUser(t, db, nil)

	w, err := svc.Balance(context.Background(), u.ID, "usd")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if w.BalanceMinor != 0 || w.Currency != "usd" {
		t.Fatalf("got %+v, want zero usd wallet", w)
	}
}

func TestConcurrentCreditsAllApply(t *testing.T) {
	db := newTestDB(t)
	svc := newTestWalletService(t, db)
	u := seedUser(t, db, nil)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Adjust(context.Background(), AdjustParams{
				UserID: u.ID, Currency: "usd", DeltaMinor: 10, Kind: domain.KindDeposit,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent credit: %v", err)
		}
	}
	if b := mustBalance(t, db, u.ID); b != workers*10 {
		t.Fatalf("balance = %d, want %d", b, workers*10)
	}
	if sum := ledgerSum(t, db, u.ID); sum != workers*10 {
		t.Fatalf("ledger sum = %d, want %d", sum, workers*10)
	}
}

func TestWalletCreatedOnFirstAdjustment(t *testing.T) {
	db := newTestDB(t)
	svc := newTestWalletService(t, db)
	u := seedUser(t, db, nil)

	if _, err := svc.Adjust(context.Background(), AdjustParams{UserID: u.ID, Currency: "gbp", DeltaMinor: 10, Kind: domain.KindDeposit}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	var w models.Wallet
	if err := db.Where("user_id = ?", u.ID).First(&w).Error; err != nil {
		t.Fatalf("wallet row missing: %v", err)
	}
	if w.Currency != "gbp" {
		t.Fatalf("currency = %s, want gbp", w.Currency)
	}
}
