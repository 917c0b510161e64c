package service

import (
	"testing"
	"time"

	"bursar/config"
	"bursar/internal/clock"
	"bursar/internal/database"
	"bursar/internal/metrics"
	"bursar/internal/models"
	"bursar/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testTime = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	// sqlite has no row locks; a single connection plus the mutex lease
	// stands in for FOR UPDATE.
	sqlDB.SetMaxOpenConns(1)
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestWalletService(t *testing.T, db *gorm.DB) *WalletService {
	t.Helper()
	return NewWalletService(db, NewMutexLease(), clock.Fixed{T: testTime},
		metrics.New(prometheus.NewRegistry()), logger.New("test"))
}

func testWalletConfig() config.WalletConfig {
	return config.WalletConfig{
		Currency:               "usd",
		InstantFeePercent:      2,
		InstantFeeMinMinor:     50,
		InstantDailyLimitMinor: 50000,
	}
}

func seedUser(t *testing.T, db *gorm.DB, u *models.User) *models.User {
	t.Helper()
	if u == nil {
		u = &models.User{}
	}
	if u.Email == "" {
		u.Email = "user@example.com"
	}
	if u.Role == "" {
		u.Role = "USER"
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func seedProduct(t *testing.T, db *gorm.DB, productID string, creditMinor int64) {
	t.Helper()
	p := &models.Product{ProductID: productID, Name: productID, CreditMinor: creditMinor, Active: true}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func mustBalance(t *testing.T, db *gorm.DB, userID uint) int64 {
	t.Helper()
	var w models.Wallet
	if err := db.Where("user_id = ?", userID).First(&w).Error; err != nil {
		t.Fatalf("load wallet: %v", err)
	}
	return w.BalanceMinor
}

func ledgerSum(t *testing.T, db *gorm.DB, userID uint) int64 {
	t.Helper()
	var sum int64
	err := db.Model(&models.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount_minor), 0)").
		Scan(&sum).Error
	if err != nil {
		t.Fatalf("sum ledger: %v", err)
	}
	return sum
}

func ledgerCount(t *testing.T, db *gorm.DB, userID uint) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.LedgerEntry{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	return n
}
