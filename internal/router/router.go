package router

import (
	"net/http"
	"time"

	"bursar/config"
	"bursar/internal/cache"
	"bursar/internal/clock"
	"bursar/internal/handler"
	"bursar/internal/metrics"
	"bursar/internal/middleware"
	"bursar/internal/repository"
	"bursar/internal/service"
	"bursar/pkg/gateway"
	"bursar/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Deps carries the externally constructed pieces: anything that does IO at
// startup (gateway, store verifiers, redis) or is shared with tests.
type Deps struct {
	Gateway gateway.Gateway
	Apple   service.AppleTransactionVerifier
	Google  service.GooglePurchaseVerifier
	Counter cache.Counter
	Clock   clock.Clock
	Reg     *prometheus.Registry
	Log     *logger.Logger
}

func Setup(cfg *config.Config, db *gorm.DB, deps Deps) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	met := metrics.New(deps.Reg)

	// Repositories
	userRepo := repository.NewUserRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	withdrawalRepo := repository.NewWithdrawalRepository(db)
	receiptRepo := repository.NewReceiptRepository(db)
	productRepo := repository.NewProductRepository(db)

	// Services
	lease := service.RowLockLease{}
	walletSvc := service.NewWalletService(db, lease, deps.Clock, met, deps.Log)
	withdrawalSvc := service.NewWithdrawalService(db, walletSvc, userRepo, withdrawalRepo,
		deps.Gateway, deps.Clock, met, deps.Log, cfg.Wallet)
	iapSvc := service.NewIAPService(db, walletSvc, receiptRepo, productRepo,
		deps.Apple, deps.Google, cfg.Apple, cfg.Google, cfg.Wallet.Currency, deps.Clock, met, deps.Log)
	stripeSvc := service.NewStripeWebhookService(db, walletSvc, withdrawalSvc, productRepo,
		cfg.Wallet.Currency, deps.Clock, met, deps.Log)

	// Handlers
	walletHandler := handler.NewWalletHandler(walletSvc, ledgerRepo, userRepo, cfg.Wallet.Currency)
	withdrawalHandler := handler.NewWithdrawalHandler(withdrawalSvc, withdrawalRepo)
	adminHandler := handler.NewAdminHandler(withdrawalSvc, walletSvc, withdrawalRepo, cfg.Wallet.Currency)
	iapHandler := handler.NewIAPHandler(iapSvc)
	stripeWebhook := handler.NewStripeWebhookHandler(stripeSvc, cfg.Stripe, deps.Clock, deps.Log)
	appleWebhook := handler.NewAppleWebhookHandler(iapSvc, deps.Log)
	googleWebhook := handler.NewGoogleWebhookHandler(iapSvc, cfg.Google, deps.Log)

	authMw := middleware.AuthRequired(&cfg.JWT)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Reg, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	if deps.Counter != nil && cfg.Wallet.RateLimitPerMinute > 0 {
		api.Use(middleware.RateLimit(deps.Counter, cfg.Wallet.RateLimitPerMinute, time.Minute))
	}
	{
		wallet := api.Group("/wallet")
		wallet.Use(authMw)
		{
			wallet.GET("", walletHandler.GetBalance)
			wallet.GET("/transactions", walletHandler.ListTransactions)
			wallet.POST("/withdraw", withdrawalHandler.Create)
			wallet.GET("/withdrawals", withdrawalHandler.List)
			wallet.GET("/withdraw/fee", withdrawalHandler.Fee)
		}

		api.POST("/iap/verify", authMw, iapHandler.Verify)

		admin := api.Group("/admin")
		admin.Use(authMw, middleware.AdminRequired())
		{
			admin.GET("/withdrawals", adminHandler.ListWithdrawals)
			admin.POST("/withdrawals/:id/approve", adminHandler.ApproveWithdrawal)
			admin.POST("/withdrawals/:id/reject", adminHandler.RejectWithdrawal)
			admin.POST("/wallet/adjust", adminHandler.AdjustBalance)
		}

		api.POST("/webhooks/stripe", stripeWebhook.Handle)
		api.POST("/webhooks/apple", appleWebhook.Handle)
		api.POST("/webhooks/google", googleWebhook.Handle)
	}

	return r
}
