package handler

import (
	"net/http"
	"strconv"

	"bursar/internal/middleware"
	"bursar/internal/repository"
	"bursar/internal/service"

	"github.com/gin-gonic/gin"
)

type WalletHandler struct {
	wallet   *service.WalletService
	ledger   *repository.LedgerRepository
	users    *repository.UserRepository
	currency string
}

func NewWalletHandler(wallet *service.WalletService, ledger *repository.LedgerRepository, users *repository.UserRepository, currency string) *WalletHandler {
	return &WalletHandler{wallet: wallet, ledger: ledger, users: users, currency: currency}
}

// GetBalance returns the current user's wallet balance.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID := middleware.GetUserID(c)
	w, err := h.wallet.Balance(c.Request.Context(), userID, h.currency)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "wallet error"})
		return
	}
	onboarded := false
	if u, err := h.users.GetByID(userID); err == nil {
		onboarded = u.StripeConnectAccountID != ""
	}
	c.JSON(http.StatusOK, gin.H{
		"balance_minor": w.BalanceMinor,
		"balance":       float64(w.BalanceMinor) / 100,
		"currency":      w.Currency,
		"onboarded":     onboarded,
	})
}

// ListTransactions returns the user's newest ledger entries.
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	userID := middleware.GetUserID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	entries, err := h.ledger.RecentByUser(userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": entries})
}
