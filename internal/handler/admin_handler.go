package handler

import (
	"net/http"
	"strconv"
	"strings"

	"bursar/internal/domain"
	"bursar/internal/middleware"
	"bursar/internal/repository"
	"bursar/internal/service"

	"github.com/gin-gonic/gin"
)

// AdminHandler covers the review queue and manual balance corrections.
type AdminHandler struct {
	withdrawals *service.WithdrawalService
	wallet      *service.WalletService
	repo        *repository.WithdrawalRepository
	currency    string
}

func NewAdminHandler(withdrawals *service.WithdrawalService, wallet *service.WalletService, repo *repository.WithdrawalRepository, currency string) *AdminHandler {
	return &AdminHandler{withdrawals: withdrawals, wallet: wallet, repo: repo, currency: currency}
}

// ListWithdrawals returns withdrawal requests filtered by status, defaulting
// to the review queue.
func (h *AdminHandler) ListWithdrawals(c *gin.Context) {
	status := c.DefaultQuery("status", domain.WithdrawalStatusPendingReview)
	wtype := c.Query("type")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	ws, err := h.repo.ListByStatus(status, wtype, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "withdrawal lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": ws})
}

// ApproveWithdrawal pushes a pending request through the payout gateway.
func (h *AdminHandler) ApproveWithdrawal(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid withdrawal id"})
		return
	}
	adminID := middleware.GetUserID(c)
	res, err := h.withdrawals.Approve(c.Request.Context(), uint(id), adminID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if res.Refunded {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":          "payout failed; funds were returned to the user",
			"code":           "payout_failed",
			"withdrawal":     res.Withdrawal,
			"failure_reason": res.Withdrawal.FailureReason,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": res.Withdrawal})
}

// RejectWithdrawal refunds the debit and closes the request.
func (h *AdminHandler) RejectWithdrawal(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid withdrawal id"})
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	adminID := middleware.GetUserID(c)
	res, err := h.withdrawals.Reject(c.Request.Context(), uint(id), adminID, req.Reason)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": res.Withdrawal})
}

// AdjustBalance applies a manual correction. Adjustments may take a balance
// negative; the idempotency key guards against double submission.
func (h *AdminHandler) AdjustBalance(c *gin.Context) {
	var req struct {
		UserID         uint   `json:"user_id" binding:"required"`
		DeltaMinor     int64  `json:"delta_minor" binding:"required"`
		Currency       string `json:"currency"`
		Kind           string `json:"kind"`
		Reason         string `json:"reason" binding:"required"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind := req.Kind
	if kind == "" {
		kind = domain.KindAdjustment
	}
	if kind != domain.KindAdjustment && kind != domain.KindDisputeHold {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be adjustment or dispute_hold"})
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = h.currency
	}
	// Only the explicit key deduplicates: two corrections with the same
	// reason text are still two corrections.
	balance, err := h.wallet.Adjust(c.Request.Context(), service.AdjustParams{
		UserID:         req.UserID,
		Currency:       strings.ToLower(currency),
		DeltaMinor:     req.DeltaMinor,
		Kind:           kind,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":       req.UserID,
		"balance_minor": balance,
	})
}
