package handler

import (
	"net/http"
	"strconv"

	"bursar/internal/domain"
	"bursar/internal/middleware"
	"bursar/internal/repository"
	"bursar/internal/service"

	"github.com/gin-gonic/gin"
)

type WithdrawalHandler struct {
	svc  *service.WithdrawalService
	repo *repository.WithdrawalRepository
}

func NewWithdrawalHandler(svc *service.WithdrawalService, repo *repository.WithdrawalRepository) *WithdrawalHandler {
	return &WithdrawalHandler{svc: svc, repo: repo}
}

// Create debits the wallet and opens a withdrawal. Standard requests queue
// for review; instant ones are paid out (or refunded) before this returns.
func (h *WithdrawalHandler) Create(c *gin.Context) {
	userID := middleware.GetUserID(c)
	var req struct {
		AmountMinor int64  `json:"amount_minor" binding:"required,min=1"`
		Type        string `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type == "" {
		req.Type = domain.WithdrawalTypeStandard
	}
	res, err := h.svc.Request(c.Request.Context(), userID, req.AmountMinor, req.Type)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if res.Refunded {
		// The payout was refused after the debit; everything went back.
		c.JSON(http.StatusBadGateway, gin.H{
			"error":          "withdrawal failed; funds have been returned to your wallet",
			"code":           "payout_failed",
			"withdrawal":     res.Withdrawal,
			"balance_minor":  res.NewBalanceMinor,
			"failure_reason": res.Withdrawal.FailureReason,
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"withdrawal":    res.Withdrawal,
		"balance_minor": res.NewBalanceMinor,
	})
}

// List returns the user's own withdrawal requests, newest first.
func (h *WithdrawalHandler) List(c *gin.Context) {
	userID := middleware.GetUserID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	ws, err := h.repo.ListByUser(userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "withdrawal lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": ws})
}

// Fee quotes the fee for a prospective withdrawal.
func (h *WithdrawalHandler) Fee(c *gin.Context) {
	amount, err := strconv.ParseInt(c.Query("amount_minor"), 10, 64)
	if err != nil || amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount_minor must be a positive integer"})
		return
	}
	wtype := c.DefaultQuery("type", domain.WithdrawalTypeStandard)
	fee := h.svc.CalculateFee(amount, wtype)
	c.JSON(http.StatusOK, gin.H{
		"amount_minor": amount,
		"fee_minor":    fee,
		"total_minor":  amount + fee,
		"type":         wtype,
	})
}
