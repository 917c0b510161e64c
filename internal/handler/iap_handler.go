package handler

import (
	"net/http"

	"bursar/internal/domain"
	"bursar/internal/middleware"
	"bursar/internal/service"

	"github.com/gin-gonic/gin"
)

type IAPHandler struct {
	svc *service.IAPService
}

func NewIAPHandler(svc *service.IAPService) *IAPHandler {
	return &IAPHandler{svc: svc}
}

// Verify checks a store purchase and credits the wallet once. Replays of an
// already-credited transaction return 200 with already_processed set.
func (h *IAPHandler) Verify(c *gin.Context) {
	userID := middleware.GetUserID(c)
	var req struct {
		Platform          string `json:"platform" binding:"required"`
		SignedTransaction string `json:"signed_transaction"`
		ProductID         string `json:"product_id"`
		PurchaseToken     string `json:"purchase_token"`
		AppAccountToken   string `json:"app_account_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Platform != domain.PlatformApple && req.Platform != domain.PlatformGoogle {
		c.JSON(http.StatusBadRequest, gin.H{"error": "platform must be apple or google"})
		return
	}
	if req.Platform == domain.PlatformApple && req.SignedTransaction == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signed_transaction is required for apple"})
		return
	}
	res, err := h.svc.VerifyAndCredit(c.Request.Context(), userID, service.VerifyRequest{
		Platform:          req.Platform,
		SignedTransaction: req.SignedTransaction,
		ProductID:         req.ProductID,
		PurchaseToken:     req.PurchaseToken,
		AppAccountToken:   req.AppAccountToken,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"receipt":           res.Receipt,
		"credited_minor":    res.CreditedMinor,
		"balance_minor":     res.NewBalanceMinor,
		"already_processed": res.AlreadyProcessed,
	})
}
