package handler

import (
	"errors"
	"net/http"

	"bursar/internal/service"
	"bursar/pkg/logger"

	"github.com/gin-gonic/gin"
)

type AppleWebhookHandler struct {
	svc *service.IAPService
	log *logger.Logger
}

func NewAppleWebhookHandler(svc *service.IAPService, log *logger.Logger) *AppleWebhookHandler {
	return &AppleWebhookHandler{svc: svc, log: log}
}

// Handle processes an App Store Server Notification V2. The JWS signature
// on signedPayload is the authentication; there is no shared secret.
func (h *AppleWebhookHandler) Handle(c *gin.Context) {
	var req struct {
		SignedPayload string `json:"signedPayload" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signedPayload is required"})
		return
	}
	res, err := h.svc.HandleAppleNotification(c.Request.Context(), req.SignedPayload)
	if err != nil {
		if errors.Is(err, service.ErrVerificationFailed) {
			h.log.Warnf("[AppleWebhook] rejected notification: %v", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "verification failed"})
			return
		}
		h.log.Errorf("[AppleWebhook] processing failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": res.Outcome})
}
