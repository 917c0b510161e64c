package handler

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"bursar/config"
	"bursar/internal/iap"
	"bursar/internal/service"
	"bursar/pkg/logger"

	"github.com/gin-gonic/gin"
)

type GoogleWebhookHandler struct {
	svc *service.IAPService
	cfg config.GoogleConfig
	log *logger.Logger
}

func NewGoogleWebhookHandler(svc *service.IAPService, cfg config.GoogleConfig, log *logger.Logger) *GoogleWebhookHandler {
	return &GoogleWebhookHandler{svc: svc, cfg: cfg, log: log}
}

// pubSubPush is the envelope Cloud Pub/Sub wraps around a developer
// notification.
type pubSubPush struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// Handle processes a Play real-time developer notification delivered over
// Pub/Sub push. The endpoint is guarded by a shared token in the query
// string; a wrong or missing token is a hard reject.
func (h *GoogleWebhookHandler) Handle(c *gin.Context) {
	if h.cfg.WebhookSecret != "" {
		token := c.Query("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.WebhookSecret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
	}
	var push pubSubPush
	if err := c.ShouldBindJSON(&push); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid push envelope"})
		return
	}
	raw, err := base64.StdEncoding.DecodeString(push.Message.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message data"})
		return
	}
	var n iap.GoogleDeveloperNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification payload"})
		return
	}
	res, err := h.svc.HandleGoogleNotification(c.Request.Context(), push.Message.MessageID, &n)
	if err != nil {
		if errors.Is(err, service.ErrVerificationFailed) {
			h.log.Warnf("[GoogleWebhook] rejected notification: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "verification failed"})
			return
		}
		h.log.Errorf("[GoogleWebhook] processing failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": res.Outcome})
}
