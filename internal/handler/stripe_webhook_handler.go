package handler

import (
	"io"
	"net/http"
	"time"

	"bursar/config"
	"bursar/internal/clock"
	"bursar/internal/service"
	"bursar/pkg/gateway"
	"bursar/pkg/logger"

	"github.com/gin-gonic/gin"
)

// stripeSignatureTolerance bounds replay of captured deliveries.
const stripeSignatureTolerance = 5 * time.Minute

type StripeWebhookHandler struct {
	svc *service.StripeWebhookService
	cfg config.StripeConfig
	clk clock.Clock
	log *logger.Logger
}

func NewStripeWebhookHandler(svc *service.StripeWebhookService, cfg config.StripeConfig, clk clock.Clock, log *logger.Logger) *StripeWebhookHandler {
	return &StripeWebhookHandler{svc: svc, cfg: cfg, clk: clk, log: log}
}

// Handle verifies the signature over the raw body, then processes the
// event. Processing errors return 500 so the provider retries; duplicates
// and unknown types are acknowledged with 200.
func (h *StripeWebhookHandler) Handle(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
		return
	}
	sig := c.GetHeader("Stripe-Signature")
	if err := gateway.VerifyStripeSignature(payload, sig, h.cfg.WebhookSecret, stripeSignatureTolerance, h.clk.Now()); err != nil {
		h.log.Warnf("[StripeWebhook] signature rejected: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}
	res, err := h.svc.Process(c.Request.Context(), payload)
	if err != nil {
		h.log.Errorf("[StripeWebhook] processing failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": res.Outcome})
}
