package handler

import (
	"errors"
	"net/http"

	"bursar/internal/domain"
	"bursar/internal/service"

	"github.com/gin-gonic/gin"
)

// respondServiceError maps service sentinels to stable HTTP codes. Anything
// unmapped is a 500 with a generic body; details stay in the logs.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": domain.CodeInsufficientBalance})
	case errors.Is(err, service.ErrInstantDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": domain.CodeInstantDisabled})
	case errors.Is(err, service.ErrDailyLimitExceeded):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": domain.CodeDailyLimitExceeded})
	case errors.Is(err, service.ErrNotOnboarded):
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error(), "code": domain.CodeNotOnboarded})
	case errors.Is(err, service.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": domain.CodeInvalidState})
	case errors.Is(err, service.ErrCurrencyMismatch), errors.Is(err, service.ErrUnsupportedCurrency):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": domain.CodeCurrencyMismatch})
	case errors.Is(err, service.ErrWithdrawalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrTransactionRevoked):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUnknownProduct):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrVerificationFailed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
