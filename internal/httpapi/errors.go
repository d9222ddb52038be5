package httpapi

import (
	"errors"
	"net/http"

	"callbilling/internal/calls"
	"callbilling/internal/credits"
	"callbilling/internal/dispatch"
	"callbilling/internal/enrichment"
	"callbilling/internal/reporting"
	"callbilling/internal/telephony"
	"callbilling/internal/wallet"
	"callbilling/pkg/logger"

	"github.com/gin-gonic/gin"
)

// abortWithError maps domain errors onto HTTP status codes. Unknown errors are
// logged and reported as 500 without their message.
func abortWithError(c *gin.Context, err error) {
	var ice *credits.InsufficientCreditsError
	switch {
	case errors.As(err, &ice):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
			"error":     "insufficient ai credits",
			"required":  ice.Required,
			"available": ice.Available,
		})
	case errors.Is(err, wallet.ErrInsufficientFunds):
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrInvalidArgument),
		errors.Is(err, dispatch.ErrInvalidArgument),
		errors.Is(err, wallet.ErrInvalidArgument),
		errors.Is(err, credits.ErrInvalidArgument),
		errors.Is(err, enrichment.ErrValidation),
		errors.Is(err, reporting.ErrInvalidRequest),
		errors.Is(err, telephony.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrNotFound), errors.Is(err, wallet.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrConcurrencyConflict), errors.Is(err, wallet.ErrWalletExists):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, dispatch.ErrConcurrencyLimit):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, telephony.ErrProviderRejected):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, telephony.ErrUpstream), errors.Is(err, enrichment.ErrUpstream):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
