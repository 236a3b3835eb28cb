package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gridlands/auction/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondList writes {"success": true, "data": items, "meta": {...}}.
func respondList(c *gin.Context, items interface{}, total int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total": total,
		},
	})
}

// respondDomainError translates a ledger error into the HTTP envelope. Rule
// failures map to 4xx, transient persistence faults to 503, everything else
// to 500.
func respondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrBidTooLow):
		respondError(c, http.StatusBadRequest, "ERR_BID_TOO_LOW", err.Error())
	case errors.Is(err, domain.ErrValidation):
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
	case errors.Is(err, domain.ErrParcelOutOfBounds):
		respondError(c, http.StatusBadRequest, "ERR_OUT_OF_BOUNDS", err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance):
		respondError(c, http.StatusPaymentRequired, "ERR_INSUFFICIENT_BALANCE", err.Error())
	case errors.Is(err, domain.ErrAuctionClosed):
		respondError(c, http.StatusConflict, "ERR_AUCTION_CLOSED", err.Error())
	case errors.Is(err, domain.ErrConcurrentBidConflict):
		respondError(c, http.StatusConflict, "ERR_CONCURRENT_BID", err.Error())
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", err.Error())
	case domain.IsTransient(err):
		respondError(c, http.StatusServiceUnavailable, "ERR_UNAVAILABLE", "service temporarily unavailable, retry later")
	default:
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "internal error")
	}
}
