package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/gridlands/auction/internal/service"
	"github.com/gridlands/auction/internal/store"
)

// FinanceHandler serves /admin/finance endpoints: balance credits from the
// deposit bridge and the outbid notification backlog.
type FinanceHandler struct {
	balances *service.BalanceService
	store    store.Store
}

// NewFinanceHandler creates a FinanceHandler.
func NewFinanceHandler(balances *service.BalanceService, st store.Store) *FinanceHandler {
	return &FinanceHandler{balances: balances, store: st}
}

// Credit godoc
// POST /admin/finance/credit
// Body: {"address":"0xabc...","amount":"10000"}
// Credits confirmed deposits into an address's total balance.
func (h *FinanceHandler) Credit(c *gin.Context) {
	var body struct {
		Address string `json:"address" binding:"required"`
		Amount  string `json:"amount"  binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a decimal string")
		return
	}

	address := strings.ToLower(body.Address)
	if err := h.balances.Credit(c.Request.Context(), address, amount); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_CREDIT_FAILED", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"address": address, "credited": amount})
}

// Notifications godoc
// GET /admin/finance/notifications?limit=50
// Lists outbid notifications still awaiting delivery.
func (h *FinanceHandler) Notifications(c *gin.Context) {
	pending, err := h.store.PendingOutbidNotifications(c.Request.Context(), adminLimit(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondList(c, pending, len(pending))
}
