package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gridlands/auction/internal/api/middleware"
	"github.com/gridlands/auction/internal/service"
)

// AddressHandler serves per-address ledger views and profile updates.
type AddressHandler struct {
	ledger   *service.LedgerService
	balances *service.BalanceService
}

// NewAddressHandler creates an AddressHandler.
func NewAddressHandler(ledger *service.LedgerService, balances *service.BalanceService) *AddressHandler {
	return &AddressHandler{ledger: ledger, balances: balances}
}

// GetAddress godoc
// GET /api/addresses/:address
// Returns balances, the latest bid group, and the address's bid history.
func (h *AddressHandler) GetAddress(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))

	view, err := h.ledger.AddressView(c.Request.Context(), address)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, view)
}

// GetLocked godoc
// GET /api/addresses/:address/locked
// Returns the zero-filled monthly locked series and the discounted aggregate.
func (h *AddressHandler) GetLocked(c *gin.Context) {
	address := strings.ToLower(c.Param("address"))
	ctx := c.Request.Context()

	monthly, err := h.balances.MonthlyLockedBalance(ctx, address)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	aggregate, err := h.balances.AggregateLockedMANA(ctx, address)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"address":   address,
		"monthly":   monthly,
		"aggregate": aggregate,
	})
}

// RegisterEmail godoc
// POST /api/addresses/email [JWT]
// Body: {"email":"bidder@example.com"}
func (h *AddressHandler) RegisterEmail(c *gin.Context) {
	address := middleware.GetAddress(c)

	var body struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	if err := h.balances.RegisterEmail(c.Request.Context(), address, body.Email); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"address": address, "email": body.Email})
}

// CommitDistrict godoc
// POST /api/districts [JWT]
// Body: {"district_id":"uuid","amount":"5000"}
// Locks the amount as a district contribution for the current month.
func (h *AddressHandler) CommitDistrict(c *gin.Context) {
	address := middleware.GetAddress(c)

	var body struct {
		DistrictID string `json:"district_id" binding:"required"`
		Amount     string `json:"amount"      binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	districtID, err := uuid.Parse(body.DistrictID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_DISTRICT_ID", "invalid district_id format")
		return
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a decimal string")
		return
	}

	month := int(time.Now().UTC().Month())
	if err := h.balances.CommitDistrict(c.Request.Context(), address, districtID, month, amount); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{
		"address":     address,
		"district_id": districtID,
		"month":       month,
		"amount":      amount,
	})
}
