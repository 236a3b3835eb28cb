package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/gridlands/auction/internal/api/middleware"
	"github.com/gridlands/auction/internal/domain"
	"github.com/gridlands/auction/internal/service"
)

// BidHandler serves bid submission endpoints.
type BidHandler struct {
	ledger *service.LedgerService
}

// NewBidHandler creates a BidHandler.
func NewBidHandler(ledger *service.LedgerService) *BidHandler {
	return &BidHandler{ledger: ledger}
}

// SubmitBid godoc
// POST /api/bids [JWT]
// Body: {"x":10,"y":-23,"amount":"2000","signature_ref":"0xabc..."}
func (h *BidHandler) SubmitBid(c *gin.Context) {
	address := middleware.GetAddress(c)

	var body struct {
		X            int    `json:"x"`
		Y            int    `json:"y"`
		Amount       string `json:"amount"        binding:"required"`
		SignatureRef string `json:"signature_ref" binding:"required"`
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

	bid, err := h.ledger.SubmitBid(c.Request.Context(), domain.SubmitBidRequest{
		Coord:        domain.Coord{X: body.X, Y: body.Y},
		Address:      address,
		Amount:       amount,
		SignatureRef: body.SignatureRef,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, bid)
}

// SubmitBidGroup godoc
// POST /api/bidgroups [JWT]
// Body: {"signature_ref":"0xabc...","bids":[{"x":1,"y":2,"amount":"2000"}, ...]}
func (h *BidHandler) SubmitBidGroup(c *gin.Context) {
	address := middleware.GetAddress(c)

	var body struct {
		SignatureRef string `json:"signature_ref" binding:"required"`
		Bids         []struct {
			X      int    `json:"x"`
			Y      int    `json:"y"`
			Amount string `json:"amount" binding:"required"`
		} `json:"bids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	req := domain.SubmitBidGroupRequest{
		Address:      address,
		SignatureRef: body.SignatureRef,
	}
	for _, e := range body.Bids {
		amount, err := decimal.NewFromString(e.Amount)
		if err != nil {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a decimal string")
			return
		}
		req.Bids = append(req.Bids, domain.BidEntry{
			Coord:  domain.Coord{X: e.X, Y: e.Y},
			Amount: amount,
		})
	}

	result, err := h.ledger.SubmitBidGroup(c.Request.Context(), req)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	rejected := make([]gin.H, 0, len(result.Rejected))
	for _, f := range result.Rejected {
		rejected = append(rejected, gin.H{
			"x":     f.Coord.X,
			"y":     f.Coord.Y,
			"error": f.Err.Error(),
		})
	}
	respondSuccess(c, http.StatusCreated, gin.H{
		"group":    result.Group,
		"accepted": result.Accepted,
		"rejected": rejected,
	})
}
