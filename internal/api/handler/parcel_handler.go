package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gridlands/auction/internal/domain"
	"github.com/gridlands/auction/internal/geometry"
	"github.com/gridlands/auction/internal/service"
)

// ParcelHandler serves the parcel state read model.
type ParcelHandler struct {
	ledger    *service.LedgerService
	transform geometry.Transform
}

// NewParcelHandler creates a ParcelHandler.
func NewParcelHandler(ledger *service.LedgerService, transform geometry.Transform) *ParcelHandler {
	return &ParcelHandler{ledger: ledger, transform: transform}
}

// GetRange godoc
// GET /api/parcels/range/:min/:max  (coordinates as "x,y")
// Returns the active-bid projection for every parcel in the rectangle.
func (h *ParcelHandler) GetRange(c *gin.Context) {
	min, err := domain.ParseCoord(c.Param("min"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_COORD", "min must be \"x,y\"")
		return
	}
	max, err := domain.ParseCoord(c.Param("max"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_COORD", "max must be \"x,y\"")
		return
	}

	states, err := h.ledger.ParcelStateRange(c.Request.Context(), min, max)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, states, len(states))
}

// GetOne godoc
// GET /api/parcels/:x/:y
func (h *ParcelHandler) GetOne(c *gin.Context) {
	x, err := strconv.Atoi(c.Param("x"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_COORD", "x must be an integer")
		return
	}
	y, err := strconv.Atoi(c.Param("y"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_COORD", "y must be an integer")
		return
	}

	state, err := h.ledger.ParcelState(c.Request.Context(), domain.Coord{X: x, Y: y})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, state)
}

// GetAtPixel godoc
// GET /api/parcels/at/:px/:py
// Resolves a map-plane pixel to the parcel under it and returns its state
// together with the cell's top-left pixel, for client-side highlighting.
func (h *ParcelHandler) GetAtPixel(c *gin.Context) {
	px, err := strconv.Atoi(c.Param("px"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_PIXEL", "px must be an integer")
		return
	}
	py, err := strconv.Atoi(c.Param("py"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_PIXEL", "py must be an integer")
		return
	}

	coord := h.transform.ToCoord(geometry.Point{X: px, Y: py})
	state, err := h.ledger.ParcelState(c.Request.Context(), coord)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"parcel": state,
		"pixel":  h.transform.ToPixel(coord),
	})
}
