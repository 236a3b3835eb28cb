package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gridlands/auction/internal/clock"
	"github.com/gridlands/auction/internal/config"
	"github.com/gridlands/auction/internal/service"
	"github.com/gridlands/auction/internal/ws"
)

// DashboardHandler serves the admin landing view: ledger aggregates, the
// auction window, and live connection counts.
type DashboardHandler struct {
	summarySvc *service.SummaryService
	clock      *clock.AuctionClock
	hub        *ws.Hub
	cfg        *config.Config
}

// NewDashboardHandler creates a DashboardHandler.
func NewDashboardHandler(summarySvc *service.SummaryService, ac *clock.AuctionClock, hub *ws.Hub, cfg *config.Config) *DashboardHandler {
	return &DashboardHandler{summarySvc: summarySvc, clock: ac, hub: hub, cfg: cfg}
}

// Dashboard godoc
// GET /admin/dashboard
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	summary, err := h.summarySvc.Snapshot(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}

	now := time.Now().UTC()
	connected := 0
	if h.hub != nil {
		connected = h.hub.ConnectedCount()
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"summary": summary,
		"auction": gin.H{
			"opens_at":      h.clock.OpensAt(),
			"closes_at":     h.clock.GlobalClose(),
			"global_closed": h.clock.GlobalClosed(now),
			// Parcels whose anti-snipe extension has lapsed and are waiting on
			// the finalizer sweep.
			"extensions_lapsed": len(h.clock.ExpiredParcels(now)),
		},
		"ws_clients": connected,
		"env":        h.cfg.Server.Env,
		"timestamp":  now,
	})
}
