package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gridlands/auction/internal/api/handler"
	"github.com/gridlands/auction/internal/api/middleware"
	"github.com/gridlands/auction/internal/config"
	"github.com/gridlands/auction/internal/domain"
	"github.com/gridlands/auction/internal/geometry"
	"github.com/gridlands/auction/internal/metrics"
	"github.com/gridlands/auction/internal/service"
	"github.com/gridlands/auction/internal/ws"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	Ledger   *service.LedgerService
	Balances *service.BalanceService
	Hub      *ws.Hub
	Cfg      *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Prometheus ───────────────────────────────────────────────────────────
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// ── Handlers ─────────────────────────────────────────────────────────────
	bidH := handler.NewBidHandler(deps.Ledger)
	transform := geometry.NewTransform(domain.Grid{
		MinX: deps.Cfg.Auction.GridMinX, MinY: deps.Cfg.Auction.GridMinY,
		MaxX: deps.Cfg.Auction.GridMaxX, MaxY: deps.Cfg.Auction.GridMaxY,
	}, deps.Cfg.Auction.ParcelPixelSize)
	parcelH := handler.NewParcelHandler(deps.Ledger, transform)
	addressH := handler.NewAddressHandler(deps.Ledger, deps.Balances)

	// ── JWT middleware (shared) ───────────────────────────────────────────────
	jwtMW := middleware.JWTMiddleware([]byte(deps.Cfg.JWT.Secret))

	// ── Rate limiters ─────────────────────────────────────────────────────────
	bidRL := middleware.BidRateLimitMiddleware(30) // 30 req/s per address for writes
	readRL := middleware.RateLimitMiddleware(60)   // 60 req/s per IP for reads

	api := r.Group("/api")
	{
		// ── Parcels (public) ─────────────────────────────────────────────────
		parcels := api.Group("/parcels")
		parcels.Use(readRL)
		{
			parcels.GET("/range/:min/:max", parcelH.GetRange)
			parcels.GET("/at/:px/:py", parcelH.GetAtPixel)
			parcels.GET("/:x/:y", parcelH.GetOne)
		}

		// ── Addresses (public reads) ─────────────────────────────────────────
		addresses := api.Group("/addresses")
		addresses.Use(readRL)
		{
			addresses.GET("/:address", addressH.GetAddress)
			addresses.GET("/:address/locked", addressH.GetLocked)
		}

		// ── Authenticated writes ──────────────────────────────────────────────
		authed := api.Group("")
		authed.Use(jwtMW, bidRL)
		{
			authed.POST("/bids", bidH.SubmitBid)
			authed.POST("/bidgroups", bidH.SubmitBidGroup)
			authed.POST("/addresses/email", addressH.RegisterEmail)
			authed.POST("/districts", addressH.CommitDistrict)
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// In DEBUG mode all origins are allowed; in production only configured origins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			// Development: allow any origin
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			allowed := map[string]bool{
				"https://gridlands.io":     true,
				"https://www.gridlands.io": true,
			}
			if allowed[origin] {
				c.Header("Access-Control-Allow-Origin", origin)
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
