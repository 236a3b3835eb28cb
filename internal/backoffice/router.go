package backoffice

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/gridlands/auction/internal/backoffice/handler"
	"github.com/gridlands/auction/internal/clock"
	"github.com/gridlands/auction/internal/domain"
	"github.com/gridlands/auction/internal/config"
	"github.com/gridlands/auction/internal/service"
	"github.com/gridlands/auction/internal/store"
	"github.com/gridlands/auction/internal/ws"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	SummarySvc *service.SummaryService
	BalanceSvc *service.BalanceService
	Store      store.Store
	Clock      *clock.AuctionClock
	Hub        *ws.Hub
	Cfg        *config.Config
}

// SetupBackofficeRouter creates the admin Gin engine on the backoffice port.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	dashH := handler.NewDashboardHandler(deps.SummarySvc, deps.Clock, deps.Hub, deps.Cfg)
	financeH := handler.NewFinanceHandler(deps.BalanceSvc, deps.Store)

	jwtMW := adminJWTMiddleware([]byte(deps.Cfg.JWT.Secret))

	admin := r.Group("/admin")
	admin.Use(jwtMW)
	{
		admin.GET("/dashboard", dashH.Dashboard)

		// Finance
		fin := admin.Group("/finance")
		{
			fin.POST("/credit", financeH.Credit)
			fin.GET("/notifications", financeH.Notifications)
		}
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !allowed[clientIP] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": domain.ErrForbidden.Error() + ": IP not whitelisted",
			})
			return
		}
		c.Next()
	}
}

// ── Admin JWT middleware ──────────────────────────────────────────────────────

// adminJWTMiddleware validates a JWT and requires the caller to carry a
// backoffice-capable role claim (admin, finance, ops).
func adminJWTMiddleware(secret []byte) gin.HandlerFunc {
	backofficeRoles := map[string]bool{
		"admin":    true,
		"finance":  true,
		"ops":      true,
		"readonly": true,
	}

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		tok, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return secret, nil
		})
		if err != nil || !tok.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		claims, ok := tok.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		role, _ := claims["role"].(string)
		if !backofficeRoles[role] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": domain.ErrForbidden.Error() + ": role " + role + " has no backoffice access",
			})
			return
		}

		subject, _ := claims.GetSubject()
		c.Set("subject", subject)
		c.Set("role", role)
		c.Next()
	}
}
