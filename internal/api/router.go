package api

import (
	"net/http"

	"github.com/EM-ade/realmkin-backend-sub000/internal/api/handler"
	"github.com/EM-ade/realmkin-backend-sub000/internal/api/middleware"
	"github.com/EM-ade/realmkin-backend-sub000/internal/config"
	"github.com/EM-ade/realmkin-backend-sub000/internal/service"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	StakingSvc *service.StakingService
	Cfg        *config.Config
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

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	stakingH := handler.NewStakingHandler(deps.StakingSvc)
	adminH := handler.NewAdminHandler(deps.StakingSvc)

	// ── JWT middleware (shared) ───────────────────────────────────────────────
	jwtMW := middleware.JWTMiddleware(deps.Cfg)

	// ── Rate limiters ─────────────────────────────────────────────────────────
	// Mutating operations trigger chain RPC lookups and row locks, so they get
	// a much tighter allowance than reads.
	opRL := middleware.RateLimitMiddleware(5)
	readRL := middleware.RateLimitMiddleware(30)

	api := r.Group("/api")
	{
		// ── Pool stats (public) ──────────────────────────────────────────────
		api.GET("/staking/pool", readRL, stakingH.GetPoolState)

		// ── Authenticated routes ──────────────────────────────────────────────
		authed := api.Group("")
		authed.Use(jwtMW)
		{
			staking := authed.Group("/staking")
			{
				staking.POST("/deposit", opRL, stakingH.Deposit)
				staking.POST("/claim", opRL, stakingH.Claim)
				staking.POST("/withdraw", opRL, stakingH.Withdraw)
				staking.GET("/position", readRL, stakingH.GetPosition)
				staking.GET("/operations", readRL, stakingH.GetOperations)
			}

			admin := authed.Group("/admin")
			admin.Use(middleware.AdminMiddleware())
			{
				admin.GET("/failed-settlements", adminH.ListFailedSettlements)
			}
		}
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// In development all origins are allowed; in production only the app origins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			// Development: allow any origin
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			allowed := map[string]bool{
				"https://realmkin.com":     true,
				"https://www.realmkin.com": true,
				"https://app.realmkin.com": true,
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
