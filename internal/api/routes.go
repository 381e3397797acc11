// Package api wires the HTTP routes of the factor service.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/irfndi/etffactor/internal/api/handlers"
	"github.com/irfndi/etffactor/internal/engine"
	"github.com/irfndi/etffactor/internal/logging"
	"github.com/irfndi/etffactor/internal/middleware"
)

// Dependencies are the collaborators the routes need. Only Engine is
// required.
type Dependencies struct {
	Engine *engine.Engine
	// Checks are probed by /health and /ready, keyed by dependency name.
	Checks      map[string]handlers.HealthChecker
	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimiter
	Logger      *logging.StandardLogger
	Version     string
	// Telemetry installs the Sentry middleware.
	Telemetry bool
}

// NewRouter builds a gin engine with the standard middleware and all routes.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestLogger(deps.Logger))
	if deps.Telemetry {
		router.Use(middleware.TelemetryMiddleware())
	}
	router.Use(gin.Recovery())
	SetupRoutes(router, deps)
	return router
}

// SetupRoutes registers the health, metrics and v1 API routes on router.
//
//	GET    /health, /ready, /live
//	GET    /metrics
//	GET    /api/v1/factors[?category=]
//	GET    /api/v1/factors/:name
//	POST   /api/v1/factors/compute
//	POST   /api/v1/quality
//	GET    /api/v1/engine/info
//	GET    /api/v1/cache[?factor=]
//	DELETE /api/v1/cache[?factor=]   bearer auth when a secret is set
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	auth := deps.Auth
	if auth == nil {
		auth = middleware.NewAuthMiddleware("")
	}

	healthHandler := handlers.NewHealthHandler(deps.Checks, deps.Version)
	healthGroup := router.Group("/")
	healthGroup.Use(middleware.HealthCheckTelemetryMiddleware())
	{
		healthGroup.GET("/health", gin.WrapF(healthHandler.HealthCheck))
		healthGroup.HEAD("/health", gin.WrapF(healthHandler.HealthCheck))
		healthGroup.GET("/ready", gin.WrapF(healthHandler.ReadinessCheck))
		healthGroup.GET("/live", gin.WrapF(healthHandler.LivenessCheck))
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Engine.Metrics().Registry(), promhttp.HandlerOpts{})))

	factorHandler := handlers.NewFactorHandler(deps.Engine)
	cacheHandler := handlers.NewCacheHandler(deps.Engine)
	engineHandler := handlers.NewEngineHandler(deps.Engine)

	v1 := router.Group("/api/v1")
	{
		factorsGroup := v1.Group("/factors")
		{
			factorsGroup.GET("", factorHandler.ListFactors)
			factorsGroup.GET("/:name", factorHandler.GetFactor)

			compute := []gin.HandlerFunc{}
			if deps.RateLimiter != nil {
				compute = append(compute, deps.RateLimiter.Middleware())
			}
			compute = append(compute, factorHandler.Compute)
			factorsGroup.POST("/compute", compute...)
		}

		v1.POST("/quality", factorHandler.Quality)
		v1.GET("/engine/info", engineHandler.GetInfo)

		cacheGroup := v1.Group("/cache")
		{
			cacheGroup.GET("", cacheHandler.GetCacheInfo)
			cacheGroup.DELETE("", auth.RequireAuth(), cacheHandler.ClearCache)
		}
	}
}
