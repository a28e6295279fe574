package router

import (
	"net/http"
	"slices"

	"actionit/backend/conversation/api"
	"actionit/backend/conversation/ws"
	"actionit/backend/pkg/config"
	"actionit/backend/pkg/di"
	"actionit/backend/pkg/errors"
	"actionit/backend/pkg/logger"
	"actionit/backend/pkg/middleware"
	"actionit/backend/shared/observability"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	Config      *config.Config
	rateLimiter *middleware.RateLimiter
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	logger.SetGlobal(container.Logger)
	cfg := container.Config

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	if cfg.Observability.TracingEnabled {
		engine.Use(middleware.Tracing(cfg.Observability.ServiceName))
	}
	engine.Use(bodyLimit(cfg.Security.MaxBodySize))

	limiterOpts := middleware.DefaultRateLimiterOptions()
	limiterOpts.Limit = rate.Limit(cfg.Security.RateLimit)
	limiterOpts.Burst = cfg.Security.RateLimitBurst
	limiterOpts.WriteCost = cfg.Security.RateLimitWriteCost
	rateLimiter := middleware.NewRateLimiter(container.Logger, limiterOpts)

	return &Router{
		Engine:      engine,
		Container:   container,
		Logger:      container.Logger,
		Config:      cfg,
		rateLimiter: rateLimiter,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	r.setupHealthRoutes()

	if r.Config.Observability.MetricsEnabled {
		r.Engine.GET("/metrics", gin.WrapH(observability.MetricsHandler()))
	}

	r.AddOpenAPIValidation(r.Config.OpenAPI.SchemaPath)

	jwtAuth := middleware.JWTAuthMiddleware(r.Container.JWTService, r.Logger)

	v1 := r.Engine.Group("/api/v1")
	v1.Use(r.rateLimiter.Middleware())
	api.RegisterRoutesV1(v1, api.NewMessageHandler(r.Container.MessageService), jwtAuth)

	r.Engine.GET("/ws", jwtAuth, func(c *gin.Context) {
		ws.ServeWs(r.Container.Hub, c)
	})
}

// Close stops background work owned by the router
func (r *Router) Close() {
	r.rateLimiter.Stop()
}

func bodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// corsMiddleware allows the configured origins, plus WebSocket upgrade headers
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := len(allowed) == 0 || slices.Contains(allowed, "*")

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(allowed, origin):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Authorization, Origin, Upgrade, Connection, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, X-Deleted-Count")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
