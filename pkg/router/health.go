package router

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

func (r *Router) setupHealthRoutes() {
	report := r.Container.Health.Handler()
	r.Engine.GET("/health", report)
	r.Engine.GET("/api/v1/health", report)
	r.Engine.GET("/api/v1/health/runtime", r.runtimeReport)
}

// runtimeReport exposes process and pipeline counters for operators. It is
// not part of the readiness decision.
func (r *Router) runtimeReport(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	backend, stats := r.Container.ListCacheInfo()
	listCache := gin.H{"backend": backend}
	if stats != nil {
		listCache["items"] = stats.Items
		listCache["hits"] = stats.Hits
		listCache["misses"] = stats.Misses
		listCache["evictions"] = stats.Evictions
	}

	c.JSON(http.StatusOK, gin.H{
		"uptime":             time.Since(startTime).Round(time.Second).String(),
		"env":                r.Config.Server.Env,
		"goroutines":         runtime.NumGoroutine(),
		"websocket_clients":  r.Container.Hub.ClientCount(),
		"rate_limit_clients": r.rateLimiter.Clients(),
		"list_cache":         listCache,
		"memory_mb": gin.H{
			"alloc": mem.Alloc >> 20,
			"sys":   mem.Sys >> 20,
		},
		"gc_cycles": mem.NumGC,
	})
}
