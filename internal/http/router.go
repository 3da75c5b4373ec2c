// Package httpapi wires the operational HTTP surface (Gin) for the triage
// service: liveness, Prometheus metrics, and a read-only view of recent
// pipeline runs. The pipeline itself never runs over HTTP; this server
// exists so schedulers and dashboards can watch it.
package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/nvops/ticket-triage/internal/config"
	"github.com/nvops/ticket-triage/internal/repo"
)

const defaultRunsLimit = 20

// NewRouter builds the ops engine. Middleware order: tracing first, then
// request logging, then panic recovery.
func NewRouter(db *gorm.DB, cfg config.Config, log zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(requestLogger(log))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/runs", func(c *gin.Context) {
		limit := defaultRunsLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 500 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer in [1,500]"})
				return
			}
			limit = n
		}
		runs, err := repo.ListRecentRuns(db, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "list runs"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	})

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

// requestLogger emits one structured line per request.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
