// pkg/api/router.go

// Package api serves the analytics endpoints over the loaded trips.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/urbanmetrics/trip-ingress/pkg/query"
)

// NewRouter builds the gin engine with all routes registered.
func NewRouter(repo *query.Repository, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger.Named("http")))
	router.Use(cors())

	h := &handlers{repo: repo, logger: logger.Named("api")}

	router.GET("/", h.index)
	router.GET("/health", h.health)

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/summary", h.summary)
		apiGroup.GET("/time-series", h.timeSeries)
		apiGroup.GET("/hotspots", h.hotspots)
		apiGroup.GET("/fare-stats", h.fareStats)
		apiGroup.GET("/top-routes", h.topRoutes)
		apiGroup.GET("/trips", h.trips)
		apiGroup.GET("/insights", h.insights)
	}

	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
