// pkg/api/handlers.go
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/urbanmetrics/trip-ingress/pkg/query"
)

type handlers struct {
	repo   *query.Repository
	logger *zap.Logger
}

func (h *handlers) index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "trip-ingress",
		"endpoints": []string{
			"/health",
			"/api/summary",
			"/api/time-series",
			"/api/hotspots",
			"/api/fare-stats",
			"/api/top-routes",
			"/api/trips",
			"/api/insights",
		},
	})
}

func (h *handlers) health(c *gin.Context) {
	count, err := h.repo.TripCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"trips":  count,
	})
}

func (h *handlers) summary(c *gin.Context) {
	filter, ok := h.filter(c)
	if !ok {
		return
	}
	summary, err := h.repo.Summarize(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "summary", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handlers) timeSeries(c *gin.Context) {
	filter, ok := h.filter(c)
	if !ok {
		return
	}
	granularity := c.DefaultQuery("granularity", "day")
	points, err := h.repo.TimeSeries(c.Request.Context(), filter, granularity)
	if err != nil {
		if granularity != "day" && granularity != "hour" {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.fail(c, "time-series", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"granularity": granularity, "points": points})
}

func (h *handlers) hotspots(c *gin.Context) {
	filter, ok := h.filter(c)
	if !ok {
		return
	}
	limit := intQuery(c, "limit", 20)
	cells, err := h.repo.Hotspots(c.Request.Context(), filter, limit, -1, -1)
	if err != nil {
		h.fail(c, "hotspots", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hotspots": cells})
}

func (h *handlers) fareStats(c *gin.Context) {
	filter, ok := h.filter(c)
	if !ok {
		return
	}
	stats, err := h.repo.FareStatsByHour(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "fare-stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"by_hour": stats})
}

func (h *handlers) topRoutes(c *gin.Context) {
	filter, ok := h.filter(c)
	if !ok {
		return
	}
	limit := intQuery(c, "limit", 10)
	routes, err := h.repo.TopRoutes(c.Request.Context(), filter, limit)
	if err != nil {
		h.fail(c, "top-routes", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"routes": routes})
}

func (h *handlers) trips(c *gin.Context) {
	filter, ok := h.filter(c)
	if !ok {
		return
	}
	page := intQuery(c, "page", 1)
	limit := intQuery(c, "limit", 100)
	result, err := h.repo.Trips(c.Request.Context(), filter, page, limit)
	if err != nil {
		h.fail(c, "trips", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) insights(c *gin.Context) {
	filter, ok := h.filter(c)
	if !ok {
		return
	}
	insights, err := h.repo.RushHourInsights(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "insights", err)
		return
	}
	c.JSON(http.StatusOK, insights)
}

// filter parses the shared query parameters. On a bad parameter it writes
// the 400 itself and returns ok=false.
func (h *handlers) filter(c *gin.Context) (query.Filter, bool) {
	var f query.Filter

	for param, target := range map[string]*string{
		"start_date": &f.StartDate,
		"end_date":   &f.EndDate,
	} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": param + " must be YYYY-MM-DD",
			})
			return f, false
		}
		*target = raw
	}

	for param, target := range map[string]*float64{
		"min_distance": &f.MinDistance,
		"max_distance": &f.MaxDistance,
	} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": param + " must be a non-negative number",
			})
			return f, false
		}
		*target = v
	}

	return f, true
}

func (h *handlers) fail(c *gin.Context, endpoint string, err error) {
	h.logger.Error("Query failed", zap.String("endpoint", endpoint), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
