package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/prodscrape/models"
)

// Version is reported by the health endpoint.
var Version = "0.1.0"

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health returns a handler for GET /api/v1/health.
//
// Status is "healthy" when every configured backing service answers,
// "degraded" otherwise, and "unavailable" when no strategy is configured.
func Health(sc Scraper, startTime time.Time, deps map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		strategies := sc.Strategies()
		if len(strategies) == 0 {
			status = "unavailable"
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		for _, p := range deps {
			if p == nil {
				continue
			}
			if err := p.Ping(ctx); err != nil && status == "healthy" {
				status = "degraded"
			}
		}

		code := http.StatusOK
		if status == "unavailable" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, models.HealthResponse{
			Status:     status,
			Uptime:     time.Since(startTime).Round(time.Second).String(),
			Strategies: strategies,
			Version:    Version,
		})
	}
}
