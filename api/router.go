// Package api wires the HTTP routes of the product scraping service.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/use-agent/prodscrape/api/handler"
	"github.com/use-agent/prodscrape/api/middleware"
	"github.com/use-agent/prodscrape/config"
)

// Options carries everything the router needs.
type Options struct {
	Config  *config.Config
	Deps    handler.Deps
	Batches *handler.Batches
	Limiter *middleware.Limiter

	// History enables GET /api/v1/scrapes/latest when set.
	History handler.HistoryReader

	// Pingers are checked by the health endpoint.
	Pingers map[string]handler.Pinger

	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer

	StartTime time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → RequestID → Observe
//	API:     Auth (if enabled) → RateLimit
//
// Health and metrics stay outside auth so probes and scrapers always work.
func NewRouter(o Options) *gin.Engine {
	gin.SetMode(o.Config.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Observe(o.Deps.Metrics))

	if o.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(o.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(o.Deps.Scraper, o.StartTime, o.Pingers))

	protected := v1.Group("")
	if o.Config.Auth.Enabled {
		protected.Use(middleware.Auth(o.Config.Auth.APIKeys))
	}
	if o.Limiter != nil {
		protected.Use(o.Limiter.Middleware())
	}

	protected.POST("/scrape", handler.Scrape(o.Deps))

	if o.Batches != nil {
		protected.POST("/batch/scrape", o.Batches.Post())
		protected.GET("/batch/:id", o.Batches.Get())
	}

	if o.History != nil {
		protected.GET("/scrapes/latest", handler.History(o.History))
	}

	return r
}
