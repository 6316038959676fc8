package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/prodscrape/cache"
	"github.com/use-agent/prodscrape/metrics"
	"github.com/use-agent/prodscrape/models"
	"github.com/use-agent/prodscrape/scraper"
)

// Scraper is the scrape entry point the handlers depend on.
type Scraper interface {
	ScrapeURL(ctx context.Context, rawURL string, timeoutSeconds float64) (*scraper.Result, error)
	Strategies() []string
}

// Recorder persists finished scrapes. Nil disables persistence.
type Recorder interface {
	Save(ctx context.Context, requestURL string, resp *models.ScrapeResponse) (int64, error)
}

// Deps bundles what the scrape handlers need.
type Deps struct {
	Scraper        Scraper
	Cache          cache.Cache // optional
	Recorder       Recorder    // optional
	Metrics        *metrics.Metrics
	DefaultTimeout time.Duration
}

// Scrape returns a handler for POST /api/v1/scrape.
//
// Flow:
//  1. Parse & validate request, apply defaults.
//  2. Cache lookup when max_age is set.
//  3. Scraper.ScrapeURL races the strategies.
//  4. Cache store and persistence of the result.
func Scrape(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		var req models.ScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ScrapeResponse{
				Success: false,
				Outcome: models.OutcomeFailure,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidRequest,
					Message: err.Error(),
				},
			})
			return
		}
		req.Defaults(d.DefaultTimeout.Seconds())

		if d.Cache != nil && req.MaxAge > 0 {
			key := cache.Key(req.URL)
			cached, hit := d.Cache.Get(c.Request.Context(), key, time.Duration(req.MaxAge)*time.Millisecond)
			d.Metrics.ObserveCache(hit)
			if hit {
				cached.CacheStatus = "hit"
				cached.Timing = models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()}
				c.JSON(http.StatusOK, cached)
				return
			}
		}

		resp, status := scrapeOne(c.Request.Context(), d, req.URL, req.Timeout)
		resp.Timing.TotalMs = time.Since(totalStart).Milliseconds()

		if d.Cache != nil && req.MaxAge > 0 {
			if resp.Success {
				d.Cache.Set(c.Request.Context(), cache.Key(req.URL), resp)
			}
			resp.CacheStatus = "miss"
		}

		c.JSON(status, resp)
	}
}

// scrapeOne runs one scrape and builds its response and HTTP status.
// Results that reached the strategies are persisted.
func scrapeOne(ctx context.Context, d Deps, rawURL string, timeoutSeconds float64) (*models.ScrapeResponse, int) {
	res, err := d.Scraper.ScrapeURL(ctx, rawURL, timeoutSeconds)
	if res == nil {
		return errorResponse(err), mapErrorToStatus(asScrapeError(err))
	}

	resp := res.Response()
	status := http.StatusOK
	if err != nil {
		se := asScrapeError(err)
		resp.Error = se.ToDetail()
		status = mapErrorToStatus(se)
	}
	record(d.Recorder, rawURL, resp)
	return resp, status
}

// record persists resp in the background so storage latency never delays
// the response.
func record(rec Recorder, rawURL string, resp *models.ScrapeResponse) {
	if rec == nil {
		return
	}
	cp := *resp
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := rec.Save(ctx, rawURL, &cp); err != nil {
			slog.Warn("store: save scrape failed", "url", rawURL, "error", err)
		}
	}()
}

func asScrapeError(err error) *models.ScrapeError {
	var se *models.ScrapeError
	if errors.As(err, &se) {
		return se
	}
	if err == nil {
		err = errors.New("unknown error")
	}
	return models.NewScrapeError(models.ErrCodeInternal, err.Error(), err)
}

func errorResponse(err error) *models.ScrapeResponse {
	return &models.ScrapeResponse{
		Success:  false,
		Outcome:  models.OutcomeFailure,
		Attempts: []models.AttemptInfo{},
		Error:    asScrapeError(err).ToDetail(),
	}
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.ScrapeError) int {
	switch e.Code {
	case models.ErrCodeInvalidInput, models.ErrCodeInvalidRequest:
		return http.StatusBadRequest // 400
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	case models.ErrCodeNotFound:
		return http.StatusNotFound // 404
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeNoEvidence, models.ErrCodeAcquisitionFailed:
		return http.StatusBadGateway // 502
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	default:
		return http.StatusInternalServerError // 500
	}
}
