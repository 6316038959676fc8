package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/prodscrape/models"
	"github.com/use-agent/prodscrape/store"
)

// HistoryReader loads the last stored scrape of a URL.
type HistoryReader interface {
	Latest(ctx context.Context, requestURL string) (*store.Stored, error)
}

// History returns a handler for GET /api/v1/scrapes/latest?url=...
func History(st HistoryReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawURL := c.Query("url")
		if rawURL == "" {
			c.JSON(http.StatusBadRequest, errorResponse(
				models.NewScrapeError(models.ErrCodeInvalidRequest, "url query parameter is required", nil)))
			return
		}
		stored, err := st.Latest(c.Request.Context(), rawURL)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, errorResponse(
				models.NewScrapeError(models.ErrCodeNotFound, "no stored scrape for url", nil)))
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, errorResponse(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":         stored.ID,
			"created_at": stored.CreatedAt,
			"result":     stored.Response,
		})
	}
}
