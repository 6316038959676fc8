// Package middleware holds the gin middleware of the HTTP API.
package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/prodscrape/models"
)

// Context keys set by the middleware.
const (
	ContextAPIKey    = "api_key"
	ContextRequestID = "request_id"
)

// Auth returns API-key authentication middleware. The key is read from
// X-API-Key or "Authorization: Bearer <key>". An empty key list disables
// authentication.
func Auth(apiKeys []string) gin.HandlerFunc {
	var digests [][sha256.Size]byte
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			digests = append(digests, sha256.Sum256([]byte(k)))
		}
	}
	if len(digests) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key := extractAPIKey(c)
		if key == "" {
			abort(c, http.StatusUnauthorized, models.ErrCodeUnauthorized,
				"missing API key: provide X-API-Key header or Authorization: Bearer <key>")
			return
		}

		// Compare digests so every check takes the same time.
		got := sha256.Sum256([]byte(key))
		valid := 0
		for i := range digests {
			valid |= subtle.ConstantTimeCompare(got[:], digests[i][:])
		}
		if valid != 1 {
			abort(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "invalid API key")
			return
		}

		c.Set(ContextAPIKey, key)
		c.Next()
	}
}

// extractAPIKey tries X-API-Key first, then Authorization: Bearer.
func extractAPIKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader("X-API-Key")); key != "" {
		return key
	}
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// abort ends the request with the error envelope used by every endpoint.
func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.ScrapeResponse{
		Success:  false,
		Outcome:  models.OutcomeFailure,
		Attempts: []models.AttemptInfo{},
		Error:    &models.ErrorDetail{Code: code, Message: message},
	})
}
