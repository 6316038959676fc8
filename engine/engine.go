package engine

import (
	"context"
	"strings"
	"time"
)

// Engine is the interface that all acquisition engines implement.
type Engine interface {
	// Name returns the engine identifier (e.g. "chrome", "curl-impersonate").
	Name() string

	// Fetch retrieves the raw page for the given request. Errors are
	// always *AcquisitionError.
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error)
}

// FetchRequest contains everything an engine needs to fetch a page.
type FetchRequest struct {
	URL string

	// Timeout is a hard upper bound for the whole attempt, redirects
	// included. Zero means the context deadline alone applies.
	Timeout time.Duration
}

// FetchResult is the output of a successful engine fetch.
// Non-2xx statuses are not errors at this layer.
type FetchResult struct {
	Body        []byte
	FinalURL    string
	StatusCode  int
	ContentType string
	Redirects   int
	EngineName  string
}

// IsHTML reports whether the response looks like an HTML document.
// An empty content type is accepted since some delegates do not report one.
func (r *FetchResult) IsHTML() bool {
	if r.ContentType == "" {
		return true
	}
	return isHTMLContentType(r.ContentType)
}

func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// withAttemptTimeout bounds ctx by the request timeout when one is set.
func withAttemptTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
