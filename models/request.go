package models

// ScrapeRequest is the payload for POST /api/v1/scrape.
type ScrapeRequest struct {
	// URL is the product page to scrape. Required.
	URL string `json:"url" binding:"required,url"`

	// Timeout is the overall budget in seconds for the call.
	// Fractional values are allowed. Default: 20. Max: 120.
	Timeout float64 `json:"timeout,omitempty" binding:"omitempty,gt=0,max=120"`

	// MaxAge enables the result cache. A cached record younger than
	// MaxAge milliseconds is returned without touching the network.
	// 0 (default) bypasses the cache.
	MaxAge int64 `json:"max_age,omitempty" binding:"omitempty,min=0"`
}

// Defaults applies default values to unset fields.
func (r *ScrapeRequest) Defaults(defaultTimeout float64) {
	if r.Timeout == 0 {
		r.Timeout = defaultTimeout
	}
}
