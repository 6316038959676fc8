package models

// ScrapeResponse is the response for POST /api/v1/scrape.
type ScrapeResponse struct {
	// Success is true for success and partial_success outcomes.
	Success bool `json:"success"`

	Outcome Outcome `json:"outcome"`

	// Product is null on failure.
	Product *ProductRecord `json:"product"`

	// SourceURL is the final URL after redirects, not the requested one.
	SourceURL string `json:"source_url,omitempty"`

	// Attribution maps each accepted field to the strategy that produced it.
	Attribution map[string]string `json:"attribution,omitempty"`

	// MissingFields lists fields still null or at their sentinel value.
	MissingFields []string `json:"missing_fields,omitempty"`

	// Attempts reports every strategy that ran and how it ended.
	Attempts []AttemptInfo `json:"attempts"`

	Timing TimingInfo `json:"timing"`

	// CacheStatus is "hit", "miss", or empty when caching was not requested.
	CacheStatus string `json:"cache_status,omitempty"`

	Error *ErrorDetail `json:"error,omitempty"`
}

// AttemptInfo describes one strategy's run within a scrape.
type AttemptInfo struct {
	Strategy   string `json:"strategy"`
	Outcome    string `json:"outcome"` // success, failure, timeout, cancelled
	StatusCode int    `json:"status_code,omitempty"`
	FinalURL   string `json:"final_url,omitempty"`
	Accepted   int    `json:"accepted"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	TotalMs int64 `json:"total_ms"`

	// RacingMs is the time from launching strategies to the stop decision.
	RacingMs int64 `json:"racing_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status     string   `json:"status"`
	Uptime     string   `json:"uptime"`
	Strategies []string `json:"strategies"`
	Version    string   `json:"version"`
}
