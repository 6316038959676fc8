package models

// BatchRequest is the payload for POST /api/v1/batch/scrape.
// Each URL is an independent single-product scrape.
type BatchRequest struct {
	URLs []string `json:"urls" binding:"required,min=1,max=100"`

	// Timeout is the per-URL budget in seconds.
	Timeout float64 `json:"timeout,omitempty" binding:"omitempty,gt=0,max=120"`

	// WebhookURL receives the final BatchStatusResponse when every URL is done.
	WebhookURL string `json:"webhook_url,omitempty" binding:"omitempty,url"`

	// WebhookSecret signs the webhook body (X-Prodscrape-Signature).
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// BatchResponse is the immediate response for POST /api/v1/batch/scrape.
type BatchResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Total  int    `json:"total"`
}

// Batch job states.
const (
	BatchProcessing = "processing"
	BatchCompleted  = "completed"
	BatchPartial    = "partial"
	BatchFailed     = "failed"
)

// BatchStatusResponse is the response for GET /api/v1/batch/:id.
type BatchStatusResponse struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Completed int               `json:"completed"`
	Total     int               `json:"total"`
	Results   []*ScrapeResponse `json:"results,omitempty"`
}
