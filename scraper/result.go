package scraper

import (
	"time"

	"github.com/use-agent/prodscrape/evidence"
	"github.com/use-agent/prodscrape/models"
)

// Result is the outcome of one ScrapeURL call.
type Result struct {
	Outcome models.Outcome
	Product models.ProductRecord

	// SourceURL is the final URL of the highest-priority successful
	// acquisition; "" when none succeeded.
	SourceURL     string
	Attribution   map[string]string
	MissingFields []string
	Attempts      []evidence.Attempt

	StoppedEarly bool
	Racing       time.Duration
	Elapsed      time.Duration
}

// Response converts the result into the API shape.
func (r *Result) Response() *models.ScrapeResponse {
	resp := &models.ScrapeResponse{
		Success:       r.Outcome != models.OutcomeFailure,
		Outcome:       r.Outcome,
		SourceURL:     r.SourceURL,
		Attribution:   r.Attribution,
		MissingFields: r.MissingFields,
		Attempts:      make([]models.AttemptInfo, 0, len(r.Attempts)),
		Timing: models.TimingInfo{
			TotalMs:  r.Elapsed.Milliseconds(),
			RacingMs: r.Racing.Milliseconds(),
		},
	}
	if r.Outcome != models.OutcomeFailure {
		p := r.Product
		resp.Product = &p
	}
	for _, a := range r.Attempts {
		info := models.AttemptInfo{
			Strategy:   a.Strategy,
			Outcome:    string(a.Outcome),
			StatusCode: a.StatusCode,
			FinalURL:   a.FinalURL,
			Accepted:   a.Accepted,
			ErrorKind:  a.ErrorKind,
			ElapsedMs:  a.Elapsed.Milliseconds(),
		}
		if a.Err != nil {
			info.Error = a.Err.Error()
		}
		resp.Attempts = append(resp.Attempts, info)
	}
	return resp
}
