// Package scraper runs the acquisition strategies for a product URL
// concurrently and merges their evidence into one product record.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"time"

	"github.com/use-agent/prodscrape/evidence"
	"github.com/use-agent/prodscrape/metrics"
	"github.com/use-agent/prodscrape/models"
)

// Registered is a strategy plus its start delay relative to the race start.
type Registered struct {
	Strategy   Strategy
	StartDelay time.Duration
}

// Options tunes a Scraper.
type Options struct {
	// Priority breaks confidence ties, highest first. Default: DefaultPriority.
	Priority []string

	// MemoryTTL enables per-host strategy memory. Zero disables it.
	MemoryTTL time.Duration

	Metrics *metrics.Metrics
}

// Scraper is safe for concurrent use; every call gets its own ledger.
type Scraper struct {
	orch     *orchestrator
	priority []string
	metrics  *metrics.Metrics
	closers  []func()
}

// New creates a Scraper over the given strategies.
func New(strategies []Registered, opts Options) *Scraper {
	if len(opts.Priority) == 0 {
		opts.Priority = DefaultPriority
	}
	s := &Scraper{
		orch:     &orchestrator{},
		priority: opts.Priority,
		metrics:  opts.Metrics,
	}
	for _, r := range strategies {
		s.orch.entries = append(s.orch.entries, entry{strategy: r.Strategy, delay: r.StartDelay})
	}
	if opts.MemoryTTL > 0 {
		s.orch.memory = newHostMemory(opts.MemoryTTL)
		s.closers = append(s.closers, s.orch.memory.Stop)
	}
	s.orch.onAttempt = func(a evidence.Attempt) {
		s.metrics.ObserveAttempt(a.Strategy, string(a.Outcome), a.ErrorKind, a.Elapsed.Seconds())
	}
	return s
}

// Strategies lists the configured strategy ids in registration order.
func (s *Scraper) Strategies() []string {
	out := make([]string, 0, len(s.orch.entries))
	for _, e := range s.orch.entries {
		out = append(out, e.strategy.Name())
	}
	return out
}

// Close releases background resources such as a launched browser.
func (s *Scraper) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// ValidateURL checks that rawURL is an absolute http(s) URL with a host.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return models.NewScrapeError(models.ErrCodeInvalidInput, "url is not parseable", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return models.NewScrapeError(models.ErrCodeInvalidInput,
			fmt.Sprintf("unsupported url scheme %q", u.Scheme), nil)
	}
	if u.Host == "" || u.Hostname() == "" {
		return models.NewScrapeError(models.ErrCodeInvalidInput, "url has no host", nil)
	}
	return nil
}

// ScrapeURL races every strategy against rawURL within timeoutSeconds and
// returns the merged record.
//
// Invalid input fails with an INVALID_INPUT ScrapeError before any network
// activity. When no strategy yields any field the Result has outcome
// failure and the error is a NO_EVIDENCE ScrapeError.
func (s *Scraper) ScrapeURL(ctx context.Context, rawURL string, timeoutSeconds float64) (*Result, error) {
	if timeoutSeconds <= 0 || math.IsNaN(timeoutSeconds) || math.IsInf(timeoutSeconds, 0) {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput,
			fmt.Sprintf("timeout must be a positive number of seconds, got %v", timeoutSeconds), nil)
	}
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	start := time.Now()
	deadline := start.Add(time.Duration(timeoutSeconds * float64(time.Second)))
	ledger := evidence.NewLedger(deadline, s.priority)

	stats := s.orch.run(ctx, rawURL, deadline, ledger)

	res := &Result{
		Product:       ledger.Record(),
		SourceURL:     ledger.SourceURL(),
		Attribution:   ledger.Attribution(),
		MissingFields: ledger.MissingFields(),
		Attempts:      ledger.Attempts(),
		StoppedEarly:  stats.stoppedEarly,
		Racing:        stats.racing,
		Elapsed:       time.Since(start),
	}
	switch {
	case ledger.IsSufficient():
		res.Outcome = models.OutcomeSuccess
	case ledger.HasEvidence():
		res.Outcome = models.OutcomePartialSuccess
	default:
		res.Outcome = models.OutcomeFailure
	}

	s.metrics.ObserveScrape(string(res.Outcome), res.Elapsed.Seconds(), res.MissingFields)
	slog.Info("scrape finished",
		"url", rawURL,
		"outcome", res.Outcome,
		"source_url", res.SourceURL,
		"stopped_early", res.StoppedEarly,
		"missing", res.MissingFields,
		"elapsed_ms", res.Elapsed.Milliseconds(),
	)

	if res.Outcome == models.OutcomeFailure {
		return res, models.NewScrapeError(models.ErrCodeNoEvidence,
			"no strategy produced any product field", failureCause(res.Attempts))
	}
	return res, nil
}

// failureCause joins the attempt errors of a failed call.
func failureCause(attempts []evidence.Attempt) error {
	var errs []error
	for _, a := range attempts {
		if a.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Strategy, a.Err))
		}
	}
	return errors.Join(errs...)
}
