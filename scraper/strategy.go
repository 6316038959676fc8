package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/use-agent/prodscrape/engine"
	"github.com/use-agent/prodscrape/evidence"
	"github.com/use-agent/prodscrape/extract"
)

// Strategy ids in priority order, highest first.
const (
	StrategyChrome      = "chrome"
	StrategyChromeProxy = "chrome-proxy"
	StrategyBrowser     = "browser"
	StrategyCurl        = "curl-impersonate"
	StrategyLLM         = "llm"
	StrategyLLMURL      = "llm-url"
	StrategySearch      = "search"
)

// DefaultPriority is the merge priority used when strategies tie on
// confidence.
var DefaultPriority = []string{
	StrategyChrome,
	StrategyChromeProxy,
	StrategyBrowser,
	StrategyCurl,
	StrategyLLM,
	StrategyLLMURL,
	StrategySearch,
}

// Evidence is what one strategy run produced.
type Evidence struct {
	Candidates []evidence.Candidate
	FinalURL   string
	StatusCode int
}

// Strategy acquires a page (or other source) and turns it into candidates.
// Collect must return promptly once ctx is done. On a failed acquisition
// Collect may still return Evidence without candidates to report the
// response status.
type Strategy interface {
	Name() string
	Collect(ctx context.Context, rawURL string) (*Evidence, error)
}

// fetchStrategy acquires HTML through an engine and runs the extractor on
// it. Error statuses and non-HTML bodies are failed acquisitions.
type fetchStrategy struct {
	eng     engine.Engine
	timeout time.Duration
}

// NewFetchStrategy wraps an engine as a strategy. timeout bounds each
// attempt; zero leaves only the call deadline.
func NewFetchStrategy(eng engine.Engine, timeout time.Duration) Strategy {
	return &fetchStrategy{eng: eng, timeout: timeout}
}

func (s *fetchStrategy) Name() string { return s.eng.Name() }

func (s *fetchStrategy) Collect(ctx context.Context, rawURL string) (*Evidence, error) {
	res, err := fetchHTML(ctx, s.eng, rawURL, s.timeout)
	if err != nil {
		if res != nil {
			return &Evidence{FinalURL: res.FinalURL, StatusCode: res.StatusCode}, err
		}
		return nil, err
	}
	return &Evidence{
		Candidates: extract.Extract(res.Body, res.FinalURL),
		FinalURL:   res.FinalURL,
		StatusCode: res.StatusCode,
	}, nil
}

// fetchHTML runs one engine fetch and rejects unusable responses.
func fetchHTML(ctx context.Context, eng engine.Engine, rawURL string, timeout time.Duration) (*engine.FetchResult, error) {
	res, err := eng.Fetch(ctx, &engine.FetchRequest{URL: rawURL, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 400 {
		return res, &engine.AcquisitionError{
			Kind:   engine.KindBlockedStatus,
			Engine: eng.Name(),
			URL:    rawURL,
			Err:    fmt.Errorf("status %d", res.StatusCode),
		}
	}
	if !res.IsHTML() {
		return res, &engine.AcquisitionError{
			Kind:   engine.KindUnsupportedContent,
			Engine: eng.Name(),
			URL:    rawURL,
			Err:    fmt.Errorf("content type %q", res.ContentType),
		}
	}
	return res, nil
}
