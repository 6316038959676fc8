package scraper

import (
	"log/slog"

	"github.com/use-agent/prodscrape/cleaner"
	"github.com/use-agent/prodscrape/config"
	"github.com/use-agent/prodscrape/engine"
	"github.com/use-agent/prodscrape/llm"
	"github.com/use-agent/prodscrape/metrics"
	"github.com/use-agent/prodscrape/search"
)

// FromConfig builds a Scraper with every strategy whose collaborator is
// configured. The emulating client is always present; the proxied client,
// browser, delegate, model, URL classification and search strategies
// depend on config. With a model configured, the search strategy also
// classifies its listing.
func FromConfig(cfg *config.Config, m *metrics.Metrics) (*Scraper, error) {
	sc := cfg.Scrape
	enabled := func(name string) bool {
		if len(sc.Strategies) == 0 {
			return true
		}
		for _, s := range sc.Strategies {
			if s == name {
				return true
			}
		}
		return false
	}

	var (
		strategies []Registered
		closers    []func()
	)
	add := func(s Strategy) {
		strategies = append(strategies, Registered{Strategy: s, StartDelay: sc.StartDelays[s.Name()]})
		slog.Info("strategy enabled", "strategy", s.Name(), "start_delay", sc.StartDelays[s.Name()])
	}

	chrome := engine.NewHTTPEngine(engine.HTTPOptions{
		Name:         StrategyChrome,
		Backend:      engine.Backend(sc.Backend),
		MaxRedirects: sc.MaxRedirects,
		MaxBodyBytes: sc.MaxBodyBytes,
	})
	if enabled(StrategyChrome) {
		add(NewFetchStrategy(chrome, sc.AttemptTimeout))
	}

	if cfg.Proxy.URL != "" && enabled(StrategyChromeProxy) {
		add(NewFetchStrategy(engine.NewHTTPEngine(engine.HTTPOptions{
			Name:         StrategyChromeProxy,
			Backend:      engine.Backend(sc.Backend),
			ProxyURL:     cfg.Proxy.URL,
			MaxRedirects: sc.MaxRedirects,
			MaxBodyBytes: sc.MaxBodyBytes,
		}), sc.AttemptTimeout))
	}

	if enabled(StrategyBrowser) {
		controlURL := cfg.Browser.ControlURL
		if controlURL == "" && cfg.Browser.Launch {
			u, stop, err := engine.LaunchBrowser(engine.LaunchOptions{
				Headless:  cfg.Browser.Headless,
				NoSandbox: cfg.Browser.NoSandbox,
				Bin:       cfg.Browser.Bin,
				Proxy:     cfg.Proxy.URL,
			})
			if err != nil {
				return nil, err
			}
			controlURL = u
			closers = append(closers, stop)
		}
		if controlURL != "" {
			add(NewFetchStrategy(engine.NewBrowserEngine(engine.BrowserOptions{
				ControlURL:           controlURL,
				MaxRedirects:         sc.MaxRedirects,
				MaxPages:             cfg.Browser.MaxPages,
				BlockedResourceTypes: cfg.Browser.BlockedResourceTypes,
			}), sc.AttemptTimeout))
		}
	}

	if cfg.Curl.Enabled && enabled(StrategyCurl) {
		add(NewFetchStrategy(engine.NewCurlEngine(engine.CurlOptions{
			BinaryPath:   cfg.Curl.BinaryPath,
			MaxRedirects: sc.MaxRedirects,
			MaxBodyBytes: sc.MaxBodyBytes,
		}), sc.AttemptTimeout))
	}

	var model *llm.Client
	if cfg.LLM.APIKey != "" {
		model = llm.NewClient(llm.Config{
			BaseURL:   cfg.LLM.BaseURL,
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
		})
	}
	if model != nil && enabled(StrategyLLM) {
		add(NewLLMStrategy(chrome, sc.AttemptTimeout, cleaner.NewCleaner(cfg.LLM.MaxInput), model))
	}
	if model != nil && enabled(StrategyLLMURL) {
		add(NewURLStrategy(model))
	}

	if cfg.Search.APIKey != "" && enabled(StrategySearch) {
		var classifier listingClassifier
		if model != nil {
			classifier = model
		}
		add(NewSearchStrategy(search.NewClient(search.Config{
			APIKey:   cfg.Search.APIKey,
			Endpoint: cfg.Search.Endpoint,
			Country:  cfg.Search.Country,
			Language: cfg.Search.Language,
		}), classifier))
	}

	s := New(strategies, Options{MemoryTTL: sc.MemoryTTL, Metrics: m})
	s.closers = append(closers, s.closers...)
	return s, nil
}
