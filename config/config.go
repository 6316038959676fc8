package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Scrape    ScrapeConfig
	Curl      CurlConfig
	Proxy     ProxyConfig
	Browser   BrowserConfig
	LLM       LLMConfig
	Search    SearchConfig
	Cache     CacheConfig
	Store     StoreConfig
	Metrics   MetricsConfig
	Webhook   WebhookConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool // default: true
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 // default: 5
	Burst             int     // default: 10
}

// ScrapeConfig controls the strategy race.
type ScrapeConfig struct {
	// DefaultTimeout is the call budget when a request sets none.
	DefaultTimeout time.Duration // default: 20s

	// AttemptTimeout bounds each page acquisition within the call budget.
	AttemptTimeout time.Duration // default: 15s

	// MaxRedirects is the hop cap shared by every acquisition client.
	MaxRedirects int // default: 5

	// MaxBodyBytes caps decoded response bodies.
	MaxBodyBytes int64 // default: 10 MiB

	// Backend selects the emulating client: "tlsclient" or "utls".
	Backend string // default: "tlsclient"

	// StartDelays maps strategy id to its start delay, e.g.
	// "llm=2s,search=3s". Strategies not listed start immediately.
	StartDelays map[string]time.Duration

	// Strategies restricts the enabled strategies; empty enables every
	// strategy whose collaborator is configured.
	Strategies []string

	// MemoryTTL keeps the winning strategy per host. 0 disables it.
	MemoryTTL time.Duration // default: 6h
}

// CurlConfig controls the delegating client.
type CurlConfig struct {
	Enabled    bool   // default: true
	BinaryPath string // default: "/opt/curl_chrome131_android"
}

// ProxyConfig enables the proxied emulating strategy.
type ProxyConfig struct {
	URL string // http://, https:// or socks5://
}

// BrowserConfig controls the headless browser strategy.
type BrowserConfig struct {
	// ControlURL is a DevTools WebSocket URL of a running worker.
	ControlURL string

	// Launch starts a local Chromium when ControlURL is empty.
	Launch bool // default: false

	Headless  bool // default: true
	NoSandbox bool // default: false
	Bin       string

	// MaxPages bounds concurrent tabs.
	MaxPages int // default: 10

	// BlockedResourceTypes lists resource types not loaded.
	BlockedResourceTypes []string // default: Image, Stylesheet, Font, Media
}

// LLMConfig enables the generative extraction strategy when APIKey is set.
type LLMConfig struct {
	BaseURL   string // default: "https://api.openai.com/v1"
	APIKey    string
	Model     string // default: "gpt-4o-mini"
	MaxTokens int    // completion tokens; default: 400
	MaxInput  int    // condensed page tokens; default: 6000
}

// SearchConfig enables the search strategy when APIKey is set.
type SearchConfig struct {
	APIKey   string
	Endpoint string // default: "https://serpapi.com/search"
	Country  string // default: "us"
	Language string // default: "en"
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	Backend    string // "memory" or "redis"; default: "memory"
	MaxEntries int    // memory backend; default: 1000
	TTL        time.Duration
	RedisURL   string
}

// StoreConfig enables Postgres persistence when DSN is set.
type StoreConfig struct {
	DSN string
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool // default: true
}

// WebhookConfig controls batch webhook delivery.
type WebhookConfig struct {
	Timeout    time.Duration // default: 10s
	MaxRetries int           // default: 3
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("PRODSCRAPE_HOST", "0.0.0.0"),
			Port: envIntOr("PRODSCRAPE_PORT", 8080),
			Mode: envOr("PRODSCRAPE_MODE", "release"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("PRODSCRAPE_AUTH_ENABLED", true),
			APIKeys: envSliceOr("PRODSCRAPE_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("PRODSCRAPE_RATE_RPS", 5.0),
			Burst:             envIntOr("PRODSCRAPE_RATE_BURST", 10),
		},
		Scrape: ScrapeConfig{
			DefaultTimeout: envDurationOr("PRODSCRAPE_DEFAULT_TIMEOUT", 20*time.Second),
			AttemptTimeout: envDurationOr("PRODSCRAPE_ATTEMPT_TIMEOUT", 15*time.Second),
			MaxRedirects:   envIntOr("PRODSCRAPE_MAX_REDIRECTS", 5),
			MaxBodyBytes:   int64(envIntOr("PRODSCRAPE_MAX_BODY_BYTES", 10<<20)),
			Backend:        envOr("PRODSCRAPE_BACKEND", "tlsclient"),
			StartDelays:    envDurationMapOr("PRODSCRAPE_START_DELAYS", nil),
			Strategies:     envSliceOr("PRODSCRAPE_STRATEGIES", nil),
			MemoryTTL:      envDurationOr("PRODSCRAPE_MEMORY_TTL", 6*time.Hour),
		},
		Curl: CurlConfig{
			Enabled:    envBoolOr("PRODSCRAPE_CURL_ENABLED", true),
			BinaryPath: envOr("PRODSCRAPE_CURL_BINARY", "/opt/curl_chrome131_android"),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PRODSCRAPE_PROXY"),
		},
		Browser: BrowserConfig{
			ControlURL: os.Getenv("PRODSCRAPE_BROWSER_URL"),
			Launch:     envBoolOr("PRODSCRAPE_BROWSER_LAUNCH", false),
			Headless:   envBoolOr("PRODSCRAPE_HEADLESS", true),
			NoSandbox:  envBoolOr("PRODSCRAPE_NO_SANDBOX", false),
			Bin:        os.Getenv("PRODSCRAPE_BROWSER_BIN"),
			MaxPages:   envIntOr("PRODSCRAPE_MAX_PAGES", 10),
			BlockedResourceTypes: envSliceOr("PRODSCRAPE_BLOCKED_RESOURCES", []string{
				"Image", "Stylesheet", "Font", "Media",
			}),
		},
		LLM: LLMConfig{
			BaseURL:   envOr("PRODSCRAPE_LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:    os.Getenv("PRODSCRAPE_LLM_API_KEY"),
			Model:     envOr("PRODSCRAPE_LLM_MODEL", "gpt-4o-mini"),
			MaxTokens: envIntOr("PRODSCRAPE_LLM_MAX_TOKENS", 400),
			MaxInput:  envIntOr("PRODSCRAPE_LLM_MAX_INPUT", 6000),
		},
		Search: SearchConfig{
			APIKey:   os.Getenv("PRODSCRAPE_SERPAPI_KEY"),
			Endpoint: envOr("PRODSCRAPE_SERPAPI_ENDPOINT", "https://serpapi.com/search"),
			Country:  envOr("PRODSCRAPE_SERPAPI_GL", "us"),
			Language: envOr("PRODSCRAPE_SERPAPI_HL", "en"),
		},
		Cache: CacheConfig{
			Backend:    envOr("PRODSCRAPE_CACHE_BACKEND", "memory"),
			MaxEntries: envIntOr("PRODSCRAPE_CACHE_MAX_ENTRIES", 1000),
			TTL:        envDurationOr("PRODSCRAPE_CACHE_TTL", 24*time.Hour),
			RedisURL:   os.Getenv("PRODSCRAPE_REDIS_URL"),
		},
		Store: StoreConfig{
			DSN: os.Getenv("PRODSCRAPE_DATABASE_URL"),
		},
		Metrics: MetricsConfig{
			Enabled: envBoolOr("PRODSCRAPE_METRICS_ENABLED", true),
		},
		Webhook: WebhookConfig{
			Timeout:    envDurationOr("PRODSCRAPE_WEBHOOK_TIMEOUT", 10*time.Second),
			MaxRetries: envIntOr("PRODSCRAPE_WEBHOOK_RETRIES", 3),
		},
		Log: LogConfig{
			Level:  envOr("PRODSCRAPE_LOG_LEVEL", "info"),
			Format: envOr("PRODSCRAPE_LOG_FORMAT", "json"),
		},
	}
}

// envDurationMapOr parses "name=dur,name=dur". Malformed pairs are skipped.
func envDurationMapOr(key string, fallback map[string]time.Duration) map[string]time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	result := make(map[string]time.Duration)
	for _, pair := range strings.Split(v, ",") {
		name, dur, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		if d, err := time.ParseDuration(strings.TrimSpace(dur)); err == nil {
			result[strings.TrimSpace(name)] = d
		}
	}
	if len(result) == 0 {
		return fallback
	}
	return result
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
