package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/prodscrape/api/handler"
	"github.com/use-agent/prodscrape/api/middleware"
	"github.com/use-agent/prodscrape/cache"
	"github.com/use-agent/prodscrape/config"
	"github.com/use-agent/prodscrape/evidence"
	"github.com/use-agent/prodscrape/metrics"
	"github.com/use-agent/prodscrape/models"
	"github.com/use-agent/prodscrape/scraper"
	"github.com/use-agent/prodscrape/webhook"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeScraper answers from a per-URL table.
type fakeScraper struct {
	calls atomic.Int32
}

func (f *fakeScraper) Strategies() []string { return []string{"chrome", "curl-impersonate"} }

func (f *fakeScraper) ScrapeURL(ctx context.Context, rawURL string, timeout float64) (*scraper.Result, error) {
	f.calls.Add(1)
	if err := scraper.ValidateURL(rawURL); err != nil {
		return nil, err
	}
	if strings.Contains(rawURL, "dead") {
		return &scraper.Result{
			Outcome: models.OutcomeFailure,
			Product: models.NewProductRecord(),
			Attempts: []evidence.Attempt{
				{Strategy: "chrome", Outcome: evidence.AttemptFailure, ErrorKind: "connection-failed"},
			},
		}, models.NewScrapeError(models.ErrCodeNoEvidence, "no strategy produced any product field", nil)
	}
	name := "Leather-Effect Bomber Jacket"
	rec := models.NewProductRecord()
	rec.ProductName = &name
	rec.ImageURLs = []string{"https://cdn.example.com/1.jpg"}
	rec.GarmentType = models.GarmentUpper
	return &scraper.Result{
		Outcome:       models.OutcomePartialSuccess,
		Product:       rec,
		SourceURL:     rawURL,
		Attribution:   map[string]string{"product_name": "chrome"},
		MissingFields: []string{"brand", "price", "availability"},
		Attempts:      []evidence.Attempt{{Strategy: "chrome", Outcome: evidence.AttemptSuccess, StatusCode: 200}},
	}, nil
}

type fakeRecorder struct {
	mu    sync.Mutex
	saved []string
}

func (f *fakeRecorder) Save(ctx context.Context, requestURL string, resp *models.ScrapeResponse) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, requestURL)
	return int64(len(f.saved)), nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type testServer struct {
	router   *gin.Engine
	scraper  *fakeScraper
	recorder *fakeRecorder
	batches  *handler.Batches
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Load()
	cfg.Server.Mode = gin.TestMode
	cfg.Auth.Enabled = true
	cfg.Auth.APIKeys = []string{"test-key"}
	cfg.RateLimit.RequestsPerSecond = 1000
	cfg.RateLimit.Burst = 1000
	if mutate != nil {
		mutate(cfg)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sc := &fakeScraper{}
	rec := &fakeRecorder{}
	mem := cache.NewMemory(10, time.Hour)
	t.Cleanup(func() { _ = mem.Close() })

	deps := handler.Deps{
		Scraper:        sc,
		Cache:          mem,
		Recorder:       rec,
		Metrics:        m,
		DefaultTimeout: 5 * time.Second,
	}
	notifier := webhook.NewNotifier(time.Second, 0)
	batches := handler.NewBatches(deps, notifier, 2)
	t.Cleanup(batches.Close)

	r := NewRouter(Options{
		Config:    cfg,
		Deps:      deps,
		Batches:   batches,
		Limiter:   middleware.NewLimiter(cfg.RateLimit),
		Gatherer:  reg,
		StartTime: time.Now(),
	})
	return &testServer{router: r, scraper: sc, recorder: rec, batches: batches}
}

func (s *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	h := decode[models.HealthResponse](t, w)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, []string{"chrome", "curl-impersonate"}, h.Strategies)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestScrapeRequiresAPIKey(t *testing.T) {
	s := newTestServer(t, nil)
	body := `{"url": "https://shop.example.com/p/bomber"}`

	w := s.do(http.MethodPost, "/api/v1/scrape", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, models.ErrCodeUnauthorized, decode[models.ScrapeResponse](t, w).Error.Code)

	w = s.do(http.MethodPost, "/api/v1/scrape", body, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/v1/scrape", body, "Authorization", "Bearer test-key")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/api/v1/scrape", body, "X-API-Key", "test-key")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestScrapeSuccess(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(http.MethodPost, "/api/v1/scrape", `{"url": "https://shop.example.com/p/bomber", "timeout": 2.5}`,
		"X-API-Key", "test-key")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[models.ScrapeResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, models.OutcomePartialSuccess, resp.Outcome)
	require.NotNil(t, resp.Product)
	assert.Equal(t, "Leather-Effect Bomber Jacket", *resp.Product.ProductName)
	assert.Nil(t, resp.Product.Price)
	assert.Equal(t, models.GarmentUpper, resp.Product.GarmentType)
	assert.Equal(t, "https://shop.example.com/p/bomber", resp.SourceURL)
	assert.Empty(t, resp.CacheStatus)

	// Nulls are explicit in the wire format.
	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	price, present := raw["product"]["price"]
	assert.True(t, present)
	assert.Nil(t, price)

	assert.Eventually(t, func() bool { return s.recorder.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestScrapeFailureIsBadGateway(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(http.MethodPost, "/api/v1/scrape", `{"url": "https://dead.example.com/p/1"}`, "X-API-Key", "test-key")
	require.Equal(t, http.StatusBadGateway, w.Code)

	resp := decode[models.ScrapeResponse](t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, models.OutcomeFailure, resp.Outcome)
	assert.Nil(t, resp.Product)
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.ErrCodeNoEvidence, resp.Error.Code)
	require.Len(t, resp.Attempts, 1)
	assert.Equal(t, "connection-failed", resp.Attempts[0].ErrorKind)
}

func TestScrapeBadRequests(t *testing.T) {
	s := newTestServer(t, nil)
	tests := []struct {
		name string
		body string
		code string
	}{
		{"not json", `{`, models.ErrCodeInvalidRequest},
		{"missing url", `{}`, models.ErrCodeInvalidRequest},
		{"negative timeout", `{"url": "https://a.example/p", "timeout": -1}`, models.ErrCodeInvalidRequest},
		{"ftp scheme", `{"url": "ftp://a.example/p"}`, models.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPost, "/api/v1/scrape", tt.body, "X-API-Key", "test-key")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, decode[models.ScrapeResponse](t, w).Error.Code)
		})
	}
}

func TestScrapeCache(t *testing.T) {
	s := newTestServer(t, nil)
	body := `{"url": "https://shop.example.com/p/bomber", "max_age": 60000}`

	first := decode[models.ScrapeResponse](t, s.do(http.MethodPost, "/api/v1/scrape", body, "X-API-Key", "test-key"))
	assert.Equal(t, "miss", first.CacheStatus)

	second := decode[models.ScrapeResponse](t, s.do(http.MethodPost, "/api/v1/scrape", body, "X-API-Key", "test-key"))
	assert.Equal(t, "hit", second.CacheStatus)
	assert.Equal(t, first.Product, second.Product)
	assert.EqualValues(t, 1, s.scraper.calls.Load())

	// Without max_age the cache is bypassed.
	s.do(http.MethodPost, "/api/v1/scrape", `{"url": "https://shop.example.com/p/bomber"}`, "X-API-Key", "test-key")
	assert.EqualValues(t, 2, s.scraper.calls.Load())
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.RequestsPerSecond = 0.001
		cfg.RateLimit.Burst = 1
	})
	body := `{"url": "https://shop.example.com/p/bomber"}`

	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/v1/scrape", body, "X-API-Key", "test-key").Code)
	w := s.do(http.MethodPost, "/api/v1/scrape", body, "X-API-Key", "test-key")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, models.ErrCodeRateLimited, decode[models.ScrapeResponse](t, w).Error.Code)
}

func TestBatchWithWebhook(t *testing.T) {
	var (
		mu       sync.Mutex
		gotSig   string
		gotEvent webhook.Event
	)
	delivered := make(chan struct{})
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotSig = r.Header.Get(webhook.SignatureHeader)
		_ = json.Unmarshal(body, &gotEvent)
		mu.Unlock()
		assert.Equal(t, webhook.Sign("s3cret", body), r.Header.Get(webhook.SignatureHeader))
		close(delivered)
	}))
	defer hook.Close()

	s := newTestServer(t, nil)
	body := `{"urls": ["https://shop.example.com/p/1", "https://dead.example.com/p/2", "https://shop.example.com/p/3"],
		"webhook_url": "` + hook.URL + `", "webhook_secret": "s3cret"}`
	w := s.do(http.MethodPost, "/api/v1/batch/scrape", body, "X-API-Key", "test-key")
	require.Equal(t, http.StatusAccepted, w.Code)
	started := decode[models.BatchResponse](t, w)
	assert.Equal(t, 3, started.Total)
	assert.True(t, strings.HasPrefix(started.ID, "batch-"))

	var status models.BatchStatusResponse
	require.Eventually(t, func() bool {
		status = decode[models.BatchStatusResponse](t, s.do(http.MethodGet, "/api/v1/batch/"+started.ID, "", "X-API-Key", "test-key"))
		return status.Status != models.BatchProcessing
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, models.BatchPartial, status.Status)
	assert.Equal(t, 3, status.Completed)
	require.Len(t, status.Results, 3)
	assert.True(t, status.Results[0].Success)
	assert.False(t, status.Results[1].Success)
	assert.Equal(t, models.ErrCodeNoEvidence, status.Results[1].Error.Code)

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, gotSig)
	assert.Equal(t, "batch.completed", gotEvent.Type)
	assert.Equal(t, started.ID, gotEvent.JobID)
}

func TestBatchValidationAndNotFound(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/api/v1/batch/scrape", `{"urls": []}`, "X-API-Key", "test-key")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/batch/batch-missing", "", "X-API-Key", "test-key")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(http.MethodGet, "/api/v1/health", "")

	w := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "prodscrape_http_requests_total")
}
