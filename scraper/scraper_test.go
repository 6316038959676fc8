package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/prodscrape/engine"
	"github.com/use-agent/prodscrape/evidence"
	"github.com/use-agent/prodscrape/models"
)

const bomberPage = `<!doctype html><html><head>
<title>Leather-Effect Bomber Jacket | Shop</title>
<script type="application/ld+json">
{"@context": "https://schema.org", "@type": "Product",
 "name": "Leather-Effect Bomber Jacket",
 "category": "jackets",
 "image": ["https://cdn.example.com/bomber-1.jpg", "https://cdn.example.com/bomber-2.jpg"],
 "offers": {"@type": "Offer", "price": 250, "priceCurrency": "USD", "availability": "https://schema.org/InStock"}}
</script></head><body><h1>Leather-Effect Bomber Jacket</h1></body></html>`

const tankPage = `<html><head><title>Ribbed Tank Top | Shop</title>
<meta property="og:image" content="https://cdn.example.com/tank.jpg"></head><body></body></html>`

// fakeEngine is an engine.Engine driven by a function.
type fakeEngine struct {
	name  string
	fetch func(ctx context.Context, req *engine.FetchRequest) (*engine.FetchResult, error)
	calls atomic.Int32
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Fetch(ctx context.Context, req *engine.FetchRequest) (*engine.FetchResult, error) {
	f.calls.Add(1)
	return f.fetch(ctx, req)
}

func serves(name, finalURL, body string) *fakeEngine {
	return &fakeEngine{name: name, fetch: func(ctx context.Context, req *engine.FetchRequest) (*engine.FetchResult, error) {
		return &engine.FetchResult{
			Body:        []byte(body),
			FinalURL:    finalURL,
			StatusCode:  http.StatusOK,
			ContentType: "text/html; charset=utf-8",
			EngineName:  name,
		}, nil
	}}
}

// hangs blocks until the attempt timeout or cancellation, like a stalled
// connection.
func hangs(name string) *fakeEngine {
	return &fakeEngine{name: name, fetch: func(ctx context.Context, req *engine.FetchRequest) (*engine.FetchResult, error) {
		if req.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, req.Timeout)
			defer cancel()
		}
		<-ctx.Done()
		kind := engine.KindCancelled
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = engine.KindTimeout
		}
		return nil, &engine.AcquisitionError{Kind: kind, Engine: name, URL: req.URL, Err: ctx.Err()}
	}}
}

func refuses(name string) *fakeEngine {
	return &fakeEngine{name: name, fetch: func(ctx context.Context, req *engine.FetchRequest) (*engine.FetchResult, error) {
		return nil, &engine.AcquisitionError{Kind: engine.KindConnectionFailed, Engine: name, URL: req.URL,
			Err: errors.New("connection refused")}
	}}
}

func attemptsByStrategy(res *Result) map[string]evidence.Attempt {
	out := make(map[string]evidence.Attempt)
	for _, a := range res.Attempts {
		out[a.Strategy] = a
	}
	return out
}

func TestScrapeStructuredPageStopsEarly(t *testing.T) {
	chrome := serves(StrategyChrome, "https://shop.example.com/p/bomber", bomberPage)
	curl := hangs(StrategyCurl)
	s := New([]Registered{
		{Strategy: NewFetchStrategy(chrome, 0)},
		{Strategy: NewFetchStrategy(curl, 0)},
	}, Options{})

	res, err := s.ScrapeURL(context.Background(), "https://shop.example.com/p/bomber", 5)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeSuccess, res.Outcome)
	assert.True(t, res.StoppedEarly)
	require.NotNil(t, res.Product.ProductName)
	assert.Equal(t, "Leather-Effect Bomber Jacket", *res.Product.ProductName)
	require.NotNil(t, res.Product.Price)
	assert.Equal(t, "250", res.Product.Price.Amount.String())
	assert.Equal(t, "USD", res.Product.Price.Currency)
	assert.Equal(t, []string{"https://cdn.example.com/bomber-1.jpg", "https://cdn.example.com/bomber-2.jpg"}, res.Product.ImageURLs)
	assert.Equal(t, models.GarmentUpper, res.Product.GarmentType)
	assert.Equal(t, models.AvailabilityInStock, res.Product.Availability)
	assert.Equal(t, "https://shop.example.com/p/bomber", res.SourceURL)

	for field, strategy := range res.Attribution {
		assert.Equal(t, StrategyChrome, strategy, field)
	}

	attempts := attemptsByStrategy(res)
	assert.Equal(t, evidence.AttemptSuccess, attempts[StrategyChrome].Outcome)
	assert.Equal(t, evidence.AttemptCancelled, attempts[StrategyCurl].Outcome)
	assert.Equal(t, []string{"brand"}, res.MissingFields)
}

func TestScrapePrimaryTimesOutDelegateGivesPartial(t *testing.T) {
	s := New([]Registered{
		{Strategy: NewFetchStrategy(hangs(StrategyChrome), 50*time.Millisecond)},
		{Strategy: NewFetchStrategy(serves(StrategyCurl, "https://shop.example.com/p/tank", tankPage), 0)},
	}, Options{})

	res, err := s.ScrapeURL(context.Background(), "https://shop.example.com/p/tank", 5)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomePartialSuccess, res.Outcome)
	assert.False(t, res.StoppedEarly)
	require.NotNil(t, res.Product.ProductName)
	assert.Equal(t, "Ribbed Tank Top", *res.Product.ProductName)
	assert.Nil(t, res.Product.Price)
	assert.Equal(t, []string{"https://cdn.example.com/tank.jpg"}, res.Product.ImageURLs)
	assert.Contains(t, res.MissingFields, "price")

	attempts := attemptsByStrategy(res)
	assert.Equal(t, evidence.AttemptTimeout, attempts[StrategyChrome].Outcome)
	assert.Equal(t, "timeout", attempts[StrategyChrome].ErrorKind)
	assert.Equal(t, evidence.AttemptSuccess, attempts[StrategyCurl].Outcome)
	assert.Equal(t, StrategyCurl, res.Attribution["product_name"])

	resp := res.Response()
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Product)
}

func TestScrapeAllStrategiesFail(t *testing.T) {
	s := New([]Registered{
		{Strategy: NewFetchStrategy(refuses(StrategyChrome), 0)},
		{Strategy: NewFetchStrategy(refuses(StrategyCurl), 0)},
	}, Options{})

	res, err := s.ScrapeURL(context.Background(), "https://shop.example.com/p/1", 5)
	require.Error(t, err)
	var se *models.ScrapeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, models.ErrCodeNoEvidence, se.Code)
	assert.ErrorIs(t, err, engine.ErrConnectionFailed)

	require.NotNil(t, res)
	assert.Equal(t, models.OutcomeFailure, res.Outcome)
	assert.Nil(t, res.Product.ProductName)
	assert.Nil(t, res.Product.Brand)
	assert.Nil(t, res.Product.Price)
	assert.Empty(t, res.Product.ImageURLs)
	assert.Equal(t, models.GarmentUnsupported, res.Product.GarmentType)
	assert.Equal(t, models.AvailabilityUnknown, res.Product.Availability)
	assert.Empty(t, res.SourceURL)
	assert.Len(t, res.Attempts, 2)
	for _, a := range res.Attempts {
		assert.Equal(t, evidence.AttemptFailure, a.Outcome)
		assert.Equal(t, "connection-failed", a.ErrorKind)
	}

	resp := res.Response()
	assert.False(t, resp.Success)
	assert.Nil(t, resp.Product)
}

func TestScrapeFollowsRedirectChainToCanonicalURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/s/abc", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/go", http.StatusFound)
	})
	mux.HandleFunc("/go", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/en/product", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/en/product", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/p/bomber", http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/p/bomber", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(bomberPage))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	chrome := engine.NewHTTPEngine(engine.HTTPOptions{Name: StrategyChrome, Backend: engine.BackendUTLS})
	s := New([]Registered{{Strategy: NewFetchStrategy(chrome, 0)}}, Options{})

	res, err := s.ScrapeURL(context.Background(), srv.URL+"/s/abc", 5)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, res.Outcome)
	assert.Equal(t, srv.URL+"/p/bomber", res.SourceURL)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, srv.URL+"/p/bomber", res.Attempts[0].FinalURL)
}

func TestScrapeBlockedStatusIsFailedAcquisition(t *testing.T) {
	blocked := &fakeEngine{name: StrategyChrome, fetch: func(ctx context.Context, req *engine.FetchRequest) (*engine.FetchResult, error) {
		return &engine.FetchResult{Body: []byte(bomberPage), FinalURL: req.URL, StatusCode: 403, ContentType: "text/html"}, nil
	}}
	pdf := &fakeEngine{name: StrategyCurl, fetch: func(ctx context.Context, req *engine.FetchRequest) (*engine.FetchResult, error) {
		return &engine.FetchResult{Body: []byte("%PDF"), FinalURL: req.URL, StatusCode: 200, ContentType: "application/pdf"}, nil
	}}
	s := New([]Registered{
		{Strategy: NewFetchStrategy(blocked, 0)},
		{Strategy: NewFetchStrategy(pdf, 0)},
	}, Options{})

	res, err := s.ScrapeURL(context.Background(), "https://shop.example.com/p/1", 5)
	require.Error(t, err)
	attempts := attemptsByStrategy(res)
	assert.Equal(t, "blocked-status", attempts[StrategyChrome].ErrorKind)
	assert.Equal(t, 403, attempts[StrategyChrome].StatusCode)
	assert.Equal(t, "unsupported-content", attempts[StrategyCurl].ErrorKind)
}

func TestScrapeInvalidInput(t *testing.T) {
	chrome := serves(StrategyChrome, "https://example.com", bomberPage)
	s := New([]Registered{{Strategy: NewFetchStrategy(chrome, 0)}}, Options{})

	tests := []struct {
		name    string
		url     string
		timeout float64
	}{
		{"zero timeout", "https://example.com/p", 0},
		{"negative timeout", "https://example.com/p", -1},
		{"unsupported scheme", "ftp://example.com/p", 5},
		{"no host", "https:///p", 5},
		{"relative", "/p/1", 5},
		{"unparseable", "http://[::1", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.ScrapeURL(context.Background(), tt.url, tt.timeout)
			assert.Nil(t, res)
			var se *models.ScrapeError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, models.ErrCodeInvalidInput, se.Code)
		})
	}
	assert.Zero(t, chrome.calls.Load())
}

func TestScrapeOverallDeadlineIsHardCeiling(t *testing.T) {
	a, b := hangs(StrategyChrome), hangs(StrategyCurl)
	s := New([]Registered{
		{Strategy: NewFetchStrategy(a, 0)},
		{Strategy: NewFetchStrategy(b, 0)},
	}, Options{})

	start := time.Now()
	res, err := s.ScrapeURL(context.Background(), "https://shop.example.com/p/1", 0.1)
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Error(t, err)
	assert.Equal(t, models.OutcomeFailure, res.Outcome)
	for _, at := range res.Attempts {
		assert.Equal(t, evidence.AttemptTimeout, at.Outcome, at.Strategy)
	}
}

func TestScrapeDelayedStrategyNeverStartsAfterSufficiency(t *testing.T) {
	late := serves(StrategySearch, "", tankPage)
	s := New([]Registered{
		{Strategy: NewFetchStrategy(serves(StrategyChrome, "https://shop.example.com/p/bomber", bomberPage), 0)},
		{Strategy: NewFetchStrategy(late, 0), StartDelay: time.Hour},
	}, Options{})

	res, err := s.ScrapeURL(context.Background(), "https://shop.example.com/p/bomber", 5)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, res.Outcome)
	assert.Zero(t, late.calls.Load())
	assert.Equal(t, evidence.AttemptCancelled, attemptsByStrategy(res)[StrategySearch].Outcome)
}

func TestScrapeIgnoresResultsArrivingAfterEarlyStop(t *testing.T) {
	// chrome outranks curl but ignores cancellation and answers with a
	// different product once the race is already stopped.
	conflicting := `<html><head><script type="application/ld+json">
{"@type": "Product", "name": "Interstitial Product", "brand": "Other",
 "image": "https://cdn.example.com/other.jpg",
 "offers": {"price": 9, "priceCurrency": "EUR"}}
</script></head></html>`
	stubborn := &fakeEngine{name: StrategyChrome, fetch: func(ctx context.Context, req *engine.FetchRequest) (*engine.FetchResult, error) {
		<-ctx.Done()
		return &engine.FetchResult{
			Body:        []byte(conflicting),
			FinalURL:    "https://shop.example.com/interstitial",
			StatusCode:  http.StatusOK,
			ContentType: "text/html",
		}, nil
	}}
	s := New([]Registered{
		{Strategy: NewFetchStrategy(stubborn, 0)},
		{Strategy: NewFetchStrategy(serves(StrategyCurl, "https://shop.example.com/p/bomber", bomberPage), 0)},
	}, Options{})

	res, err := s.ScrapeURL(context.Background(), "https://shop.example.com/p/bomber", 5)
	require.NoError(t, err)
	assert.True(t, res.StoppedEarly)

	require.NotNil(t, res.Product.ProductName)
	assert.Equal(t, "Leather-Effect Bomber Jacket", *res.Product.ProductName)
	assert.Nil(t, res.Product.Brand)
	require.NotNil(t, res.Product.Price)
	assert.Equal(t, "USD", res.Product.Price.Currency)
	assert.NotContains(t, res.Product.ImageURLs, "https://cdn.example.com/other.jpg")
	for field, strategy := range res.Attribution {
		assert.Equal(t, StrategyCurl, strategy, field)
	}
	assert.Equal(t, "https://shop.example.com/p/bomber", res.SourceURL)

	late := attemptsByStrategy(res)[StrategyChrome]
	assert.Zero(t, late.Accepted)
	assert.False(t, late.Merged)
	assert.Equal(t, evidence.AttemptCancelled, late.Outcome)
	assert.Equal(t, "https://shop.example.com/interstitial", late.FinalURL)
}

func TestScrapePriorityBreaksConfidenceTies(t *testing.T) {
	// Both pages give a text-pattern name and no price, so both are merged.
	// The curl page arrives first; chrome's equal-confidence name wins.
	chromePage := `<html><head><title>Chrome Name</title></head></html>`
	curlPage := `<html><head><title>Curl Name</title></head></html>`

	chrome := serves(StrategyChrome, "https://shop.example.com/a", chromePage)
	inner := chrome.fetch
	chrome.fetch = func(ctx context.Context, req *engine.FetchRequest) (*engine.FetchResult, error) {
		time.Sleep(50 * time.Millisecond)
		return inner(ctx, req)
	}
	s := New([]Registered{
		{Strategy: NewFetchStrategy(chrome, 0)},
		{Strategy: NewFetchStrategy(serves(StrategyCurl, "https://shop.example.com/b", curlPage), 0)},
	}, Options{})

	res, err := s.ScrapeURL(context.Background(), "https://shop.example.com/a", 5)
	require.NoError(t, err)
	require.NotNil(t, res.Product.ProductName)
	assert.Equal(t, "Chrome Name", *res.Product.ProductName)
	assert.Equal(t, StrategyChrome, res.Attribution["product_name"])
	assert.Equal(t, "https://shop.example.com/a", res.SourceURL)
}

func TestScrapeRemembersWinningStrategyPerHost(t *testing.T) {
	curl := serves(StrategyCurl, "https://shop.example.com/p/bomber", bomberPage)
	s := New([]Registered{
		{Strategy: NewFetchStrategy(refuses(StrategyChrome), 0)},
		{Strategy: NewFetchStrategy(curl, 0), StartDelay: 20 * time.Millisecond},
	}, Options{MemoryTTL: time.Minute})
	defer s.Close()

	_, err := s.ScrapeURL(context.Background(), "https://shop.example.com/p/bomber", 5)
	require.NoError(t, err)
	assert.Equal(t, StrategyCurl, s.orch.memory.Get("shop.example.com"))

	// The remembered strategy now starts without its delay.
	s.orch.entries[1].delay = time.Hour
	res, err := s.ScrapeURL(context.Background(), "https://shop.example.com/p/bomber", 5)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, res.Outcome)
	assert.EqualValues(t, 2, curl.calls.Load())
}

func TestScrapeConcurrentCallsAreIndependent(t *testing.T) {
	s := New([]Registered{
		{Strategy: NewFetchStrategy(serves(StrategyChrome, "https://shop.example.com/p/bomber", bomberPage), 0)},
	}, Options{})

	const n = 8
	errs := make(chan error, n)
	names := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			res, err := s.ScrapeURL(context.Background(), "https://shop.example.com/p/bomber", 5)
			errs <- err
			if err == nil && res.Product.ProductName != nil {
				names <- *res.Product.ProductName
			} else {
				names <- ""
			}
		}()
	}
	for i := 0; i < n; i++ {
		assert.NoError(t, <-errs)
		assert.Equal(t, "Leather-Effect Bomber Jacket", <-names)
	}
}
