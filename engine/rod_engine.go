package engine

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
)

// BrowserOptions configures a BrowserEngine.
type BrowserOptions struct {
	// ControlURL is the DevTools WebSocket URL of a running browser worker.
	ControlURL string

	MaxRedirects int

	// MaxPages bounds concurrent tabs on the worker. Default: 10.
	MaxPages int

	// BlockedResourceTypes are not loaded while rendering.
	// Default: Image, Stylesheet, Font, Media.
	BlockedResourceTypes []string
}

// BrowserEngine renders the page in a remote headless browser over CDP.
// The browser follows redirects itself; the navigation timing entry's
// redirect count is checked against the hop cap afterwards.
type BrowserEngine struct {
	opts    BrowserOptions
	blocked map[proto.NetworkResourceType]struct{}
	slots   chan struct{}
}

var resourceTypes = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
}

// trackerDomains are blocked regardless of resource type.
var trackerDomains = map[string]struct{}{
	"doubleclick.net":       {},
	"googlesyndication.com": {},
	"google-analytics.com":  {},
	"googletagmanager.com":  {},
	"facebook.net":          {},
	"criteo.com":            {},
	"hotjar.com":            {},
	"segment.io":            {},
	"scorecardresearch.com": {},
	"taboola.com":           {},
}

// NewBrowserEngine creates a BrowserEngine.
func NewBrowserEngine(opts BrowserOptions) *BrowserEngine {
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 10
	}
	if opts.BlockedResourceTypes == nil {
		opts.BlockedResourceTypes = []string{"Image", "Stylesheet", "Font", "Media"}
	}
	blocked := make(map[proto.NetworkResourceType]struct{}, len(opts.BlockedResourceTypes))
	for _, name := range opts.BlockedResourceTypes {
		if rt, ok := resourceTypes[name]; ok {
			blocked[rt] = struct{}{}
		}
	}
	return &BrowserEngine{
		opts:    opts,
		blocked: blocked,
		slots:   make(chan struct{}, opts.MaxPages),
	}
}

func (e *BrowserEngine) Name() string { return "browser" }

func (e *BrowserEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	target, err := url.Parse(req.URL)
	if err != nil || target.Host == "" {
		return nil, &AcquisitionError{Kind: KindInvalidURL, Engine: e.Name(), URL: req.URL, Err: err}
	}

	ctx, cancel := withAttemptTimeout(ctx, req.Timeout)
	defer cancel()

	select {
	case e.slots <- struct{}{}:
		defer func() { <-e.slots }()
	case <-ctx.Done():
		return nil, classify(ctx, e.Name(), req.URL, ctx.Err())
	}

	// ── 1. Open a session on the worker ───────────────────────────────
	sess, err := openSession(ctx, e.opts.ControlURL)
	if err != nil {
		return nil, classify(ctx, e.Name(), req.URL, newError(KindConnectionFailed, err))
	}
	defer sess.release()

	page, err := sess.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, classify(ctx, e.Name(), req.URL, newError(KindConnectionFailed, err))
	}

	// ── 2. Stealth and referer before any navigation ──────────────────
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		return nil, classify(ctx, e.Name(), req.URL, newError(KindConnectionFailed, err))
	}
	_ = proto.NetworkSetExtraHTTPHeaders{
		Headers: proto.NetworkHeaders{
			"Referer": gson.New("https://www.google.com/search?q=" + url.QueryEscape(target.Hostname())),
		},
	}.Call(page)

	// ── 3. Block heavy resources and trackers ─────────────────────────
	router := e.hijack(page)
	defer func() { _ = router.Stop() }()

	// ── 4. Navigate and let the DOM settle ────────────────────────────
	p := page.Context(ctx)
	if err := p.Navigate(req.URL); err != nil {
		return nil, classify(ctx, e.Name(), req.URL, newError(KindConnectionFailed, err))
	}
	_ = p.WaitDOMStable(300*time.Millisecond, 0.1)

	// ── 5. Navigation metadata ────────────────────────────────────────
	status, redirects := 0, 0
	if res, err := p.Eval(`() => {
		const e = performance.getEntriesByType("navigation")[0];
		return e ? {status: e.responseStatus || 0, redirects: e.redirectCount || 0} : {status: 0, redirects: 0};
	}`); err == nil {
		status = res.Value.Get("status").Int()
		redirects = res.Value.Get("redirects").Int()
	}
	if redirects > e.opts.MaxRedirects {
		return nil, &AcquisitionError{Kind: KindRedirectLimitExceeded, Engine: e.Name(), URL: req.URL}
	}

	// ── 6. Rendered HTML ──────────────────────────────────────────────
	html, err := p.HTML()
	if err != nil {
		return nil, classify(ctx, e.Name(), req.URL, newError(KindConnectionFailed, err))
	}
	finalURL := req.URL
	if res, err := p.Eval(`() => window.location.href`); err == nil && res.Value.Str() != "" {
		finalURL = res.Value.Str()
	}

	return &FetchResult{
		Body:        []byte(html),
		FinalURL:    finalURL,
		StatusCode:  status,
		ContentType: "text/html",
		Redirects:   redirects,
		EngineName:  e.Name(),
	}, nil
}

// releaseTimeout bounds session teardown after the attempt context is gone.
const releaseTimeout = 5 * time.Second

// session is one attempt's hold on the worker: its own WebSocket and an
// incognito browser context owning the attempt's tabs.
type session struct {
	ws      *cdp.WebSocket
	browser *rod.Browser
}

func openSession(ctx context.Context, controlURL string) (*session, error) {
	ws := &cdp.WebSocket{}
	if err := ws.Connect(ctx, controlURL, nil); err != nil {
		return nil, err
	}
	root := rod.New().Client(cdp.New().Start(ws)).Context(ctx)
	if err := root.Connect(); err != nil {
		_ = ws.Close()
		return nil, err
	}
	incognito, err := root.Incognito()
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	return &session{ws: ws, browser: incognito}, nil
}

// release disposes the incognito context, which closes its tabs, then
// drops the connection. It runs on its own context so a cancelled attempt
// still cleans up. The worker process is never closed here.
func (s *session) release() {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := s.browser.Context(ctx).Close(); err != nil {
		slog.Debug("browser: dispose context failed", "error", err)
	}
	_ = s.ws.Close()
}

// hijack installs a request interceptor for blocked types and trackers.
func (e *BrowserEngine) hijack(page *rod.Page) *rod.HijackRouter {
	router := page.HijackRequests()
	_ = router.Add("*", "", func(h *rod.Hijack) {
		if _, ok := e.blocked[h.Request.Type()]; ok {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		if isTrackerHost(h.Request.URL().Hostname()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

// isTrackerHost checks host and each parent domain against trackerDomains.
func isTrackerHost(host string) bool {
	host = strings.ToLower(host)
	for host != "" {
		if _, ok := trackerDomains[host]; ok {
			return true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			break
		}
		host = host[i+1:]
	}
	return false
}
