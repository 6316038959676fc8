package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
)

// Backend selects the fingerprinting stack of an HTTPEngine.
type Backend string

const (
	BackendTLSClient Backend = "tlsclient"
	BackendUTLS      Backend = "utls"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"

// chromeHeaderOrder is the order Chrome 133 sends navigation headers in.
var chromeHeaderOrder = []string{
	"sec-ch-ua",
	"sec-ch-ua-mobile",
	"sec-ch-ua-platform",
	"upgrade-insecure-requests",
	"user-agent",
	"accept",
	"sec-fetch-site",
	"sec-fetch-mode",
	"sec-fetch-user",
	"sec-fetch-dest",
	"accept-encoding",
	"accept-language",
	"cookie",
	"priority",
}

// HTTPOptions configures an HTTPEngine.
type HTTPOptions struct {
	// Name overrides the engine identifier. Default: "chrome".
	Name string

	Backend  Backend
	ProxyURL string

	// MaxRedirects is the hop cap. Default: DefaultMaxRedirects.
	MaxRedirects int

	// MaxBodyBytes caps the decoded body. Default: DefaultMaxBodyBytes.
	MaxBodyBytes int64

	UserAgent string

	// InsecureSkipVerify disables certificate checks (tests only).
	InsecureSkipVerify bool
}

// HTTPEngine is the browser-emulating network client. It follows redirects
// itself through a Resolver so the hop cap and loop detection apply no
// matter which backend is used.
type HTTPEngine struct {
	opts HTTPOptions
}

// NewHTTPEngine creates an HTTPEngine. Unset options take their defaults.
func NewHTTPEngine(opts HTTPOptions) *HTTPEngine {
	if opts.Name == "" {
		opts.Name = "chrome"
	}
	if opts.Backend == "" {
		opts.Backend = BackendTLSClient
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = chromeUA
	}
	return &HTTPEngine{opts: opts}
}

func (e *HTTPEngine) Name() string { return e.opts.Name }

func (e *HTTPEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	start, err := url.Parse(req.URL)
	if err != nil || (start.Scheme != "http" && start.Scheme != "https") || start.Host == "" {
		return nil, &AcquisitionError{Kind: KindInvalidURL, Engine: e.Name(), URL: req.URL, Err: err}
	}

	ctx, cancel := withAttemptTimeout(ctx, req.Timeout)
	defer cancel()

	tr, err := e.newTransport(ctx)
	if err != nil {
		return nil, classify(ctx, e.Name(), req.URL, newError(KindConnectionFailed, err))
	}
	defer tr.Close()

	jar, _ := cookiejar.New(nil)
	resolver := NewResolver(start, e.opts.MaxRedirects)
	current := start

	for {
		header := e.headers()
		if cookies := jar.Cookies(current); len(cookies) > 0 {
			pairs := make([]string, len(cookies))
			for i, c := range cookies {
				pairs[i] = c.Name + "=" + c.Value
			}
			header.Set("Cookie", strings.Join(pairs, "; "))
		}

		resp, err := tr.RoundTrip(ctx, current, header)
		if err != nil {
			return nil, classify(ctx, e.Name(), current.String(), err)
		}
		if cookies := (&http.Response{Header: resp.Header}).Cookies(); len(cookies) > 0 {
			jar.SetCookies(current, cookies)
		}

		location := resp.Header.Get("Location")
		if IsRedirect(resp.StatusCode) && location != "" {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()

			next, err := resolver.Next(current, location)
			if err != nil {
				return nil, classify(ctx, e.Name(), current.String(), err)
			}
			slog.Debug("http engine: redirect",
				"engine", e.Name(),
				"status", resp.StatusCode,
				"from", current.String(),
				"to", next.String(),
				"hop", resolver.Hops(),
			)
			current = next
			continue
		}

		raw, err := readLimited(resp.Body, e.opts.MaxBodyBytes)
		resp.Body.Close()
		if err != nil {
			return nil, classify(ctx, e.Name(), current.String(), fmt.Errorf("read body: %w", err))
		}

		return &FetchResult{
			Body:        decodeBody(resp.Header.Get("Content-Encoding"), raw, e.opts.MaxBodyBytes),
			FinalURL:    current.String(),
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Redirects:   resolver.Hops(),
			EngineName:  e.Name(),
		}, nil
	}
}

func (e *HTTPEngine) newTransport(ctx context.Context) (transport, error) {
	switch e.opts.Backend {
	case BackendUTLS:
		return newUTLSTransport(e.opts.ProxyURL, e.opts.InsecureSkipVerify)
	case BackendTLSClient:
		return newTLSClientTransport(ctx, e.opts.ProxyURL, e.opts.InsecureSkipVerify)
	default:
		return nil, fmt.Errorf("unknown backend %q", e.opts.Backend)
	}
}

// headers returns Chrome's top-level navigation headers.
func (e *HTTPEngine) headers() http.Header {
	h := make(http.Header)
	h.Set("sec-ch-ua", `"Not(A:Brand";v="99", "Google Chrome";v="133", "Chromium";v="133"`)
	h.Set("sec-ch-ua-mobile", "?0")
	h.Set("sec-ch-ua-platform", `"Windows"`)
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("User-Agent", e.opts.UserAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Accept-Encoding", "gzip, deflate, br, zstd")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Priority", "u=0, i")
	return h
}

// kindFromTransportErr separates handshake failures from other network
// errors for transports that do not report the phase themselves.
func kindFromTransportErr(err error) Kind {
	var ae *AcquisitionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "handshake") || strings.Contains(msg, "tls:") || strings.Contains(msg, "x509") {
		return KindHandshakeFailed
	}
	return KindConnectionFailed
}
