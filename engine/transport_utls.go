package engine

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// response is the transport-neutral view of one HTTP exchange.
type response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// transport performs single, non-redirecting GET exchanges.
type transport interface {
	RoundTrip(ctx context.Context, u *url.URL, header http.Header) (*response, error)
	Close()
}

// Chrome's advertised HTTP/2 limits. x/net/http2 exposes only some of
// Chrome's SETTINGS and writes pseudo-headers in Go's order, which is why
// the tls-client backend is the default.
const (
	chromeH2HeaderTableSize = 65536
	chromeH2MaxHeaderList   = 262144
)

// utlsTransport dials a fresh connection per exchange, handshakes with
// Chrome's ClientHello and speaks h2 or HTTP/1.1 per ALPN.
type utlsTransport struct {
	dialer   contextDialer
	insecure bool

	mu    sync.Mutex
	conns []io.Closer
}

func newUTLSTransport(proxyURL string, insecure bool) (*utlsTransport, error) {
	d, err := newDialer(proxyURL)
	if err != nil {
		return nil, err
	}
	return &utlsTransport{dialer: d, insecure: insecure}, nil
}

func (t *utlsTransport) track(c io.Closer) {
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
}

// Close tears down every connection opened by this transport.
func (t *utlsTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.conns {
		c.Close()
	}
	t.conns = nil
}

func (t *utlsTransport) RoundTrip(ctx context.Context, u *url.URL, header http.Header) (*response, error) {
	addr := canonicalAddr(u)
	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newError(KindConnectionFailed, err)
	}
	t.track(conn)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, newError(KindConnectionFailed, err)
	}
	req.Header = header.Clone()

	if u.Scheme == "http" {
		return roundTripH1(ctx, conn, req)
	}

	uconn := utls.UClient(conn, &utls.Config{
		ServerName:         u.Hostname(),
		InsecureSkipVerify: t.insecure,
	}, utls.HelloChrome_Auto)
	if err := uconn.HandshakeContext(ctx); err != nil {
		return nil, newError(KindHandshakeFailed, err)
	}

	if uconn.ConnectionState().NegotiatedProtocol == http2.NextProtoTLS {
		return roundTripH2(uconn, req)
	}
	return roundTripH1(ctx, uconn, req)
}

func roundTripH2(conn net.Conn, req *http.Request) (*response, error) {
	t2 := &http2.Transport{
		DisableCompression:        true,
		MaxHeaderListSize:         chromeH2MaxHeaderList,
		MaxDecoderHeaderTableSize: chromeH2HeaderTableSize,
		MaxEncoderHeaderTableSize: chromeH2HeaderTableSize,
	}
	cc, err := t2.NewClientConn(conn)
	if err != nil {
		return nil, newError(KindConnectionFailed, err)
	}
	resp, err := cc.RoundTrip(req)
	if err != nil {
		cc.Close()
		return nil, newError(KindConnectionFailed, err)
	}
	return &response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &closeFuncBody{ReadCloser: resp.Body, closeFn: cc.Close},
	}, nil
}

func roundTripH1(ctx context.Context, conn net.Conn, req *http.Request) (*response, error) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	req.Close = true
	if err := req.Write(conn); err != nil {
		stop()
		return nil, newError(KindConnectionFailed, err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		stop()
		return nil, newError(KindConnectionFailed, err)
	}
	return &response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body: &closeFuncBody{ReadCloser: resp.Body, closeFn: func() error {
			stop()
			return conn.Close()
		}},
	}, nil
}

// closeFuncBody runs closeFn after closing the wrapped body.
type closeFuncBody struct {
	io.ReadCloser
	closeFn func() error
}

func (b *closeFuncBody) Close() error {
	err := b.ReadCloser.Close()
	if cerr := b.closeFn(); err == nil {
		err = cerr
	}
	return err
}

func canonicalAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}
