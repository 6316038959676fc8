package engine

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// contextDialer opens raw TCP connections, possibly through a proxy.
type contextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// newDialer returns a direct dialer, or one tunnelling through proxyURL.
// Supported proxy schemes: http, https (CONNECT) and socks5/socks5h.
func newDialer(proxyURL string) (contextDialer, error) {
	base := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if proxyURL == "" {
		return base, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("proxy: parse %q: %w", proxyURL, err)
	}

	switch u.Scheme {
	case "socks5", "socks5h":
		d, err := proxy.FromURL(u, base)
		if err != nil {
			return nil, fmt.Errorf("proxy: socks5: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("proxy: socks5 dialer does not support contexts")
		}
		return cd, nil
	case "http", "https":
		return &connectDialer{proxy: u, base: base}, nil
	default:
		return nil, fmt.Errorf("proxy: unsupported scheme %q", u.Scheme)
	}
}

// connectDialer tunnels through an HTTP proxy with the CONNECT method.
type connectDialer struct {
	proxy *url.URL
	base  *net.Dialer
}

func (d *connectDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	proxyAddr := d.proxy.Host
	if d.proxy.Port() == "" {
		if d.proxy.Scheme == "https" {
			proxyAddr = net.JoinHostPort(d.proxy.Hostname(), "443")
		} else {
			proxyAddr = net.JoinHostPort(d.proxy.Hostname(), "80")
		}
	}

	conn, err := d.base.DialContext(ctx, network, proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("proxy: dial %s: %w", proxyAddr, err)
	}
	if d.proxy.Scheme == "https" {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: d.proxy.Hostname()})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("proxy: tls: %w", err)
		}
		conn = tlsConn
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if u := d.proxy.User; u != nil {
		pass, _ := u.Password()
		cred := base64.StdEncoding.EncodeToString([]byte(u.Username() + ":" + pass))
		req.Header.Set("Proxy-Authorization", "Basic "+cred)
	}
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy: write CONNECT: %w", err)
	}

	// The server stays silent after the CONNECT reply until we speak,
	// so the buffered reader cannot swallow tunnel bytes.
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy: read CONNECT response: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy: CONNECT %s: %s", addr, resp.Status)
	}
	return conn, nil
}
