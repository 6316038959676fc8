package engine

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// tlsClientTransport drives bogdanfinn/tls-client, which reproduces Chrome's
// ClientHello, HTTP/2 SETTINGS, pseudo-header order and header order.
type tlsClientTransport struct {
	client tls_client.HttpClient
}

func newTLSClientTransport(ctx context.Context, proxyURL string, insecure bool) (*tlsClientTransport, error) {
	opts := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(timeoutSeconds(ctx)),
		tls_client.WithClientProfile(profiles.Chrome_133),
		tls_client.WithNotFollowRedirects(),
	}
	if proxyURL != "" {
		opts = append(opts, tls_client.WithProxyUrl(proxyURL))
	}
	if insecure {
		opts = append(opts, tls_client.WithInsecureSkipVerify())
	}

	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), opts...)
	if err != nil {
		return nil, err
	}
	return &tlsClientTransport{client: client}, nil
}

func (t *tlsClientTransport) RoundTrip(ctx context.Context, u *url.URL, header http.Header) (*response, error) {
	req, err := fhttp.NewRequestWithContext(ctx, fhttp.MethodGet, u.String(), nil)
	if err != nil {
		return nil, newError(KindConnectionFailed, err)
	}
	req.Header = fhttp.Header{}
	for k, vs := range header {
		req.Header[k] = append([]string(nil), vs...)
	}
	req.Header[fhttp.HeaderOrderKey] = chromeHeaderOrder

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, newError(kindFromTransportErr(err), err)
	}
	return &response{
		StatusCode: resp.StatusCode,
		Header:     http.Header(resp.Header),
		Body:       resp.Body,
	}, nil
}

func (t *tlsClientTransport) Close() {
	t.client.CloseIdleConnections()
}

// timeoutSeconds rounds the remaining context budget up to whole seconds.
// The context itself stays the precise bound.
func timeoutSeconds(ctx context.Context) int {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 30
	}
	secs := int(math.Ceil(time.Until(deadline).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
