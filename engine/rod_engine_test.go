package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

// fakeWorker answers every DevTools call with an empty result and records
// the methods it saw.
type fakeWorker struct {
	mu      sync.Mutex
	methods []string
}

func (w *fakeWorker) handler() http.Handler {
	return websocket.Server{
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(conn *websocket.Conn) {
			for {
				var msg struct {
					ID     int    `json:"id"`
					Method string `json:"method"`
				}
				if err := websocket.JSON.Receive(conn, &msg); err != nil {
					return
				}
				w.mu.Lock()
				w.methods = append(w.methods, msg.Method)
				w.mu.Unlock()

				result := map[string]any{}
				if msg.Method == "Target.createBrowserContext" {
					result["browserContextId"] = "attempt-ctx"
				}
				if err := websocket.JSON.Send(conn, map[string]any{"id": msg.ID, "result": result}); err != nil {
					return
				}
			}
		},
	}
}

func (w *fakeWorker) seen() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.methods...)
}

func startWorker(t *testing.T) (*fakeWorker, string) {
	t.Helper()
	w := &fakeWorker{}
	srv := httptest.NewServer(w.handler())
	t.Cleanup(srv.Close)
	return w, "ws" + strings.TrimPrefix(srv.URL, "http") + "/devtools/browser/fake"
}

func TestBrowserSessionReleaseKeepsWorkerRunning(t *testing.T) {
	w, controlURL := startWorker(t)

	sess, err := openSession(context.Background(), controlURL)
	require.NoError(t, err)
	sess.release()

	methods := w.seen()
	assert.Contains(t, methods, "Target.createBrowserContext")
	assert.Contains(t, methods, "Target.disposeBrowserContext")
	assert.NotContains(t, methods, "Browser.close")
}

func TestBrowserSessionReleaseAfterCancel(t *testing.T) {
	w, controlURL := startWorker(t)

	ctx, cancel := context.WithCancel(context.Background())
	sess, err := openSession(ctx, controlURL)
	require.NoError(t, err)

	// The race stopped: the attempt context is gone before teardown.
	cancel()
	sess.release()

	methods := w.seen()
	assert.Contains(t, methods, "Target.disposeBrowserContext")
	assert.NotContains(t, methods, "Browser.close")
}

func TestIsTrackerHost(t *testing.T) {
	assert.True(t, isTrackerHost("stats.g.doubleclick.net"))
	assert.True(t, isTrackerHost("www.Google-Analytics.com"))
	assert.False(t, isTrackerHost("cdn.shop.example.com"))
	assert.False(t, isTrackerHost(""))
}
