package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliverSignsBody(t *testing.T) {
	var (
		gotSig  string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewNotifier(time.Second, 0)
	ev := &Event{Type: "batch.completed", JobID: "batch-1", Timestamp: 1700000000, Data: map[string]int{"total": 2}}
	require.NoError(t, n.Deliver(context.Background(), srv.URL, "s3cret", ev))

	assert.Equal(t, Sign("s3cret", gotBody), gotSig)
	var decoded Event
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "batch-1", decoded.JobID)
}

func TestDeliverWithoutSecretHasNoSignature(t *testing.T) {
	var sig atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig.Store(r.Header.Get(SignatureHeader))
	}))
	defer srv.Close()

	require.NoError(t, NewNotifier(time.Second, 0).Deliver(context.Background(), srv.URL, "", &Event{Type: "batch.completed"}))
	assert.Equal(t, "", sig.Load())
}

func TestDeliverWithRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(time.Second, 3)
	n.Delays = []time.Duration{0, time.Millisecond, time.Millisecond}
	require.NoError(t, n.DeliverWithRetry(context.Background(), srv.URL, "", &Event{Type: "batch.completed"}))
	assert.EqualValues(t, 3, calls.Load())

	calls.Store(-10)
	n.Delays = []time.Duration{0, time.Millisecond}
	assert.Error(t, n.DeliverWithRetry(context.Background(), srv.URL, "", &Event{Type: "batch.completed"}))
}

func TestNewNotifierRetryCap(t *testing.T) {
	assert.Len(t, NewNotifier(0, 0).Delays, 1)
	assert.Len(t, NewNotifier(0, 1).Delays, 2)
	assert.Len(t, NewNotifier(0, 10).Delays, 4)
}
