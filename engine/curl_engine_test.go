package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCurl writes an executable shell script standing in for curl-impersonate.
func fakeCurl(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "curl_fake")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestCurlEngineParsesBodyAndTrailer(t *testing.T) {
	bin := fakeCurl(t, `printf '<html><h1>Slip Dress</h1></html>\n__PRODSCRAPE_META__200\t2\thttps://shop.example/p/slip-dress\ttext/html; charset=utf-8\n'`)
	e := NewCurlEngine(CurlOptions{BinaryPath: bin})

	res, err := e.Fetch(context.Background(), &FetchRequest{URL: "https://shop.example/s/abc", Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "<html><h1>Slip Dress</h1></html>", string(res.Body))
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, 2, res.Redirects)
	assert.Equal(t, "https://shop.example/p/slip-dress", res.FinalURL)
	assert.Equal(t, "text/html; charset=utf-8", res.ContentType)
	assert.Equal(t, "curl-impersonate", res.EngineName)
}

func TestCurlEnginePassesURLAndTimeout(t *testing.T) {
	// Echo the last argument back as the final URL and check the required flags.
	bin := fakeCurl(t, `
for a in "$@"; do last="$a"; done
case "$*" in *--max-time*) ;; *) exit 3 ;; esac
case "$*" in *--compressed*) ;; *) exit 4 ;; esac
case "$*" in *"--max-redirs 5"*) ;; *) exit 5 ;; esac
printf 'ok\n__PRODSCRAPE_META__200\t0\t%s\t\n' "$last"
`)
	e := NewCurlEngine(CurlOptions{BinaryPath: bin})

	res, err := e.Fetch(context.Background(), &FetchRequest{URL: "https://shop.example/p/1", Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example/p/1", res.FinalURL)
}

func TestCurlEngineErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   *AcquisitionError
	}{
		{"non-zero exit", `echo boom >&2; exit 3`, ErrSubprocessFailed},
		{"curl timeout exit", `exit 28`, ErrTimeout},
		{"too many redirects", `exit 47`, ErrRedirectLimitExceeded},
		{"could not connect", `exit 7`, ErrConnectionFailed},
		{"ssl connect error", `exit 35`, ErrHandshakeFailed},
		{"missing trailer", `printf '<html></html>'`, ErrMalformedOutput},
		{"garbled status", `printf 'x\n__PRODSCRAPE_META__abc\t0\thttps://a.example/\t\n'`, ErrMalformedOutput},
		{"missing url", `printf 'x\n__PRODSCRAPE_META__200\t0\n'`, ErrMalformedOutput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewCurlEngine(CurlOptions{BinaryPath: fakeCurl(t, tt.script)})
			_, err := e.Fetch(context.Background(), &FetchRequest{URL: "https://shop.example/p/1", Timeout: 5 * time.Second})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestCurlEngineUnavailable(t *testing.T) {
	t.Run("missing binary", func(t *testing.T) {
		e := NewCurlEngine(CurlOptions{BinaryPath: filepath.Join(t.TempDir(), "nope")})
		_, err := e.Fetch(context.Background(), &FetchRequest{URL: "https://shop.example/", Timeout: time.Second})
		assert.True(t, errors.Is(err, ErrSubprocessUnavailable), "got %v", err)
	})

	t.Run("not executable", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "curl_noexec")
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o644))
		e := NewCurlEngine(CurlOptions{BinaryPath: path})
		_, err := e.Fetch(context.Background(), &FetchRequest{URL: "https://shop.example/", Timeout: time.Second})
		assert.True(t, errors.Is(err, ErrSubprocessUnavailable), "got %v", err)
	})
}

func TestCurlEngineKilledOnTimeout(t *testing.T) {
	bin := fakeCurl(t, `sleep 30`)
	e := NewCurlEngine(CurlOptions{BinaryPath: bin})

	start := time.Now()
	_, err := e.Fetch(context.Background(), &FetchRequest{URL: "https://shop.example/", Timeout: 200 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCurlEngineRedirectCount(t *testing.T) {
	bin := fakeCurl(t, `printf 'x\n__PRODSCRAPE_META__200\t9\thttps://a.example/\t\n'`)
	e := NewCurlEngine(CurlOptions{BinaryPath: bin, MaxRedirects: 5})
	_, err := e.Fetch(context.Background(), &FetchRequest{URL: "https://shop.example/", Timeout: time.Second})
	assert.True(t, errors.Is(err, ErrRedirectLimitExceeded), "got %v", err)
}
