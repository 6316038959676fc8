package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultCurlBinary is where the curl-impersonate wrapper is installed in
// the container image.
const DefaultCurlBinary = "/opt/curl_chrome131_android"

// curlMetaMarker starts the write-out trailer appended after the body.
const curlMetaMarker = "__PRODSCRAPE_META__"

// curlWriteOut yields "<marker><status>\t<redirects>\t<url>\t<content-type>".
var curlWriteOut = "\n" + curlMetaMarker + "%{http_code}\t%{num_redirects}\t%{url_effective}\t%{content_type}\n"

// CurlOptions configures a CurlEngine.
type CurlOptions struct {
	BinaryPath   string
	MaxRedirects int
	MaxBodyBytes int64
}

// CurlEngine delegates the fetch to a curl-impersonate executable and
// parses the body and write-out trailer from its stdout.
type CurlEngine struct {
	opts CurlOptions
}

// NewCurlEngine creates a CurlEngine.
func NewCurlEngine(opts CurlOptions) *CurlEngine {
	if opts.BinaryPath == "" {
		opts.BinaryPath = DefaultCurlBinary
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &CurlEngine{opts: opts}
}

func (e *CurlEngine) Name() string { return "curl-impersonate" }

func (e *CurlEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	ctx, cancel := withAttemptTimeout(ctx, req.Timeout)
	defer cancel()

	args := []string{
		"-sS",
		"-L",
		"--compressed",
		"--max-redirs", strconv.Itoa(e.opts.MaxRedirects),
		"--max-filesize", strconv.FormatInt(e.opts.MaxBodyBytes, 10),
		"-w", curlWriteOut,
	}
	if deadline, ok := ctx.Deadline(); ok {
		args = append(args, "--max-time", strconv.FormatFloat(time.Until(deadline).Seconds(), 'f', 2, 64))
	}
	args = append(args, req.URL)

	cmd := exec.CommandContext(ctx, e.opts.BinaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	killProcessGroup(cmd)
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	if runErr != nil {
		return nil, e.runError(ctx, req.URL, runErr, stderr.String(), time.Since(start))
	}

	result, err := parseCurlOutput(stdout.Bytes())
	if err != nil {
		return nil, &AcquisitionError{Kind: KindMalformedOutput, Engine: e.Name(), URL: req.URL, Err: err}
	}
	result.EngineName = e.Name()
	if result.Redirects > e.opts.MaxRedirects {
		return nil, &AcquisitionError{Kind: KindRedirectLimitExceeded, Engine: e.Name(), URL: req.URL}
	}
	return result, nil
}

// runError maps a failed process run onto the acquisition taxonomy.
func (e *CurlEngine) runError(ctx context.Context, rawURL string, err error, stderr string, elapsed time.Duration) *AcquisitionError {
	if ctx.Err() != nil {
		return classify(ctx, e.Name(), rawURL, err)
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		// The process never started: missing binary or not executable.
		return &AcquisitionError{Kind: KindSubprocessUnavailable, Engine: e.Name(), URL: rawURL, Err: err}
	}

	code := exitErr.ExitCode()
	kind := KindSubprocessFailed
	switch code {
	case 28:
		kind = KindTimeout
	case 47:
		kind = KindRedirectLimitExceeded
	case 5, 6, 7, 52, 55, 56:
		kind = KindConnectionFailed
	case 35, 60:
		kind = KindHandshakeFailed
	case 126, 127:
		// A wrapper script could not exec the real binary.
		kind = KindSubprocessUnavailable
	}
	return &AcquisitionError{
		Kind:   kind,
		Engine: e.Name(),
		URL:    rawURL,
		Err:    fmt.Errorf("exit %d after %s: %s", code, elapsed.Round(time.Millisecond), firstLine(stderr)),
	}
}

// parseCurlOutput splits stdout into body and write-out trailer.
func parseCurlOutput(out []byte) (*FetchResult, error) {
	idx := bytes.LastIndex(out, []byte("\n"+curlMetaMarker))
	if idx < 0 {
		return nil, fmt.Errorf("write-out trailer missing")
	}
	body := out[:idx]
	trailer := strings.TrimRight(string(out[idx+1+len(curlMetaMarker):]), "\r\n")

	fields := strings.SplitN(trailer, "\t", 4)
	if len(fields) < 3 {
		return nil, fmt.Errorf("write-out trailer %q has %d fields", trailer, len(fields))
	}
	status, err := strconv.Atoi(fields[0])
	if err != nil || status < 100 || status > 599 {
		return nil, fmt.Errorf("write-out status %q invalid", fields[0])
	}
	redirects, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("write-out redirect count %q invalid", fields[1])
	}
	finalURL := strings.TrimSpace(fields[2])
	if finalURL == "" {
		return nil, fmt.Errorf("write-out final url empty")
	}
	contentType := ""
	if len(fields) == 4 {
		contentType = strings.TrimSpace(fields[3])
	}

	return &FetchResult{
		Body:        body,
		FinalURL:    finalURL,
		StatusCode:  status,
		ContentType: contentType,
		Redirects:   redirects,
	}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
