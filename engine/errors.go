package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies an acquisition failure.
type Kind string

const (
	KindTimeout               Kind = "timeout"
	KindCancelled             Kind = "cancelled"
	KindConnectionFailed      Kind = "connection-failed"
	KindHandshakeFailed       Kind = "handshake-failed"
	KindRedirectLimitExceeded Kind = "redirect-limit-exceeded"
	KindRedirectLoop          Kind = "redirect-loop"
	KindInvalidRedirect       Kind = "invalid-redirect"
	KindSubprocessUnavailable Kind = "subprocess-unavailable"
	KindSubprocessFailed      Kind = "subprocess-failed"
	KindMalformedOutput       Kind = "malformed-subprocess-output"
	KindBlockedStatus         Kind = "blocked-status"
	KindUnsupportedContent    Kind = "unsupported-content"
	KindInvalidURL            Kind = "invalid-url"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrTimeout               = &AcquisitionError{Kind: KindTimeout}
	ErrCancelled             = &AcquisitionError{Kind: KindCancelled}
	ErrConnectionFailed      = &AcquisitionError{Kind: KindConnectionFailed}
	ErrHandshakeFailed       = &AcquisitionError{Kind: KindHandshakeFailed}
	ErrRedirectLimitExceeded = &AcquisitionError{Kind: KindRedirectLimitExceeded}
	ErrRedirectLoop          = &AcquisitionError{Kind: KindRedirectLoop}
	ErrSubprocessUnavailable = &AcquisitionError{Kind: KindSubprocessUnavailable}
	ErrSubprocessFailed      = &AcquisitionError{Kind: KindSubprocessFailed}
	ErrMalformedOutput       = &AcquisitionError{Kind: KindMalformedOutput}
)

// AcquisitionError is the error type returned by every Engine.
type AcquisitionError struct {
	Kind   Kind
	Engine string
	URL    string
	Err    error
}

func (e *AcquisitionError) Error() string {
	msg := string(e.Kind)
	if e.Engine != "" {
		msg = e.Engine + ": " + msg
	}
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// Is matches another AcquisitionError of the same kind.
func (e *AcquisitionError) Is(target error) bool {
	t, ok := target.(*AcquisitionError)
	return ok && t.Kind == e.Kind
}

// KindOf returns the acquisition kind of err, or "" when err is not an
// AcquisitionError.
func KindOf(err error) Kind {
	var ae *AcquisitionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func newError(kind Kind, err error) *AcquisitionError {
	return &AcquisitionError{Kind: kind, Err: err}
}

func newErrorf(kind Kind, format string, args ...any) *AcquisitionError {
	return &AcquisitionError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// classify turns any error from an attempt into a stamped AcquisitionError.
// Context state wins over the error value: a dial that failed because the
// deadline fired is a timeout, not a connection failure.
func classify(ctx context.Context, engineName, rawURL string, err error) *AcquisitionError {
	var ae *AcquisitionError
	if !errors.As(err, &ae) {
		ae = newError(KindConnectionFailed, err)
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		ae = &AcquisitionError{Kind: KindTimeout, Err: ae.Err}
	case errors.Is(ctx.Err(), context.Canceled):
		ae = &AcquisitionError{Kind: KindCancelled, Err: ae.Err}
	case isTimeout(err) && ae.Kind == KindConnectionFailed:
		ae = &AcquisitionError{Kind: KindTimeout, Err: ae.Err}
	}

	out := *ae
	if out.Engine == "" {
		out.Engine = engineName
	}
	if out.URL == "" {
		out.URL = rawURL
	}
	return &out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
