package engine

import (
	"net/http"
	"net/url"
	"strings"
)

// DefaultMaxRedirects is the hop cap used when none is configured.
const DefaultMaxRedirects = 5

// Resolver follows the redirect chain of one logical fetch. It is not safe
// for concurrent use; every fetch builds its own.
type Resolver struct {
	max     int
	hops    int
	visited map[string]struct{}
}

// NewResolver starts a chain at start. maxHops <= 0 selects DefaultMaxRedirects.
func NewResolver(start *url.URL, maxHops int) *Resolver {
	if maxHops <= 0 {
		maxHops = DefaultMaxRedirects
	}
	r := &Resolver{max: maxHops, visited: make(map[string]struct{})}
	r.visited[visitKey(start)] = struct{}{}
	return r
}

// IsRedirect reports whether status carries a Location to follow.
func IsRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Hops returns the number of redirects followed so far.
func (r *Resolver) Hops() int { return r.hops }

// Next resolves location against current and records the hop. Absolute
// locations are used as-is, protocol-relative ones inherit current's scheme
// and relative ones resolve against current per RFC 3986.
func (r *Resolver) Next(current *url.URL, location string) (*url.URL, error) {
	location = strings.TrimSpace(location)
	ref, err := url.Parse(location)
	if err != nil {
		return nil, newErrorf(KindInvalidRedirect, "parse location %q: %v", location, err)
	}
	next := current.ResolveReference(ref)
	next.Fragment = ""
	next.RawFragment = ""
	if next.Scheme != "http" && next.Scheme != "https" {
		return nil, newErrorf(KindInvalidRedirect, "location %q has unsupported scheme", location)
	}
	if next.Host == "" {
		return nil, newErrorf(KindInvalidRedirect, "location %q has no host", location)
	}

	key := visitKey(next)
	if _, seen := r.visited[key]; seen {
		return nil, newErrorf(KindRedirectLoop, "%s already visited after %d hops", next, r.hops)
	}

	r.hops++
	if r.hops > r.max {
		return nil, newErrorf(KindRedirectLimitExceeded, "more than %d redirects", r.max)
	}
	r.visited[key] = struct{}{}
	return next, nil
}

// visitKey normalizes scheme and host case and the empty path so trivially
// different spellings of one URL count as the same visit.
func visitKey(u *url.URL) string {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = strings.ToLower(c.Host)
	c.Fragment = ""
	c.RawFragment = ""
	if c.Path == "" {
		c.Path = "/"
	}
	return c.String()
}
