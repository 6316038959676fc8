package scraper

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	strategy  string
	expiresAt time.Time
}

// hostMemory remembers which strategy last produced sufficient evidence for
// a host. A remembered strategy skips its start delay on the next call for
// that host. Entries expire after the TTL and are pruned periodically.
type hostMemory struct {
	store sync.Map // host (string) -> *memoryEntry
	ttl   time.Duration
	done  chan struct{}
	once  sync.Once
}

func newHostMemory(ttl time.Duration) *hostMemory {
	m := &hostMemory{ttl: ttl, done: make(chan struct{})}
	go m.cleanupLoop(time.Hour)
	return m
}

// Get returns the remembered strategy for host, or "" if none or expired.
func (m *hostMemory) Get(host string) string {
	val, ok := m.store.Load(host)
	if !ok {
		return ""
	}
	e := val.(*memoryEntry)
	if time.Now().After(e.expiresAt) {
		m.store.Delete(host)
		return ""
	}
	return e.strategy
}

func (m *hostMemory) Set(host, strategy string) {
	m.store.Store(host, &memoryEntry{strategy: strategy, expiresAt: time.Now().Add(m.ttl)})
}

func (m *hostMemory) Delete(host string) {
	m.store.Delete(host)
}

// Stop terminates the cleanup goroutine. Safe to call more than once.
func (m *hostMemory) Stop() {
	m.once.Do(func() { close(m.done) })
}

func (m *hostMemory) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			now := time.Now()
			m.store.Range(func(key, value any) bool {
				if now.After(value.(*memoryEntry).expiresAt) {
					m.store.Delete(key)
				}
				return true
			})
		}
	}
}

// hostOf returns the lowercased hostname of rawURL.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
