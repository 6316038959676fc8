// Package cache keeps recent scrape responses so repeated requests for the
// same product URL can skip the network.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/prodscrape/config"
	"github.com/use-agent/prodscrape/models"
)

// Cache stores scrape responses by key. Lookups that fail are misses.
type Cache interface {
	// Get returns the response stored under key if it is younger than maxAge.
	Get(ctx context.Context, key string, maxAge time.Duration) (*models.ScrapeResponse, bool)
	Set(ctx context.Context, key string, resp *models.ScrapeResponse)
	Close() error
}

// New builds the cache selected by cfg.Backend.
func New(cfg config.CacheConfig) (Cache, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemory(cfg.MaxEntries, cfg.TTL), nil
	case "redis":
		return NewRedisFromURL(cfg.RedisURL, cfg.TTL)
	}
	return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
}

// Key generates a cache key from the product URL.
func Key(url string) string {
	h := sha256.New()
	h.Write([]byte("product|"))
	h.Write([]byte(strings.TrimSpace(url)))
	return hex.EncodeToString(h.Sum(nil))
}

// entry holds a cached response with its creation timestamp.
type entry struct {
	response  *models.ScrapeResponse
	createdAt time.Time
}

// Memory is an in-process Cache. It is safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	ttl        time.Duration

	done chan struct{}
	once sync.Once
}

// NewMemory creates a Memory cache holding at most maxEntries responses.
// A background goroutine evicts entries older than ttl.
func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &Memory{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		done:       make(chan struct{}),
	}
	go c.cleanupLoop(5 * time.Minute)
	return c
}

func (c *Memory) Get(_ context.Context, key string, maxAge time.Duration) (*models.ScrapeResponse, bool) {
	if maxAge <= 0 {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok || time.Since(e.createdAt) > maxAge || time.Since(e.createdAt) > c.ttl {
		return nil, false
	}
	cp := *e.response
	return &cp, true
}

// Set stores a response. At capacity an arbitrary entry is evicted.
func (c *Memory) Set(_ context.Context, key string, resp *models.ScrapeResponse) {
	cp := *resp

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}
	c.store[key] = &entry{response: &cp, createdAt: time.Now()}
}

// Len returns the number of stored entries.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Close stops the cleanup goroutine.
func (c *Memory) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *Memory) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictOlderThan(time.Now().Add(-c.ttl))
		}
	}
}

func (c *Memory) evictOlderThan(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
		}
	}
}
