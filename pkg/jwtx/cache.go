package jwtx

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheRefresh bounds how long a cached key is trusted before the
// source is consulted again.
const DefaultCacheRefresh = time.Minute

type cacheEntry struct {
	window    KeyWindow
	key       any
	fetchedAt time.Time
}

// KeyCache holds verification keys by kid. Misses and refreshes for the
// same kid share a single fetch.
type KeyCache struct {
	source  KeySource
	refresh time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry

	group singleflight.Group

	// fetches counts calls into the source, for tests and metrics.
	fetches func()
}

// NewKeyCache returns an empty cache over source.
func NewKeyCache(source KeySource, refresh time.Duration) *KeyCache {
	if refresh <= 0 {
		refresh = DefaultCacheRefresh
	}
	return &KeyCache{
		source:  source,
		refresh: refresh,
		entries: make(map[string]cacheEntry),
	}
}

// OnFetch registers fn to be called on every source fetch.
func (c *KeyCache) OnFetch(fn func()) { c.fetches = fn }

// Get returns the window and parsed public key for kid. The cached copy is
// used only when it covers iat and is younger than the refresh interval.
func (c *KeyCache) Get(ctx context.Context, kid string, iat, now time.Time) (KeyWindow, any, error) {
	c.mu.RLock()
	entry, ok := c.entries[kid]
	c.mu.RUnlock()

	if ok && entry.window.Contains(iat) && now.Sub(entry.fetchedAt) < c.refresh {
		return entry.window, entry.key, nil
	}

	v, err, _ := c.group.Do(kid, func() (any, error) {
		if c.fetches != nil {
			c.fetches()
		}

		// One caller cancelling must not fail the others sharing this fetch.
		w, err := c.source.FetchKey(context.WithoutCancel(ctx), kid)
		if err != nil {
			return cacheEntry{}, err
		}
		key, err := w.JWK.PublicKey()
		if err != nil {
			return cacheEntry{}, err
		}

		e := cacheEntry{window: w, key: key, fetchedAt: now}
		c.mu.Lock()
		c.entries[kid] = e
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return KeyWindow{}, nil, err
	}

	e := v.(cacheEntry)
	return e.window, e.key, nil
}

// Put seeds the cache, e.g. right after minting a key.
func (c *KeyCache) Put(w KeyWindow, now time.Time) error {
	key, err := w.JWK.PublicKey()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[w.Kid] = cacheEntry{window: w, key: key, fetchedAt: now}
	c.mu.Unlock()
	return nil
}

// Evict drops entries whose window closed before now.
func (c *KeyCache) Evict(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for kid, e := range c.entries {
		if e.window.ClosedAt(now) {
			delete(c.entries, kid)
			n++
		}
	}
	return n
}
