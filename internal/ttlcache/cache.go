// Package ttlcache is an in-process key/value store with per-entry expiry,
// stale reads, prefix invalidation and background auto-refresh.
//
// Entries are replaced wholesale, never mutated. A key bound with
// SetWithAutoRefresh owns one refresh goroutine; rebinding, Set, Delete,
// DeleteByPrefix, Clear and Close cancel it. Every binding carries a
// generation number so that a refresh which completes after its binding was
// canceled is discarded instead of resurrecting the key.
package ttlcache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RefreshFunc produces a replacement value for an auto-refreshed key. The
// context is canceled when the binding is canceled.
type RefreshFunc[V any] func(ctx context.Context) (V, error)

type entry[V any] struct {
	value    V
	storedAt time.Time
	ttl      time.Duration
	stale    bool
}

func (e entry[V]) fresh(now time.Time) bool {
	return !e.stale && now.Sub(e.storedAt) <= e.ttl
}

type binding struct {
	gen    uint64
	cancel context.CancelFunc
}

// Stats is a point-in-time view of the cache contents.
type Stats struct {
	Size int      `json:"size"`
	Keys []string `json:"keys"`
}

// Cache is safe for concurrent use. The zero value is not usable; call New.
type Cache[V any] struct {
	mu       sync.RWMutex
	entries  map[string]entry[V]
	bindings map[string]*binding
	gen      uint64
	closed   bool

	root    context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
	logger  zerolog.Logger
	metrics Metrics
}

type options struct {
	now     func() time.Time
	logger  zerolog.Logger
	metrics Metrics
}

// Option configures a Cache.
type Option func(*options)

// WithClock replaces time.Now for freshness checks. Refresh scheduling always
// uses real timers.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger used to report refresh failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the event sink.
func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates an empty cache. The caller owns it and must call Close at
// shutdown to stop refresh goroutines.
func New[V any](opts ...Option) *Cache[V] {
	o := options{
		now:     time.Now,
		logger:  zerolog.Nop(),
		metrics: NoopMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = NoopMetrics{}
	}

	root, stop := context.WithCancel(context.Background())
	return &Cache[V]{
		entries:  make(map[string]entry[V]),
		bindings: make(map[string]*binding),
		root:     root,
		stop:     stop,
		now:      o.now,
		logger:   o.logger,
		metrics:  o.metrics,
	}
}

// Set stores value under key for ttl, replacing any existing entry and
// canceling any refresh binding for key.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unbindLocked(key)
	c.entries[key] = entry[V]{value: value, storedAt: c.now(), ttl: ttl}
}

// SetWithAutoRefresh behaves as Set and then runs refresh once per ttl in the
// background. A successful refresh replaces the entry and keeps the binding;
// a failed refresh is logged and leaves the existing entry in place. A
// non-positive ttl stores the value without a binding.
func (c *Cache[V]) SetWithAutoRefresh(key string, value V, ttl time.Duration, refresh RefreshFunc[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unbindLocked(key)
	c.entries[key] = entry[V]{value: value, storedAt: c.now(), ttl: ttl}
	if c.closed || ttl <= 0 || refresh == nil {
		return
	}

	c.gen++
	ctx, cancel := context.WithCancel(c.root)
	b := &binding{gen: c.gen, cancel: cancel}
	c.bindings[key] = b

	c.wg.Add(1)
	go c.refreshLoop(ctx, key, b.gen, ttl, refresh)
}

// Get returns the value for key. A fresh entry is always returned. An
// expired entry is returned untouched when allowStale is set; otherwise it is
// evicted and Get reports a miss. Eviction keeps the refresh binding so the
// next scheduled refresh repopulates the key.
func (c *Cache[V]) Get(key string, allowStale bool) (V, bool) {
	var zero V

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		c.metrics.Miss()
		return zero, false
	}

	if e.fresh(c.now()) {
		c.metrics.Hit()
		return e.value, true
	}
	if allowStale {
		c.metrics.StaleHit()
		return e.value, true
	}

	c.mu.Lock()
	// Only evict the entry we inspected; a concurrent writer may have
	// replaced it in the meantime.
	if cur, ok := c.entries[key]; ok && cur.storedAt.Equal(e.storedAt) && !cur.fresh(c.now()) {
		delete(c.entries, key)
		c.metrics.Expire()
	}
	c.mu.Unlock()

	c.metrics.Miss()
	return zero, false
}

// Lookup returns the stored value and whether it is still fresh. Unlike Get
// it never evicts, so an expired value stays available as a fallback until
// it is replaced or deleted.
func (c *Cache[V]) Lookup(key string) (value V, fresh bool, ok bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		c.metrics.Miss()
		return value, false, false
	}
	if e.fresh(c.now()) {
		c.metrics.Hit()
		return e.value, true, true
	}
	c.metrics.Miss()
	return e.value, false, true
}

// Peek returns the stored value regardless of freshness without evicting it
// or recording metrics.
func (c *Cache[V]) Peek(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	return e.value, ok
}

// MarkStale expires key in place. The value stays readable through stale
// reads, Lookup and Peek, and any refresh binding keeps running. It reports
// whether key was present.
func (c *Cache[V]) MarkStale(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	e.stale = true
	c.entries[key] = e
	return true
}

// Delete removes key and cancels its refresh binding. Deleting an absent key
// is a no-op.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unbindLocked(key)
	delete(c.entries, key)
}

// DeleteByPrefix removes every entry whose key starts with prefix, cancels
// matching bindings and returns the number of entries removed.
func (c *Cache[V]) DeleteByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	for key := range c.bindings {
		if strings.HasPrefix(key, prefix) {
			c.unbindLocked(key)
		}
	}
	return removed
}

// Clear removes all entries and cancels all bindings.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLocked()
}

// Stats reports the number of entries and their keys in sorted order.
func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	c.mu.RUnlock()

	sort.Strings(keys)
	return Stats{Size: len(keys), Keys: keys}
}

// Close clears the cache, stops every refresh goroutine and waits for them to
// exit. The cache stays usable for plain Set/Get afterwards but accepts no
// new refresh bindings.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	c.closed = true
	c.clearLocked()
	c.mu.Unlock()

	c.stop()
	c.wg.Wait()
}

func (c *Cache[V]) clearLocked() {
	for key := range c.bindings {
		c.unbindLocked(key)
	}
	c.entries = make(map[string]entry[V])
}

func (c *Cache[V]) unbindLocked(key string) {
	b, ok := c.bindings[key]
	if !ok {
		return
	}
	b.cancel()
	delete(c.bindings, key)
}

func (c *Cache[V]) refreshLoop(ctx context.Context, key string, gen uint64, interval time.Duration, refresh RefreshFunc[V]) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		value, err := refresh(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.metrics.RefreshFailed()
			c.logger.Warn().Err(err).Str("key", key).Msg("cache refresh failed, keeping previous value")
			continue
		}
		c.apply(key, gen, value, interval)
	}
}

// apply stores a refreshed value if the binding that produced it is still
// the current one for key.
func (c *Cache[V]) apply(key string, gen uint64, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.bindings[key]
	if !ok || b.gen != gen {
		return
	}
	c.entries[key] = entry[V]{value: value, storedAt: c.now(), ttl: ttl}
	c.metrics.RefreshSucceeded()
	c.logger.Debug().Str("key", key).Msg("cache entry refreshed")
}
