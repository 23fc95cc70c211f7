// Package catalog serves the content collections (power banks, chargers,
// cables) from the shared TTL cache, falling back to the upstream API on a
// miss and to stale data when the upstream fails. Errors never leave this
// package: a list degrades to stale then empty, a lookup degrades to absent.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/chentyke/chargebaby-sub000/internal/notion"
	"github.com/chentyke/chargebaby-sub000/internal/ttlcache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultListTTL   = 60 * time.Second
	DefaultDetailTTL = 300 * time.Second
)

var errNotFound = errors.New("item not found")

// Item is implemented by every domain record.
type Item interface {
	// Key is the natural key used in URLs, e.g. a slug.
	Key() string
	// PageID is the upstream record id.
	PageID() string
}

// Source is the subset of the upstream client the collections need.
type Source interface {
	QueryAll(ctx context.Context, databaseID string, q notion.Query) ([]notion.Page, error)
	Page(ctx context.Context, id string) (notion.Page, error)
	BlockTree(ctx context.Context, id string) ([]notion.Block, error)
}

// Definition describes one collection.
type Definition[T Item] struct {
	// Name prefixes every cache key of the collection.
	Name       string
	DatabaseID string
	Query      notion.Query
	// Decode maps a record to a domain value; false drops the record.
	Decode func(notion.Page) (T, bool)
	// Visible filters values on the way out; nil keeps everything.
	Visible func(T) bool
	// Attach merges the content blocks into a detail value; nil skips the
	// content fetch.
	Attach func(T, []notion.Block) T
}

type settings struct {
	listTTL   time.Duration
	detailTTL time.Duration
	logger    zerolog.Logger
}

// Option configures a Collection.
type Option func(*settings)

func WithListTTL(d time.Duration) Option {
	return func(s *settings) { s.listTTL = d }
}

func WithDetailTTL(d time.Duration) Option {
	return func(s *settings) { s.detailTTL = d }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// Collection is the read-through accessor for one collection.
type Collection[T Item] struct {
	def    Definition[T]
	src    Source
	cache  *ttlcache.Cache[any]
	cfg    settings
	logger zerolog.Logger
	group  singleflight.Group
}

func New[T Item](def Definition[T], src Source, cache *ttlcache.Cache[any], opts ...Option) *Collection[T] {
	cfg := settings{
		listTTL:   DefaultListTTL,
		detailTTL: DefaultDetailTTL,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Collection[T]{
		def:    def,
		src:    src,
		cache:  cache,
		cfg:    cfg,
		logger: cfg.logger.With().Str("collection", def.Name).Logger(),
	}
}

func (c *Collection[T]) Name() string { return c.def.Name }

func (c *Collection[T]) ListKey() string { return c.def.Name + "-list" }

func (c *Collection[T]) ItemKey(key string) string { return c.def.Name + "-item-" + key }

func (c *Collection[T]) IDKey(id string) string { return c.def.Name + "-item-id-" + id }

// ListAll returns every visible record. It never fails: on upstream errors
// it serves the stale list if one exists and an empty list otherwise.
func (c *Collection[T]) ListAll(ctx context.Context) []T {
	key := c.ListKey()
	stale, fresh, hasStale := c.lookupList()
	if hasStale && fresh {
		return c.visible(stale)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		items, err := c.fetchList(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.cache.SetWithAutoRefresh(key, items, c.cfg.listTTL, func(ctx context.Context) (any, error) {
			return c.fetchList(ctx)
		})
		return items, nil
	})
	if err == nil {
		return c.visible(v.([]T))
	}

	if !hasStale {
		stale, hasStale = c.peekList()
	}
	if hasStale {
		c.logger.Warn().Err(err).Msg("list fetch failed, serving stale data")
		return c.visible(stale)
	}
	c.logger.Error().Err(err).Msg("list fetch failed and no cached copy exists")
	return []T{}
}

// GetByKey returns the detail record for a natural key, or false when it is
// unknown or cannot be fetched.
func (c *Collection[T]) GetByKey(ctx context.Context, key string) (T, bool) {
	return c.lookup(ctx, c.ItemKey(key), func(item T) bool { return item.Key() == key })
}

// GetByID is GetByKey addressed by upstream record id.
func (c *Collection[T]) GetByID(ctx context.Context, id string) (T, bool) {
	return c.lookup(ctx, c.IDKey(id), func(item T) bool { return item.PageID() == id })
}

func (c *Collection[T]) lookup(ctx context.Context, cacheKey string, match func(T) bool) (T, bool) {
	var zero T
	if v, ok := c.cache.Get(cacheKey, false); ok {
		if item, ok := v.(T); ok {
			return item, true
		}
	}

	v, err, _ := c.group.Do(cacheKey, func() (any, error) {
		for _, item := range c.ListAll(ctx) {
			if match(item) {
				return c.fetchDetail(context.WithoutCancel(ctx), item)
			}
		}
		return nil, errNotFound
	})
	if err != nil {
		if !errors.Is(err, errNotFound) {
			c.logger.Warn().Err(err).Str("cache_key", cacheKey).Msg("detail fetch failed")
		}
		return zero, false
	}
	return v.(T), true
}

// Invalidate drops every cached detail of the collection and marks the list
// stale, so the next read refetches it but an unreachable upstream still
// leaves the old list to serve. It returns the number of entries affected.
func (c *Collection[T]) Invalidate() int {
	n := c.cache.DeleteByPrefix(c.def.Name + "-item-")
	if c.cache.MarkStale(c.ListKey()) {
		n++
	}
	return n
}

// InvalidateItem drops the cached detail for one natural key.
func (c *Collection[T]) InvalidateItem(key string) int {
	removed := 0
	itemKey := c.ItemKey(key)
	if v, ok := c.cache.Peek(itemKey); ok {
		removed++
		if item, ok := v.(T); ok {
			idKey := c.IDKey(item.PageID())
			if _, ok := c.cache.Peek(idKey); ok {
				removed++
			}
			c.cache.Delete(idKey)
		}
	}
	c.cache.Delete(itemKey)
	return removed
}

// lookupList reads the list without evicting it, so an expired list keeps
// serving as the fallback for every request until a fetch succeeds.
func (c *Collection[T]) lookupList() (items []T, fresh bool, ok bool) {
	v, fresh, ok := c.cache.Lookup(c.ListKey())
	if !ok {
		return nil, false, false
	}
	items, ok = v.([]T)
	return items, fresh, ok
}

func (c *Collection[T]) peekList() ([]T, bool) {
	v, ok := c.cache.Peek(c.ListKey())
	if !ok {
		return nil, false
	}
	items, ok := v.([]T)
	return items, ok
}

func (c *Collection[T]) fetchList(ctx context.Context) ([]T, error) {
	pages, err := c.src.QueryAll(ctx, c.def.DatabaseID, c.def.Query)
	if err != nil {
		return nil, err
	}
	items := make([]T, 0, len(pages))
	for _, p := range pages {
		if p.Archived {
			continue
		}
		if item, ok := c.def.Decode(p); ok {
			items = append(items, item)
		}
	}
	c.logger.Debug().Int("items", len(items)).Msg("list fetched")
	return items, nil
}

func (c *Collection[T]) fetchDetail(ctx context.Context, item T) (T, error) {
	var zero T
	page, err := c.src.Page(ctx, item.PageID())
	if err != nil {
		return zero, err
	}
	detail, ok := c.def.Decode(page)
	if !ok {
		return zero, errNotFound
	}
	if c.def.Attach != nil {
		blocks, err := c.src.BlockTree(ctx, page.ID)
		if err != nil {
			return zero, err
		}
		detail = c.def.Attach(detail, blocks)
	}

	c.cache.Set(c.ItemKey(detail.Key()), detail, c.cfg.detailTTL)
	c.cache.Set(c.IDKey(detail.PageID()), detail, c.cfg.detailTTL)
	return detail, nil
}

func (c *Collection[T]) visible(items []T) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if c.def.Visible == nil || c.def.Visible(item) {
			out = append(out, item)
		}
	}
	return out
}
