// Package imagecache stores fetched image payloads in the shared TTL cache
// under a key derived from the image identity and the requested resolution.
package imagecache

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/chentyke/chargebaby-sub000/internal/ttlcache"
)

const (
	// KeyPrefix namespaces image entries in the shared cache.
	KeyPrefix = "image:"
	// DefaultTTL is how long a fetched image stays servable.
	DefaultTTL = 7 * 24 * time.Hour

	auto = "auto"
)

// DefaultUpstreamHosts are the hosts serving signed upstream file URLs.
var DefaultUpstreamHosts = []string{
	"prod-files-secure.s3.us-west-2.amazonaws.com",
	"s3.us-west-2.amazonaws.com",
	"file.notion.so",
	"www.notion.so",
}

// Resolution is the requested output size. A zero field means "auto".
type Resolution struct {
	Width   int
	Height  int
	Quality int
}

func (r Resolution) suffix() string {
	return "|w=" + dim(r.Width) + "|h=" + dim(r.Height) + "|q=" + dim(r.Quality)
}

func dim(v int) string {
	if v <= 0 {
		return auto
	}
	return strconv.Itoa(v)
}

// Image is a cached payload.
type Image struct {
	Body        []byte
	ContentType string
}

type Cache struct {
	store *ttlcache.Cache[any]
	ttl   time.Duration
	hosts []string
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithUpstreamHosts replaces the hosts recognized by IsUpstreamHosted.
func WithUpstreamHosts(hosts []string) Option {
	return func(c *Cache) {
		c.hosts = c.hosts[:0]
		for _, h := range hosts {
			h = strings.ToLower(strings.TrimSpace(h))
			if h != "" {
				c.hosts = append(c.hosts, h)
			}
		}
	}
}

func New(store *ttlcache.Cache[any], opts ...Option) *Cache {
	c := &Cache{
		store: store,
		ttl:   DefaultTTL,
		hosts: append([]string(nil), DefaultUpstreamHosts...),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached image. Expired images are misses and are never
// served stale.
func (c *Cache) Get(rawURL string, res Resolution) (Image, bool) {
	v, ok := c.store.Get(Key(rawURL, res), false)
	if !ok {
		return Image{}, false
	}
	img, ok := v.(Image)
	return img, ok
}

// Set stores img without auto-refresh. The body is retained, not copied.
func (c *Cache) Set(rawURL string, img Image, res Resolution) {
	c.store.Set(Key(rawURL, res), img, c.ttl)
}

// Purge drops every cached image and returns how many were removed.
func (c *Cache) Purge() int {
	return c.store.DeleteByPrefix(KeyPrefix)
}

// IsUpstreamHosted reports whether rawURL points at a host whose URLs carry
// expiring signatures and must be proxied.
func (c *Cache) IsUpstreamHosted(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range c.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Key derives the cache key. The query string and fragment are dropped so
// that re-signed URLs of the same file share an entry.
func Key(rawURL string, res Resolution) string {
	return KeyPrefix + strconv.FormatUint(xxhash.Sum64String(Canonical(rawURL)+res.suffix()), 16)
}

// Canonical returns scheme, host and path of rawURL with scheme and host
// lowercased.
func Canonical(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
			return rawURL[:i]
		}
		return rawURL
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + u.EscapedPath()
}

// Transform appends the requested resolution to rawURL as width, height and
// quality parameters, leaving the existing query untouched.
func Transform(rawURL string, res Resolution) string {
	var params []string
	if res.Width > 0 {
		params = append(params, "width="+strconv.Itoa(res.Width))
	}
	if res.Height > 0 {
		params = append(params, "height="+strconv.Itoa(res.Height))
	}
	if res.Quality > 0 {
		params = append(params, "quality="+strconv.Itoa(res.Quality))
	}
	if len(params) == 0 {
		return rawURL
	}

	base, fragment, hasFragment := strings.Cut(rawURL, "#")
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
		if strings.HasSuffix(base, "?") || strings.HasSuffix(base, "&") {
			sep = ""
		}
	}
	out := base + sep + strings.Join(params, "&")
	if hasFragment {
		out += "#" + fragment
	}
	return out
}
