// Package metrics exposes cache, upstream and image counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chargebaby"

// Cache event labels.
const (
	EventHit           = "hit"
	EventMiss          = "miss"
	EventStaleHit      = "stale_hit"
	EventExpire        = "expire"
	EventRefreshOK     = "refresh_ok"
	EventRefreshFailed = "refresh_failed"
)

// Collector implements ttlcache.Metrics and notion.Observer and counts image
// responses by result.
type Collector struct {
	cacheEvents   *prometheus.CounterVec
	fetchAttempts *prometheus.CounterVec
	imageResults  *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	cacheEntries  prometheus.GaugeFunc
}

// New registers the collectors on reg. size reports the current number of
// cache entries and may be nil.
func New(reg prometheus.Registerer, size func() int) *Collector {
	c := &Collector{
		cacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "events_total",
				Help:      "Cache lookups and refreshes by event",
			},
			[]string{"event"},
		),
		fetchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "attempts_total",
				Help:      "Upstream fetch attempts by error class and outcome",
			},
			[]string{"class", "outcome"},
		),
		imageResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "image",
				Name:      "responses_total",
				Help:      "Image proxy responses by cache result",
			},
			[]string{"result"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by method, route and status class",
			},
			[]string{"method", "route", "status"},
		),
	}
	reg.MustRegister(c.cacheEvents, c.fetchAttempts, c.imageResults, c.httpRequests)

	if size != nil {
		c.cacheEntries = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "entries",
				Help:      "Number of entries currently held",
			},
			func() float64 { return float64(size()) },
		)
		reg.MustRegister(c.cacheEntries)
	}
	return c
}

func (c *Collector) Hit()              { c.cacheEvents.WithLabelValues(EventHit).Inc() }
func (c *Collector) Miss()             { c.cacheEvents.WithLabelValues(EventMiss).Inc() }
func (c *Collector) StaleHit()         { c.cacheEvents.WithLabelValues(EventStaleHit).Inc() }
func (c *Collector) Expire()           { c.cacheEvents.WithLabelValues(EventExpire).Inc() }
func (c *Collector) RefreshSucceeded() { c.cacheEvents.WithLabelValues(EventRefreshOK).Inc() }
func (c *Collector) RefreshFailed()    { c.cacheEvents.WithLabelValues(EventRefreshFailed).Inc() }

// Attempt records one upstream attempt.
func (c *Collector) Attempt(class, outcome string) {
	c.fetchAttempts.WithLabelValues(class, outcome).Inc()
}

// Image records one image response, e.g. HIT, MISS or PLACEHOLDER.
func (c *Collector) Image(result string) {
	c.imageResults.WithLabelValues(result).Inc()
}

// HTTPRequest records one served request.
func (c *Collector) HTTPRequest(method, route string, status int) {
	c.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
}

func statusClass(code int) string {
	switch {
	case code >= 100 && code < 200:
		return "1xx"
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "0"
	}
}
