package ttlcache

// Metrics receives cache lifecycle events. Implementations must be safe for
// concurrent use and must not block.
type Metrics interface {
	Hit()
	Miss()
	StaleHit()
	Expire()
	RefreshSucceeded()
	RefreshFailed()
}

// NoopMetrics discards every event.
type NoopMetrics struct{}

func (NoopMetrics) Hit()              {}
func (NoopMetrics) Miss()             {}
func (NoopMetrics) StaleHit()         {}
func (NoopMetrics) Expire()           {}
func (NoopMetrics) RefreshSucceeded() {}
func (NoopMetrics) RefreshFailed()    {}
