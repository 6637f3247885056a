package ranking

import (
	"time"

	"github.com/okian/roastboard/pkg/logger"
)

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithDefaultLimit sets the limit used when a query has none.
func WithDefaultLimit(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.defaultLimit = n
		}
	}
}

// WithCacheTTL sets the freshness window; zero or negative disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(a *Aggregator) {
		a.cacheTTL = ttl
	}
}

// WithCacheSize bounds the number of cached session dates.
func WithCacheSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.cacheSize = n
		}
	}
}

// WithLocation sets the timezone "today" is computed in.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}
