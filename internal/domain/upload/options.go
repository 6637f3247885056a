package upload

import (
	"time"

	"github.com/okian/roastboard/pkg/logger"
)

// Option configures an Issuer.
type Option func(*Issuer)

// WithBaseURL sets the public origin upload URLs are built on.
func WithBaseURL(u string) Option {
	return func(i *Issuer) {
		if u != "" {
			i.baseURL = u
		}
	}
}

// WithTTL sets the capability validity window.
func WithTTL(d time.Duration) Option {
	return func(i *Issuer) {
		if d > 0 {
			i.ttl = d
		}
	}
}

// WithRetention sets how long a submission is kept.
func WithRetention(d time.Duration) Option {
	return func(i *Issuer) {
		if d > 0 {
			i.retention = d
		}
	}
}

// WithLocation sets the timezone session dates are derived in.
func WithLocation(loc *time.Location) Option {
	return func(i *Issuer) {
		if loc != nil {
			i.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// WithIDGenerator replaces the uuid generator.
func WithIDGenerator(gen func() string) Option {
	return func(i *Issuer) {
		if gen != nil {
			i.newID = gen
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(i *Issuer) {
		if l != nil {
			i.log = l
		}
	}
}
