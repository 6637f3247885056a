package scoring

import (
	"time"

	"github.com/okian/roastboard/internal/domain/retry"
	"github.com/okian/roastboard/pkg/logger"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRetryPolicy sets the attempt budget and backoff shared by transcription and grading.
// Each stage gets its own budget.
func WithRetryPolicy(maxAttempts int, baseDelay time.Duration, factor float64) Option {
	return func(p *Pipeline) {
		if maxAttempts > 0 {
			p.policy.MaxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			p.policy.BaseDelay = baseDelay
		}
		if factor >= 1 {
			p.policy.Factor = factor
		}
	}
}

// WithRetryTimer supplies a fresh backoff timer for every retry loop.
func WithRetryTimer(newTimer func() retry.Timer) Option {
	return func(p *Pipeline) {
		p.newTimer = newTimer
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}
