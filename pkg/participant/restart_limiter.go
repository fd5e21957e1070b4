package participant

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/jitsi-contrib/jicofo-go/pkg/jicofoerr"
)

// Clock is injected so RestartLimiter is deterministically testable (spec.md §4.6: "the
// clock source is injected to permit deterministic testing").
type Clock func() time.Time

// DefaultMaxRestarts and DefaultRestartWindow are the default limiter bounds: a burst of
// 3 session-restart requests per participant, then one more every 20 seconds (60s/3).
// This is a rolling rate, not a cap on the count within any trailing 60-second span.
const (
	DefaultMaxRestarts   = 3
	DefaultRestartWindow = 60 * time.Second
)

// RestartLimiter is a per-participant token-bucket limiter over transport-replace (ICE
// restart) requests: a burst of max requests is allowed immediately, refilling at
// max/window per second, approximating the "at most max per window" budget without
// pinning memory to a growing timestamp slice.
type RestartLimiter struct {
	clock   Clock
	limiter *rate.Limiter
}

// NewRestartLimiter creates a limiter with explicit bounds and clock.
func NewRestartLimiter(clock Clock, max int, window time.Duration) *RestartLimiter {
	return &RestartLimiter{
		clock:   clock,
		limiter: rate.NewLimiter(rate.Every(window/time.Duration(max)), max),
	}
}

// NewDefaultRestartLimiter creates a limiter using the spec.md §4.6 defaults.
func NewDefaultRestartLimiter(clock Clock) *RestartLimiter {
	return NewRestartLimiter(clock, DefaultMaxRestarts, DefaultRestartWindow)
}

// Allow records one restart attempt if the bucket has a token to spend, or returns
// ErrRateLimited (the caller rejects the Jingle request with resource_constraint).
func (r *RestartLimiter) Allow() error {
	if !r.limiter.AllowN(r.clock(), 1) {
		return jicofoerr.ErrRateLimited
	}
	return nil
}
