package httputil

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is a token-bucket throttle shared by all requests a client makes
// to one host. A nil *Limiter never blocks.
type Limiter struct {
	inner *rate.Limiter
}

// NewLimiter creates a limiter allowing perSecond requests per second with
// the given burst. perSecond <= 0 disables throttling and returns nil.
func NewLimiter(perSecond float64, burst int) *Limiter {
	if perSecond <= 0 {
		return nil
	}
	return &Limiter{inner: rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.inner.Wait(ctx)
}
