package fetch

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Gate spaces requests to the archive. One Gate is shared by every worker;
// each HTTP attempt waits on it, retries included.
type Gate struct {
	interval time.Duration
	limiter  *rate.Limiter
}

// NewGate allows one request per interval with no burst. A non-positive
// interval disables the gate.
func NewGate(interval time.Duration) *Gate {
	if interval <= 0 {
		return &Gate{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Gate{interval: interval, limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next request may go out or ctx ends.
func (g *Gate) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}

// Interval is the configured spacing.
func (g *Gate) Interval() time.Duration { return g.interval }
