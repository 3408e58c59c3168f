// Package ratelimit is the shared RPC rate gate spec.md §4.1 describes: a
// calls_per_minute budget enforced so no RPC method begins before 60/N
// seconds have elapsed since the previous RPC begin. Built on
// golang.org/x/time/rate, a direct teacher dependency.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Gate enforces a minimum interval between RPC method begins.
type Gate struct {
	limiter *rate.Limiter
}

// New builds a Gate from a calls-per-minute budget. A non-positive budget
// disables limiting entirely (unbounded rate).
func New(callsPerMinute int) *Gate {
	if callsPerMinute <= 0 {
		return &Gate{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	interval := time.Minute / time.Duration(callsPerMinute)
	// Burst of 1: every call must individually wait out the interval since
	// the previous begin, matching the single shared gate spec.md describes
	// rather than a bucket that lets bursts through.
	return &Gate{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the gate permits the next RPC method to begin, or
// returns ctx.Err() if ctx is canceled first.
func (g *Gate) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}
