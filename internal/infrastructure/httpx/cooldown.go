package httpx

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Cooldown enforces a minimum interval between the completion of one request
// and the start of the next. A single Cooldown is shared by every caller that
// talks to the same upstream, so the budget is process-wide rather than per query.
type Cooldown struct {
	// slot holds one token while a caller owns the gate.
	slot     chan struct{}
	interval time.Duration
	bucket   *rate.Limiter
}

// NewCooldown builds a gate with the given minimum interval. Zero disables waiting.
func NewCooldown(interval time.Duration) *Cooldown {
	c := &Cooldown{interval: interval, slot: make(chan struct{}, 1)}
	if interval > 0 {
		c.bucket = rate.NewLimiter(rate.Every(interval), 1)
	}
	return c
}

// Do suspends until the gate is free and the cooldown has elapsed, runs fn,
// and restarts the cooldown from fn's completion regardless of its outcome.
// A caller queued behind another request returns as soon as ctx is done.
func (c *Cooldown) Do(ctx context.Context, fn func() error) error {
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.slot }()

	if err := ctx.Err(); err != nil {
		return err
	}
	if c.bucket == nil {
		return fn()
	}

	if wait := c.remaining(time.Now()); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	err := fn()
	c.bucket.ReserveN(time.Now(), 1)
	return err
}

// remaining reports how long until a full token is available, without consuming it.
func (c *Cooldown) remaining(now time.Time) time.Duration {
	tokens := c.bucket.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) * float64(c.interval))
}
