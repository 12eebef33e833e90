package retry

import (
	"context"
	"time"
)

// Fixed waits the same interval, with jitter, between attempts.
type Fixed struct {
	budget
	interval time.Duration
}

var _ Policy = (*Fixed)(nil)

func NewFixed(attempts int, interval time.Duration) *Fixed {
	if interval < 0 {
		panic("interval can't be < 0")
	}
	return &Fixed{
		budget:   newBudget(attempts, defaultJitter),
		interval: interval,
	}
}

func (r *Fixed) WithJitter(jitter float64) *Fixed {
	r.setJitter(jitter)
	return r
}

func (r *Fixed) WithCooldown(cooldown time.Duration) *Fixed {
	r.setCooldown(cooldown)
	return r
}

func (r *Fixed) Attempt(ctx context.Context) bool {
	return r.next(ctx, func(int) time.Duration { return r.interval })
}

func (r *Fixed) Derive() Policy {
	d := *r
	d.made = 0
	return &d
}
