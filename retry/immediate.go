package retry

import (
	"context"
	"time"
)

// Immediate makes the next attempt right away.
type Immediate struct {
	budget
}

var _ Policy = (*Immediate)(nil)

// NewImmediate returns a policy allowing the given number of attempts. Zero means an unlimited
// number of attempts.
func NewImmediate(attempts int) *Immediate {
	return &Immediate{budget: newBudget(attempts, 0)}
}

func (r *Immediate) WithCooldown(cooldown time.Duration) *Immediate {
	r.setCooldown(cooldown)
	return r
}

func (r *Immediate) Attempt(ctx context.Context) bool {
	return r.next(ctx, func(int) time.Duration { return 0 })
}

func (r *Immediate) Derive() Policy {
	d := *r
	d.made = 0
	return &d
}
