package retry

import (
	"context"
	"math"
	"time"
)

// Exponential multiplies the interval between attempts by a base, up to a maximum.
type Exponential struct {
	budget
	base        float64
	minInterval time.Duration
	maxInterval time.Duration
}

var _ Policy = (*Exponential)(nil)

// NewExponential returns a policy whose intervals start at minInterval and double after every
// attempt until they reach maxInterval.
func NewExponential(attempts int, minInterval, maxInterval time.Duration) *Exponential {
	validateRange(minInterval, maxInterval)

	return &Exponential{
		budget:      newBudget(attempts, defaultJitter),
		base:        2,
		minInterval: minInterval,
		maxInterval: maxInterval,
	}
}

func (r *Exponential) WithBase(base float64) *Exponential {
	if base <= 1 {
		panic("base can't be <= 1")
	}
	r.base = base
	return r
}

func (r *Exponential) WithJitter(jitter float64) *Exponential {
	r.setJitter(jitter)
	return r
}

func (r *Exponential) WithCooldown(cooldown time.Duration) *Exponential {
	r.setCooldown(cooldown)
	return r
}

func (r *Exponential) Attempt(ctx context.Context) bool {
	return r.next(ctx, r.backoff)
}

func (r *Exponential) Derive() Policy {
	d := *r
	d.made = 0
	return &d
}

func (r *Exponential) backoff(made int) time.Duration {
	interval := float64(r.minInterval) * math.Pow(r.base, float64(made-1))
	if math.IsInf(interval, 0) || interval >= float64(r.maxInterval) {
		return r.maxInterval
	}
	return time.Duration(interval)
}
