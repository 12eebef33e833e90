package retry

import (
	"context"
	"time"
)

// Linear grows the interval between attempts by a constant step, up to a maximum.
type Linear struct {
	budget
	minInterval time.Duration
	maxInterval time.Duration
	step        time.Duration
}

var _ Policy = (*Linear)(nil)

// NewLinear returns a policy whose intervals grow from minInterval to maxInterval. With a
// finite number of attempts, the default step reaches maxInterval on the last attempt.
func NewLinear(attempts int, minInterval, maxInterval time.Duration) *Linear {
	validateRange(minInterval, maxInterval)
	b := newBudget(attempts, defaultJitter)

	var step time.Duration
	switch {
	case b.unlimited():
		step = minInterval
	case attempts > 2:
		step = (maxInterval - minInterval) / time.Duration(attempts-2)
	}

	return &Linear{
		budget:      b,
		minInterval: minInterval,
		maxInterval: maxInterval,
		step:        step,
	}
}

func (r *Linear) WithStep(step time.Duration) *Linear {
	if step <= 0 {
		panic("step can't be <= 0")
	}
	r.step = step
	return r
}

func (r *Linear) WithJitter(jitter float64) *Linear {
	r.setJitter(jitter)
	return r
}

func (r *Linear) WithCooldown(cooldown time.Duration) *Linear {
	r.setCooldown(cooldown)
	return r
}

func (r *Linear) Attempt(ctx context.Context) bool {
	return r.next(ctx, r.backoff)
}

func (r *Linear) Derive() Policy {
	d := *r
	d.made = 0
	return &d
}

func (r *Linear) backoff(made int) time.Duration {
	if r.step == 0 {
		return r.minInterval
	}
	// Compare step counts first so that long unlimited runs can't overflow.
	steps := made - 1
	if steps > int((r.maxInterval-r.minInterval)/r.step) {
		return r.maxInterval
	}
	return r.minInterval + r.step*time.Duration(steps)
}

func validateRange(minInterval, maxInterval time.Duration) {
	if minInterval <= 0 {
		panic("minInterval can't be <= 0")
	}
	if minInterval >= maxInterval {
		panic("minInterval can't be >= maxInterval")
	}
}
