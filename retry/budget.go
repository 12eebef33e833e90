package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

const defaultJitter = 0.1

// budget counts the attempts of a policy and holds the settings every policy shares.
type budget struct {
	attempts int // 0 is unlimited
	made     int
	jitter   float64
	cooldown time.Duration
}

func newBudget(attempts int, jitter float64) budget {
	if attempts < 0 {
		panic("attempts can't be < 0")
	}
	return budget{attempts: attempts, jitter: jitter}
}

// Cooldown returns the configured cooldown.
func (b *budget) Cooldown() time.Duration {
	return b.cooldown
}

func (b *budget) unlimited() bool {
	return b.attempts == 0
}

func (b *budget) setJitter(jitter float64) {
	if jitter < 0 {
		panic("jitter can't be < 0")
	}
	if jitter >= 1 {
		panic("jitter can't be >= 1")
	}
	b.jitter = jitter
}

func (b *budget) setCooldown(cooldown time.Duration) {
	if b.unlimited() && cooldown > 0 {
		panic("can't set cooldown with infinite attempts")
	}
	if cooldown < 0 {
		panic("cooldown can't be < 0")
	}
	b.cooldown = cooldown
}

// next waits for the backoff of the upcoming attempt and reports whether it may be made. The
// first attempt never waits. backoff receives the number of attempts made so far.
func (b *budget) next(ctx context.Context, backoff func(made int) time.Duration) bool {
	if !b.unlimited() && b.made >= b.attempts {
		return false
	}

	var ok bool
	if b.made == 0 {
		ok = ctx.Err() == nil
	} else {
		ok = sleep(ctx, spread(backoff(b.made), b.jitter))
	}

	if ok {
		b.made++
	}
	return ok
}

// spread moves d by up to ±jitter*d.
func spread(d time.Duration, jitter float64) time.Duration {
	if jitter == 0 {
		return d
	}
	m := rand.Float64()*2 - 1
	return d + time.Duration(m*jitter*float64(d))
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
