// Package retry contains the [Policy] interface used by the journal to retry failed storage
// operations, together with several implementations.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy defines how a failed storage operation is retried.
//
// Implementations are not thread-safe. Each retried operation uses its own instance obtained
// with Derive.
type Policy interface {
	// Attempt checks if another attempt should be made.
	//
	// It blocks until the attempt can be made or the context is canceled. The first call never
	// blocks. Returns false if no attempts remain or the context is canceled.
	Attempt(ctx context.Context) bool
	// Cooldown returns the duration a released batch stays unavailable before it can be claimed
	// again.
	Cooldown() time.Duration
	// Derive returns a fresh instance with the same configuration and no attempts made.
	Derive() Policy
}

// ErrExhausted is returned by [Do] when the policy allows no more attempts.
var ErrExhausted = errors.New("retry attempts exhausted")

// Do calls fn until it succeeds or a derived instance of policy stops allowing attempts. The
// returned error wraps both [ErrExhausted] and the last error of fn. If the context is canceled
// before the first attempt, its error is returned.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	var (
		p       = policy.Derive()
		lastErr error
		tries   int
	)
	for p.Attempt(ctx) {
		tries++
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	if lastErr == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrExhausted
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, tries, lastErr)
}
