// Package retry runs operations under a bounded exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a deterministic exponential backoff: the delay before
// retry n (0-based) is min(Base*2^n, Max). Attempts counts the first call.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// QueuePolicy applies to every queue transport call.
var QueuePolicy = Policy{Attempts: 3, Base: time.Second, Max: 10 * time.Second}

// EmbeddingPolicy applies to embedding calls during ingestion.
var EmbeddingPolicy = Policy{Attempts: 3, Base: 2 * time.Second, Max: 30 * time.Second}

// Permanent marks err as non-retryable. Do returns the wrapped error unchanged.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, returns a permanent error, the attempts are
// exhausted or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		return op(ctx)
	}
	notify := func(err error, next time.Duration) {
		slog.WarnContext(ctx, "operation failed, retrying", "operation", name, "attempt", attempt, "max_attempts", p.Attempts, "retry_in", next, "error", err)
	}
	return backoff.RetryNotify(operation, p.backOff(ctx), notify)
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Base
	eb.MaxInterval = p.Max
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	retries := p.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}
