// Package retry ограниченные повторы с экспоненциальной задержкой.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy сколько попыток и с какой задержкой.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Permanent оборачивает ошибку, после которой повторять бессмысленно.
func Permanent(err error) error { return backoff.Permanent(err) }

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	if p.MaxDelay > 0 {
		eb.MaxInterval = p.MaxDelay
	}
	eb.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// Do вызывает op до MaxAttempts раз. onRetry (может быть nil) вызывается перед каждой паузой.
func Do(ctx context.Context, p Policy, op func(attempt int) error, onRetry func(err error, wait time.Duration)) error {
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return op(attempt)
	}, p.backOff(ctx), onRetry)
}
