package common

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Retry runs op with exponential backoff until it succeeds, returns a
// backoff.Permanent error, or maxElapsed passes. It is meant for waiting on
// dependencies at startup.
func Retry(ctx context.Context, logger zerolog.Logger, name string, maxElapsed time.Duration, op func(context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = maxElapsed

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return op(ctx)
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		logger.Warn().Err(err).Str("dependency", name).Int("attempt", attempt).Dur("retry_in", wait).Msg("dependency not ready")
	})
}
