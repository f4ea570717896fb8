package server

import (
	"context"
	"time"

	"staffdesk/internal/middleware"

	"github.com/cenkalti/backoff/v5"
)

const maxSubscribeInterval = 30 * time.Second

// runArtifactSubscriber keeps calling start until it succeeds or ctx is done.
// Until then artifact acks are lost, so every artifact update is recorded as
// failed.
func runArtifactSubscriber(ctx context.Context, start func(context.Context) error, initial time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxSubscribeInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, start(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			middleware.Logger.Warn().Err(err).Dur("retry_in", next).Msg("artifact subscriber unavailable, retrying")
		}),
	)
	return err
}
