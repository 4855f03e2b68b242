package bootstrap

import (
	"context"
	"errors"
	"time"

	"coachflow/internal/logger"
	"coachflow/pkg/metrics"
	"coachflow/pkg/retry"
)

var errSessionEnded = errors.New("session ended")

// Supervise runs session until ctx is canceled, starting it again after
// delay whenever it returns. A session that returns a fatal error stops
// supervision with that error.
func Supervise(ctx context.Context, name string, delay time.Duration, log logger.Logger, session func(ctx context.Context) error) error {
	err := retry.Forever(ctx, delay, func(ctx context.Context) error {
		err := session(ctx)
		if err == nil && ctx.Err() == nil {
			return errSessionEnded
		}
		return err
	}, func(attempt int, err error, next time.Duration) {
		metrics.BrokerReconnectsTotal.Inc()
		log.Warnw("Session stopped, restarting",
			"session", name,
			"attempt", attempt,
			"error", err,
			"next_retry", next,
		)
	})

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return nil
		}
	}
	return err
}
