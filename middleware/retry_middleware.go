package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/mdp2021s129-bot/hdcomm/logx"
	"github.com/mdp2021s129-bot/hdcomm/message"
	"github.com/mdp2021s129-bot/hdcomm/router"
)

// RetryMiddleware re-issues a call that failed because its id was busy or
// because an inner deadline expired, backing off exponentially from baseDelay.
// Only use it around idempotent requests or below a TimeOutMiddleware that is
// meant to be retried.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	logger := logx.With("rpc")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.RPCPayload) (message.RPCPayload, error) {
			rep, err := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !retryable(ctx, err) {
					return rep, err
				}
				logger.Info().Err(err).Int("attempt", i+1).Stringer("method", req.RPCTag()).Msg("retrying")

				select {
				case <-time.After(baseDelay * time.Duration(1<<i)): // Exponential backoff
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				rep, err = next(ctx, req)
			}
			return rep, err // Return last result after retries
		}
	}
}

// retryable: the id was busy, or a deadline below us fired while the caller's
// own context is still live.
func retryable(ctx context.Context, err error) bool {
	if errors.Is(err, router.ErrTooManyInFlight) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
}
