package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mdp2021s129-bot/hdcomm/message"
)

// ErrTimeout is returned when the wrapped handler did not finish in time. It
// also matches the context error that ended the call.
var ErrTimeout = errors.New("request timed out")

func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.RPCPayload) (message.RPCPayload, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				rep message.RPCPayload
				err error
			}
			done := make(chan result, 1)
			go func() {
				rep, err := next(ctx, req)
				done <- result{rep, err}
			}()

			select {
			case r := <-done:
				return r.rep, r.err
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
			}
		}
	}
}
