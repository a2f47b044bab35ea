package middleware

import (
	"context"
	"time"

	"github.com/mdp2021s129-bot/hdcomm/logx"
	"github.com/mdp2021s129-bot/hdcomm/message"
)

func LoggingMiddleware() Middleware {
	logger := logx.With("rpc")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.RPCPayload) (message.RPCPayload, error) {
			start := time.Now()
			rep, err := next(ctx, req)
			// Print the payload tag and the time taken, and the error if any
			ev := logger.Debug()
			if err != nil {
				ev = logger.Warn().Err(err)
			}
			ev.Stringer("method", req.RPCTag()).Dur("duration", time.Since(start)).Msg("rpc")
			return rep, err
		}
	}
}
