package middleware

import (
	"context"
	"time"

	"github.com/mdp2021s129-bot/hdcomm/message"
	"github.com/mdp2021s129-bot/hdcomm/metrics"
)

// MetricsMiddleware counts calls and observes their round trip time, labelled
// by request payload.
func MetricsMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req message.RPCPayload) (message.RPCPayload, error) {
			start := time.Now()
			rep, err := next(ctx, req)
			metrics.RecordCall(req.RPCTag().String(), err, time.Since(start))
			return rep, err
		}
	}
}
