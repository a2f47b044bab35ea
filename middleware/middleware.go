// Package middleware wraps RPC handlers in onion layers.
//
// The same HandlerFunc shape serves both ends of the link: client.Proxy runs
// every outgoing call through a chain, and the device emulator in server runs
// every incoming request through one.
//
//	Chain(A, B, C)(h):  A → B → C → h → C → B → A
package middleware

import (
	"context"

	"github.com/mdp2021s129-bot/hdcomm/message"
)

// HandlerFunc turns a request payload into its reply payload.
type HandlerFunc func(ctx context.Context, req message.RPCPayload) (message.RPCPayload, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
