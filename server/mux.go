package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mdp2021s129-bot/hdcomm/message"
	"github.com/mdp2021s129-bot/hdcomm/middleware"
)

// ErrNoHandler is returned by Mux for request tags nobody registered.
var ErrNoHandler = errors.New("server: no handler for request")

// Mux dispatches requests by payload tag.
type Mux struct {
	mu       sync.RWMutex
	handlers map[message.RPCTag]middleware.HandlerFunc
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[message.RPCTag]middleware.HandlerFunc)}
}

// Handle registers h for requests carrying tag. A later registration for the
// same tag replaces the earlier one.
func (m *Mux) Handle(tag message.RPCTag, h middleware.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[tag] = h
}

// ServeRPC has the HandlerFunc signature so it can sit at the bottom of a
// middleware chain.
func (m *Mux) ServeRPC(ctx context.Context, req message.RPCPayload) (message.RPCPayload, error) {
	m.mu.RLock()
	h, ok := m.handlers[req.RPCTag()]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, req.RPCTag())
	}
	return h(ctx, req)
}
