// Package client is the host API for talking to the device.
//
// A Proxy turns typed method calls into RPC messages and waits for the reply
// the router delivers for the same id. Any number of goroutines may share one
// Proxy:
//
//	goroutine-1 ──Ping()  id=1──┐                   ┌── reply id=2 ──→ goroutine-2
//	goroutine-2 ──Move()  id=2──┼──→ sink mutex ──→ link ──→ Router ─┤
//	goroutine-3 ──Pwm()   id=3──┘                   └── reply id=1 ──→ goroutine-1
//
// Replies may come back in any order; each caller only sees its own.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mdp2021s129-bot/hdcomm/message"
	"github.com/mdp2021s129-bot/hdcomm/middleware"
	"github.com/mdp2021s129-bot/hdcomm/router"
)

// Sink is the writing half of the link. transport.Conn implements it.
type Sink interface {
	WriteMessage(m message.Message) error
}

// Proxy issues RPCs over one link.
type Proxy struct {
	sink   Sink
	handle router.Handle
	linkID string

	sending sync.Mutex // Write lock: one frame on the wire at a time
	lastID  atomic.Uint32

	mws     []middleware.Middleware
	handler middleware.HandlerFunc
}

// NewProxy creates a proxy writing to sink and waiting on handle. Middlewares
// wrap every call, outermost first.
func NewProxy(sink Sink, handle router.Handle, mws ...middleware.Middleware) *Proxy {
	p := &Proxy{sink: sink, handle: handle}
	p.Use(mws...)
	return p
}

// Use appends middlewares to the call chain. It must not race with calls.
func (p *Proxy) Use(mws ...middleware.Middleware) {
	p.mws = append(p.mws, mws...)
	p.handler = middleware.Chain(p.mws...)(p.invoke)
}

// LinkID identifies the link in logs. It is empty for proxies built with
// NewProxy.
func (p *Proxy) LinkID() string {
	return p.linkID
}

// nextID hands out ids 1, 2, ... 65535, 0, 1, ...
func (p *Proxy) nextID() uint16 {
	return uint16(p.lastID.Add(1))
}

func (p *Proxy) send(m message.Message) error {
	p.sending.Lock()
	defer p.sending.Unlock()
	return p.sink.WriteMessage(m)
}

// invoke is the innermost handler: one request on the wire, one reply back.
func (p *Proxy) invoke(ctx context.Context, req message.RPCPayload) (message.RPCPayload, error) {
	id := p.nextID()

	// Register BEFORE sending, or a fast reply could find no waiter.
	w, err := p.handle.Register(id)
	if err != nil {
		return nil, err
	}
	if err := p.send(message.RPC{ID: id, Payload: req}); err != nil {
		w.Release()
		return nil, err
	}
	return w.Wait(ctx)
}

// Call sends req and returns the reply after checking it is the variant that
// answers req.
func (p *Proxy) Call(ctx context.Context, req message.RPCPayload) (message.RPCPayload, error) {
	want, ok := message.ReplyTag(req.RPCTag())
	if !ok {
		return nil, fmt.Errorf("client: %s has no reply, use End", req.RPCTag())
	}
	rep, err := p.handler(ctx, req)
	if err != nil {
		return nil, err
	}
	if rep.RPCTag() != want {
		return nil, fmt.Errorf("%w: %s answered with %s", ErrBadResponse, req.RPCTag(), rep.RPCTag())
	}
	return rep, nil
}

func call[Rep message.RPCPayload](ctx context.Context, p *Proxy, req message.RPCPayload) (Rep, error) {
	var zero Rep
	rep, err := p.handler(ctx, req)
	if err != nil {
		return zero, err
	}
	r, ok := rep.(Rep)
	if !ok {
		return zero, fmt.Errorf("%w: %s answered with %s", ErrBadResponse, req.RPCTag(), rep.RPCTag())
	}
	return r, nil
}

// Ping returns the device clock.
func (p *Proxy) Ping(ctx context.Context) (message.PingRep, error) {
	return call[message.PingRep](ctx, p, message.PingReq{})
}

// Move starts a motion profile. The reply says whether it was accepted or the
// device was busy with a previous move.
func (p *Proxy) Move(ctx context.Context, req message.MoveReq) (message.MoveRep, error) {
	return call[message.MoveRep](ctx, p, req)
}

func (p *Proxy) MoveStatus(ctx context.Context) (message.MoveStatusRep, error) {
	return call[message.MoveStatusRep](ctx, p, message.MoveStatusReq{})
}

func (p *Proxy) MoveCancel(ctx context.Context) error {
	_, err := call[message.MoveCancelRep](ctx, p, message.MoveCancelReq{})
	return err
}

// PidParamUpdate replaces the wheel controller gains, left wheel first.
func (p *Proxy) PidParamUpdate(ctx context.Context, req message.PidParamUpdateReq) error {
	_, err := call[message.PidParamUpdateRep](ctx, p, req)
	return err
}

func (p *Proxy) RawTeleOp(ctx context.Context, req message.RawTeleOpReq) error {
	_, err := call[message.RawTeleOpRep](ctx, p, req)
	return err
}

func (p *Proxy) GetFrontDistance(ctx context.Context) (message.GetFrontDistanceRep, error) {
	return call[message.GetFrontDistanceRep](ctx, p, message.GetFrontDistanceReq{})
}

// Pwm sets the status LED colour.
func (p *Proxy) Pwm(ctx context.Context, req message.PwmReq) error {
	_, err := call[message.PwmRep](ctx, p, req)
	return err
}

// End tells the device the session is over. The device does not answer, so
// nothing is registered and End returns once the frame is written.
func (p *Proxy) End() error {
	return p.send(message.RPC{ID: p.nextID(), Payload: message.EndReq{}})
}

// Subscribe returns a reader for telemetry published from now on.
func (p *Proxy) Subscribe() *router.Subscription[message.StreamPayload] {
	return p.handle.Subscribe()
}
