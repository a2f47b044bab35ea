// Package router demultiplexes the host side of the link.
//
// A single goroutine runs Router.Run and is the only reader of the link. Every
// message it reads goes one of two ways:
//
//	                         ┌── RPC{id} ──→ waiters[id] ──→ the caller blocked in Waiter.Wait
//	link ──→ ReadMessage ────┤               (no waiter: dropped, counted)
//	                         └── Stream ───→ Broadcast ──→ every Subscription
//
// Callers register a waiter for an id BEFORE the request goes out, so a reply
// that arrives immediately always finds its slot. When the link fails every
// pending waiter is released with ErrDisconnected and every subscription ends.
package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/mdp2021s129-bot/hdcomm/logx"
	"github.com/mdp2021s129-bot/hdcomm/message"
	"github.com/mdp2021s129-bot/hdcomm/metrics"
	"github.com/mdp2021s129-bot/hdcomm/transport"
)

var (
	// ErrTooManyInFlight is returned by Register when an unresolved waiter
	// already holds the id.
	ErrTooManyInFlight = errors.New("router: rpc id already in flight")
	// ErrDisconnected is returned once the router has shut down.
	ErrDisconnected = errors.New("router: disconnected")
)

// Source is the reading half of the link. transport.Conn implements it.
//
// Close must unblock a pending ReadMessage.
type Source interface {
	ReadMessage() (message.Message, error)
	Close() error
}

type options struct {
	streamCapacity int
	logger         *zerolog.Logger
}

// Option configures a Router.
type Option func(*options)

// WithStreamCapacity sets how many stream payloads are retained for slow
// subscribers.
func WithStreamCapacity(n int) Option {
	return func(o *options) { o.streamCapacity = n }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// Router owns the read side of one link.
type Router struct {
	src Source
	log zerolog.Logger

	mu      sync.Mutex
	waiters map[uint16]*Waiter
	down    bool

	stream *Broadcast[message.StreamPayload]

	closing  atomic.Bool
	downOnce sync.Once
	done     chan struct{}
}

// New creates a router reading from src. Nothing is read until Run is called.
func New(src Source, opts ...Option) *Router {
	o := options{streamCapacity: DefaultStreamCapacity}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Router{
		src:     src,
		waiters: make(map[uint16]*Waiter),
		stream:  NewBroadcast[message.StreamPayload](o.streamCapacity),
		done:    make(chan struct{}),
	}
	if o.logger != nil {
		r.log = *o.logger
	} else {
		r.log = logx.With("router")
	}
	return r
}

// Run reads and dispatches messages until the link fails, ctx is done, or
// Close is called. It returns the fatal read error, ctx.Err(), or nil after
// Close respectively. Run must be called at most once.
func (r *Router) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()

	r.log.Info().Msg("router started")
	for {
		m, err := r.src.ReadMessage()
		if err != nil {
			if transport.IsRecoverable(err) {
				r.recordDrop(err)
				continue
			}
			r.shutdown()
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case r.closing.Load():
				r.log.Info().Msg("router closed")
				return nil
			default:
				r.log.Error().Err(err).Msg("link failed, router stopped")
				return err
			}
		}
		metrics.RecordFrame(metrics.FrameOK)
		r.dispatch(m)
	}
}

func (r *Router) recordDrop(err error) {
	if errors.Is(err, transport.ErrFrameOverflow) {
		metrics.RecordFrame(metrics.FrameOverflow)
	} else {
		metrics.RecordFrame(metrics.FrameDeser)
	}
	r.log.Warn().Err(err).Msg("frame dropped")
}

func (r *Router) dispatch(m message.Message) {
	switch m := m.(type) {
	case message.RPC:
		r.mu.Lock()
		w, ok := r.waiters[m.ID]
		if ok {
			delete(r.waiters, m.ID)
		}
		n := len(r.waiters)
		r.mu.Unlock()

		if !ok {
			metrics.RecordUnsolicitedReply()
			r.log.Debug().Uint16("id", m.ID).Stringer("payload", m.Payload.RPCTag()).
				Msg("reply without waiter discarded")
			return
		}
		metrics.SetWaiters(n)
		// Buffered with room for exactly this send; the waiter left the
		// table above so nothing else can send or close.
		w.ch <- m.Payload

	case message.Stream:
		metrics.RecordStream(m.Payload.StreamTag().String())
		r.stream.Publish(m.Payload)
	}
}

// shutdown fails every pending waiter and ends the stream. Safe to call more
// than once.
func (r *Router) shutdown() {
	r.downOnce.Do(func() {
		r.mu.Lock()
		r.down = true
		for id, w := range r.waiters {
			close(w.ch)
			delete(r.waiters, id)
		}
		r.mu.Unlock()

		metrics.SetWaiters(0)
		r.stream.Close()
		close(r.done)
	})
}

// Close stops Run by closing the source. Pending calls fail with
// ErrDisconnected.
func (r *Router) Close() error {
	if !r.closing.CompareAndSwap(false, true) {
		return nil
	}
	return r.src.Close()
}

// Done is closed once the router has shut down.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// InFlight returns the number of registered waiters.
func (r *Router) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// Handle returns the interface used by proxies. Handles are cheap to copy and
// stay valid after shutdown, where they report ErrDisconnected.
func (r *Router) Handle() Handle {
	return Handle{r: r}
}

// Handle registers waiters and subscriptions on a Router.
type Handle struct {
	r *Router
}

// Register reserves id and returns the waiter its reply will be delivered to.
func (h Handle) Register(id uint16) (*Waiter, error) {
	r := h.r
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.down {
		return nil, ErrDisconnected
	}
	if _, busy := r.waiters[id]; busy {
		return nil, ErrTooManyInFlight
	}
	w := &Waiter{id: id, r: r, ch: make(chan message.RPCPayload, 1)}
	r.waiters[id] = w
	metrics.SetWaiters(len(r.waiters))
	return w, nil
}

// Subscribe returns a reader for stream payloads published from now on. After
// shutdown the subscription reports ErrClosed.
func (h Handle) Subscribe() *Subscription[message.StreamPayload] {
	return h.r.stream.Subscribe()
}

// Waiter is a single-use slot for the reply to one request.
type Waiter struct {
	id uint16
	r  *Router
	ch chan message.RPCPayload
}

// ID returns the id the waiter is registered for.
func (w *Waiter) ID() uint16 {
	return w.id
}

// Wait blocks for the reply. It returns ErrDisconnected if the router shut
// down first. If ctx is done first the id is released and a late reply will
// be discarded.
func (w *Waiter) Wait(ctx context.Context) (message.RPCPayload, error) {
	select {
	case p, ok := <-w.ch:
		if !ok {
			return nil, ErrDisconnected
		}
		return p, nil
	case <-ctx.Done():
		w.Release()
		return nil, ctx.Err()
	}
}

// Release frees the id if the reply has not arrived. It is a no-op otherwise.
func (w *Waiter) Release() {
	r := w.r
	r.mu.Lock()
	if cur, ok := r.waiters[w.id]; ok && cur == w {
		delete(r.waiters, w.id)
		metrics.SetWaiters(len(r.waiters))
	}
	r.mu.Unlock()
}
