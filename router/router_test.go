package router

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mdp2021s129-bot/hdcomm/message"
	"github.com/mdp2021s129-bot/hdcomm/transport"
)

// fakeSource feeds the router from channels.
type fakeSource struct {
	msgs   chan message.Message
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		msgs:   make(chan message.Message),
		errs:   make(chan error),
		closed: make(chan struct{}),
	}
}

func (s *fakeSource) ReadMessage() (message.Message, error) {
	select {
	case m := <-s.msgs:
		return m, nil
	case err := <-s.errs:
		return nil, err
	case <-s.closed:
		return nil, &transport.IOError{Op: "read", Err: io.ErrClosedPipe}
	}
}

func (s *fakeSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func startRouter(t *testing.T, opts ...Option) (*Router, *fakeSource, <-chan error) {
	t.Helper()
	src := newFakeSource()
	r := New(src, opts...)
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(context.Background()) }()
	t.Cleanup(func() { r.Close() })
	return r, src, errCh
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// barrier returns once the router has finished dispatching everything sent
// before it: the unbuffered send only completes on the next ReadMessage.
func barrier(src *fakeSource) {
	src.msgs <- message.Stream{Payload: message.Ahrs{}}
}

func ping(id uint16, ms uint32) message.RPC {
	return message.RPC{ID: id, Payload: message.PingRep{TimeMs: ms}}
}

func TestRegisterSameIDTwice(t *testing.T) {
	r, _, _ := startRouter(t)
	h := r.Handle()

	w, err := h.Register(42)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Register(42); !errors.Is(err, ErrTooManyInFlight) {
		t.Fatalf("expect ErrTooManyInFlight, got %v", err)
	}

	w.Release()
	if _, err := h.Register(42); err != nil {
		t.Fatalf("id 42 should be free after Release: %v", err)
	}
}

func TestRepliesReachTheirWaiter(t *testing.T) {
	r, src, _ := startRouter(t)
	h := r.Handle()

	w1, err := h.Register(1)
	if err != nil {
		t.Fatal(err)
	}
	w2, err := h.Register(2)
	if err != nil {
		t.Fatal(err)
	}

	src.msgs <- ping(2, 200)
	src.msgs <- ping(1, 100)

	ctx := waitCtx(t)
	got1, err := w1.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got2, err := w2.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got1 != (message.PingRep{TimeMs: 100}) || got2 != (message.PingRep{TimeMs: 200}) {
		t.Fatalf("replies crossed: w1=%v w2=%v", got1, got2)
	}
	if n := r.InFlight(); n != 0 {
		t.Fatalf("expect empty waiter table, got %d", n)
	}
}

func TestUnsolicitedReplyIsDiscarded(t *testing.T) {
	r, src, _ := startRouter(t)
	h := r.Handle()

	src.msgs <- ping(9, 1)
	barrier(src)

	w, err := h.Register(9)
	if err != nil {
		t.Fatal(err)
	}
	src.msgs <- ping(9, 2)

	got, err := w.Wait(waitCtx(t))
	if err != nil {
		t.Fatal(err)
	}
	if got != (message.PingRep{TimeMs: 2}) {
		t.Fatalf("waiter got the stale reply %v", got)
	}
}

func TestRecoverableErrorsKeepRunning(t *testing.T) {
	r, src, _ := startRouter(t)

	w, err := r.Handle().Register(5)
	if err != nil {
		t.Fatal(err)
	}
	src.errs <- transport.ErrFrameOverflow
	src.errs <- transport.ErrDeserialization
	src.msgs <- ping(5, 55)

	if _, err := w.Wait(waitCtx(t)); err != nil {
		t.Fatalf("router stopped on a recoverable error: %v", err)
	}
}

func TestStreamFanOut(t *testing.T) {
	r, src, _ := startRouter(t)
	subs := []*Subscription[message.StreamPayload]{r.Handle().Subscribe(), r.Handle().Subscribe()}

	for i := uint32(0); i < 3; i++ {
		src.msgs <- message.Stream{Payload: message.Ahrs{TimeMs: i}}
	}

	ctx := waitCtx(t)
	for n, sub := range subs {
		for i := uint32(0); i < 3; i++ {
			p, err := sub.Recv(ctx)
			if err != nil {
				t.Fatalf("subscriber %d: %v", n, err)
			}
			if got := p.(message.Ahrs).TimeMs; got != i {
				t.Fatalf("subscriber %d: expect sample %d, got %d", n, i, got)
			}
		}
	}
}

func TestDisconnectPropagates(t *testing.T) {
	r, src, errCh := startRouter(t)
	h := r.Handle()

	w, err := h.Register(7)
	if err != nil {
		t.Fatal(err)
	}
	sub := h.Subscribe()

	fatal := &transport.IOError{Op: "read", Err: io.EOF}
	src.errs <- fatal

	ctx := waitCtx(t)
	if _, err := w.Wait(ctx); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expect ErrDisconnected, got %v", err)
	}
	if _, err := sub.Recv(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
	if _, err := h.Register(8); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expect ErrDisconnected from Register, got %v", err)
	}
	if err := <-errCh; !errors.Is(err, io.EOF) {
		t.Fatalf("Run should return the link error, got %v", err)
	}
	select {
	case <-r.Done():
	default:
		t.Fatal("Done not closed after shutdown")
	}
}

func TestWaitCancelReleasesID(t *testing.T) {
	r, src, _ := startRouter(t)
	h := r.Handle()

	w, err := h.Register(3)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := w.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect deadline exceeded, got %v", err)
	}

	// The late reply for the abandoned call must not reach the next owner.
	src.msgs <- ping(3, 1)
	barrier(src)
	w2, err := h.Register(3)
	if err != nil {
		t.Fatalf("id 3 not released: %v", err)
	}
	src.msgs <- ping(3, 2)
	got, err := w2.Wait(waitCtx(t))
	if err != nil {
		t.Fatal(err)
	}
	if got != (message.PingRep{TimeMs: 2}) {
		t.Fatalf("late reply leaked into a new call: %v", got)
	}
}

func TestCloseAndCancel(t *testing.T) {
	r, _, errCh := startRouter(t)
	r.Close()
	if err := <-errCh; err != nil {
		t.Fatalf("Run after Close: expect nil, got %v", err)
	}

	src := newFakeSource()
	r2 := New(src)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r2.Run(ctx) }()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run after cancel: expect context.Canceled, got %v", err)
	}
}
