package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultStreamCapacity is the ring size used for stream payloads.
const DefaultStreamCapacity = 1024

// ErrClosed is returned by Subscription.Recv once the stream ended and every
// retained value has been delivered.
var ErrClosed = errors.New("router: stream closed")

// LaggedError reports that a subscriber fell behind and Skipped values were
// overwritten before it could read them. The subscription stays usable and
// continues with the oldest retained value.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("router: subscriber lagged, %d values skipped", e.Skipped)
}

// Broadcast is a fixed-capacity ring with any number of independent readers.
//
// Publish never blocks and never waits for readers: when the ring is full the
// oldest value is overwritten, and readers that had not consumed it get a
// LaggedError on their next Recv.
//
//	seq:   0 1 2 3 4 5 6 7 8 9
//	ring:            [6 7 8 9]     capacity 4, head = 10
//	sub A next=8  ─────────▲       reads 8, 9
//	sub B next=3  → LaggedError{Skipped: 3}, then reads 6..9
type Broadcast[T any] struct {
	mu     sync.Mutex
	ring   []T
	head   uint64        // sequence number of the next value
	notify chan struct{} // closed and replaced on every Publish
	closed bool
}

// NewBroadcast returns a Broadcast holding up to capacity values.
// A capacity below 1 selects DefaultStreamCapacity.
func NewBroadcast[T any](capacity int) *Broadcast[T] {
	if capacity < 1 {
		capacity = DefaultStreamCapacity
	}
	return &Broadcast[T]{
		ring:   make([]T, capacity),
		notify: make(chan struct{}),
	}
}

// Publish appends v, overwriting the oldest value if the ring is full.
// Values published after Close are dropped.
func (b *Broadcast[T]) Publish(v T) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.ring[b.head%uint64(len(b.ring))] = v
	b.head++
	wake := b.notify
	b.notify = make(chan struct{})
	b.mu.Unlock()

	close(wake)
}

// Close ends the stream. Subscribers drain what is retained, then get ErrClosed.
func (b *Broadcast[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.notify)
}

// Subscribe returns a reader that sees every value published from now on.
func (b *Broadcast[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Subscription[T]{b: b, next: b.head}
}

// Subscription is one reader of a Broadcast. It must not be shared between
// goroutines; call Subscribe again for another reader.
type Subscription[T any] struct {
	b    *Broadcast[T]
	next uint64
}

// Recv blocks until the next value is available.
//
// It returns a *LaggedError once per gap, ErrClosed after the stream ended,
// or ctx.Err() if ctx is done first.
func (s *Subscription[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	b := s.b
	for {
		b.mu.Lock()
		size := uint64(len(b.ring))
		if b.head > size && s.next < b.head-size {
			oldest := b.head - size
			skipped := oldest - s.next
			s.next = oldest
			b.mu.Unlock()
			return zero, &LaggedError{Skipped: skipped}
		}
		if s.next < b.head {
			v := b.ring[s.next%size]
			s.next++
			b.mu.Unlock()
			return v, nil
		}
		if b.closed {
			b.mu.Unlock()
			return zero, ErrClosed
		}
		wake := b.notify
		b.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
