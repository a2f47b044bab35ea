// Package server emulates the device end of the link.
//
// It runs the same framing a microcontroller would: a fixed-size
// protocol.Accumulator on the receive side and protocol.Frame into a fixed
// buffer on the send side. Requests are served in parallel, so replies may
// leave in a different order than the requests arrived.
//
// Request processing pipeline:
//
//	rw.Read → Accumulator.Feed (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Middleware Chain → Mux (by payload tag) → protocol.Frame → write reply (writeMu)
//
//	Publish(telemetry) → protocol.Frame → write (writeMu)
package server

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mdp2021s129-bot/hdcomm/logx"
	"github.com/mdp2021s129-bot/hdcomm/message"
	"github.com/mdp2021s129-bot/hdcomm/metrics"
	"github.com/mdp2021s129-bot/hdcomm/middleware"
	"github.com/mdp2021s129-bot/hdcomm/protocol"
)

// Server is the device side of one link.
type Server struct {
	mux         *Mux
	middlewares []middleware.Middleware // Registered middlewares (applied in order)
	handler     middleware.HandlerFunc  // middleware(middleware(...(mux)))
	log         zerolog.Logger

	mu      sync.Mutex
	rw      io.ReadWriter // the link being served, nil before Serve
	writeMu sync.Mutex    // one frame on the wire at a time
	wbuf    [protocol.FrameBufferSize]byte

	wg       sync.WaitGroup // Tracks in-flight requests for graceful shutdown
	shutdown atomic.Bool
	ended    chan struct{}
	endOnce  sync.Once
}

// NewServer creates a device serving requests through mux.
func NewServer(mux *Mux) *Server {
	return &Server{
		mux:   mux,
		log:   logx.With("device"),
		ended: make(chan struct{}),
	}
}

// Use registers a middleware. Middlewares are applied in the order they are
// added and must be registered before Serve.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Ended is closed when the host sends EndReq.
func (s *Server) Ended() <-chan struct{} {
	return s.ended
}

// Serve reads requests from rw until it fails, ctx is done, or Shutdown is
// called; the latter two return nil. rw is closed on return if it is an
// io.Closer.
func (s *Server) Serve(ctx context.Context, rw io.ReadWriter) error {
	// Build the middleware chain once at startup (not per-request)
	s.handler = middleware.Chain(s.middlewares...)(s.mux.ServeRPC)

	s.mu.Lock()
	s.rw = rw
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { s.closeLink() })
	defer stop()

	var (
		acc protocol.Accumulator
		buf [128]byte
	)
	for {
		n, err := rw.Read(buf[:])
		chunk := buf[:n]
		for len(chunk) > 0 {
			res := acc.Feed(chunk)
			chunk = res.Remaining
			switch res.Status {
			case protocol.Success:
				s.dispatch(ctx, res.Message)
			case protocol.Overflow:
				metrics.RecordFrame(metrics.FrameOverflow)
				s.log.Warn().Msg("receive buffer overflow, frame dropped")
			case protocol.DeserError:
				metrics.RecordFrame(metrics.FrameDeser)
				s.log.Warn().Err(res.Err).Msg("bad frame dropped")
			}
		}
		if err != nil {
			s.closeLink()
			if s.shutdown.Load() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("device read: %w", err)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, m message.Message) {
	rpc, ok := m.(message.RPC)
	if !ok {
		s.log.Debug().Str("message", fmt.Sprint(m)).Msg("ignoring stream message from host")
		return
	}
	if rpc.Payload.RPCTag() == message.TagEndReq {
		s.log.Info().Msg("host ended the session")
		s.endOnce.Do(func() { close(s.ended) })
		return
	}

	// Track this request for graceful shutdown (wg.Wait ensures all in-flight requests complete)
	s.wg.Add(1)
	go s.handleRequest(ctx, rpc)
}

// handleRequest runs one request through the chain and writes the reply with
// the request's id. A failed handler sends nothing; the host's call times out.
func (s *Server) handleRequest(ctx context.Context, req message.RPC) {
	defer s.wg.Done()

	rep, err := s.handler(ctx, req.Payload)
	metrics.RecordServed(req.Payload.RPCTag().String(), err)
	if err != nil {
		s.log.Warn().Err(err).Uint16("id", req.ID).Stringer("method", req.Payload.RPCTag()).Msg("request failed")
		return
	}

	// Same id as the request: this is how the host matches replies
	if err := s.write(message.RPC{ID: req.ID, Payload: rep}); err != nil {
		s.log.Warn().Err(err).Uint16("id", req.ID).Msg("failed to write reply")
	}
}

// Publish sends one telemetry sample to the host.
func (s *Server) Publish(p message.StreamPayload) error {
	return s.write(message.Stream{Payload: p})
}

// RunTelemetry publishes sample() every interval until ctx is done or a write
// fails.
func (s *Server) RunTelemetry(ctx context.Context, interval time.Duration, sample func() message.StreamPayload) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Publish(sample()); err != nil {
				return err
			}
		}
	}
}

func (s *Server) write(m message.Message) error {
	s.mu.Lock()
	rw := s.rw
	s.mu.Unlock()
	if rw == nil {
		return io.ErrClosedPipe
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	frame, err := protocol.Frame(m, s.wbuf[:])
	if err != nil {
		return err
	}
	_, err = rw.Write(frame)
	return err
}

func (s *Server) closeLink() {
	s.mu.Lock()
	rw := s.rw
	s.mu.Unlock()
	if c, ok := rw.(io.Closer); ok {
		c.Close()
	}
}

// Shutdown performs graceful shutdown:
//  1. Set shutdown flag (so the read error is recognized as intentional)
//  2. Close the link (stop reading requests)
//  3. Wait for in-flight requests to finish (with timeout)
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdown.Store(true)
	s.closeLink()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil // All requests completed
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}
