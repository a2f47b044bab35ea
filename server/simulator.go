package server

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/mdp2021s129-bot/hdcomm/message"
)

// Simulator is an in-memory robot: it tracks one motion profile at a time,
// the PID gains, the tele-op command and the LED colour, and answers every
// request in the catalogue.
type Simulator struct {
	start time.Time
	now   func() time.Time

	mu          sync.Mutex
	move        *activeMove
	pid         [2]message.PidParams
	pidInterval uint16
	teleOp      message.RawTeleOpReq
	led         message.PwmReq
	front       float32
}

type activeMove struct {
	req      message.MoveReq
	started  time.Time
	duration time.Duration
}

// NewSimulator returns a robot at rest with an obstacle frontDistance away.
func NewSimulator(frontDistance float32) *Simulator {
	return &Simulator{start: time.Now(), now: time.Now, front: frontDistance}
}

// Register binds a handler for every request tag that has a reply.
func (s *Simulator) Register(m *Mux) {
	m.Handle(message.TagPingReq, s.ping)
	m.Handle(message.TagMoveReq, s.moveStart)
	m.Handle(message.TagMoveStatusReq, s.moveStatus)
	m.Handle(message.TagMoveCancelReq, s.moveCancel)
	m.Handle(message.TagPidParamUpdateReq, s.pidUpdate)
	m.Handle(message.TagRawTeleOpReq, s.rawTeleOp)
	m.Handle(message.TagGetFrontDistanceReq, s.frontDistance)
	m.Handle(message.TagPwmReq, s.pwm)
}

// Millis is the device clock: milliseconds since the simulator started.
func (s *Simulator) Millis() uint32 {
	return uint32(s.now().Sub(s.start).Milliseconds())
}

// Sample produces one AHRS reading of a robot sitting level.
func (s *Simulator) Sample() message.StreamPayload {
	s.mu.Lock()
	throttle := s.teleOp.Throttle
	s.mu.Unlock()
	return message.Ahrs{
		Acc:    [3]int16{int16(throttle * 1000), 0, 16384},
		Gyro:   [3]int16{0, 0, 0},
		Mag:    [3]int16{220, -40, 410},
		TimeMs: s.Millis(),
	}
}

// PidParams returns the gains last uploaded by the host.
func (s *Simulator) PidParams() ([2]message.PidParams, uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid, s.pidInterval
}

// LED returns the colour last set by the host.
func (s *Simulator) LED() message.PwmReq {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.led
}

func (s *Simulator) ping(ctx context.Context, req message.RPCPayload) (message.RPCPayload, error) {
	return message.PingRep{TimeMs: s.Millis()}, nil
}

// moveDuration covers the whole distance at max velocity, ignoring the
// acceleration ramps. A zero velocity finishes at once.
func moveDuration(req message.MoveReq) time.Duration {
	if req.MaxVelocity <= 0 {
		return 0
	}
	secs := math.Abs(float64(req.Distance)) / float64(req.MaxVelocity)
	return time.Duration(secs * float64(time.Second))
}

func (s *Simulator) moveStart(ctx context.Context, req message.RPCPayload) (message.RPCPayload, error) {
	mv := req.(message.MoveReq)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.move != nil && now.Sub(s.move.started) < s.move.duration {
		return message.MoveRep{Status: message.MoveBusy}, nil
	}
	s.move = &activeMove{req: mv, started: now, duration: moveDuration(mv)}
	return message.MoveRep{Status: message.MoveAccepted}, nil
}

func (s *Simulator) moveStatus(ctx context.Context, req message.RPCPayload) (message.RPCPayload, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.move == nil {
		return message.MoveStatusRep{}, nil
	}

	elapsed := now.Sub(s.move.started)
	progress := 1.0
	if elapsed < s.move.duration {
		progress = float64(elapsed) / float64(s.move.duration)
	}
	ticks := int32(progress * float64(s.move.req.Distance))
	if s.move.req.Reverse {
		ticks = -ticks
	}
	return message.MoveStatusRep{
		Moving:     elapsed < s.move.duration,
		TicksLeft:  ticks,
		TicksRight: ticks,
		ElapsedMs:  uint32(elapsed.Milliseconds()),
	}, nil
}

func (s *Simulator) moveCancel(ctx context.Context, req message.RPCPayload) (message.RPCPayload, error) {
	s.mu.Lock()
	s.move = nil
	s.mu.Unlock()
	return message.MoveCancelRep{}, nil
}

func (s *Simulator) pidUpdate(ctx context.Context, req message.RPCPayload) (message.RPCPayload, error) {
	p := req.(message.PidParamUpdateReq)
	s.mu.Lock()
	s.pid = p.Params
	s.pidInterval = p.UpdateIntervalMs
	s.mu.Unlock()
	return message.PidParamUpdateRep{}, nil
}

func (s *Simulator) rawTeleOp(ctx context.Context, req message.RPCPayload) (message.RPCPayload, error) {
	s.mu.Lock()
	s.teleOp = req.(message.RawTeleOpReq)
	s.mu.Unlock()
	return message.RawTeleOpRep{}, nil
}

func (s *Simulator) frontDistance(ctx context.Context, req message.RPCPayload) (message.RPCPayload, error) {
	start := s.Millis()
	s.mu.Lock()
	d := s.front
	s.mu.Unlock()
	return message.GetFrontDistanceRep{
		StartTimeMs: start,
		EndTimeMs:   start + 2,
		Valid:       d > 0,
		Distance:    d,
	}, nil
}

func (s *Simulator) pwm(ctx context.Context, req message.RPCPayload) (message.RPCPayload, error) {
	s.mu.Lock()
	s.led = req.(message.PwmReq)
	s.mu.Unlock()
	return message.PwmRep{}, nil
}
