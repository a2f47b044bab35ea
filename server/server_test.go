package server

import (
	"context"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/mdp2021s129-bot/hdcomm/message"
	"github.com/mdp2021s129-bot/hdcomm/middleware"
	"github.com/mdp2021s129-bot/hdcomm/transport"
)

// startDevice serves a simulator on one end of a pipe and returns the host end.
func startDevice(t *testing.T, mws ...middleware.Middleware) (*Server, *Simulator, *transport.Conn, <-chan error) {
	t.Helper()
	host, dev := net.Pipe()

	mux := NewMux()
	sim := NewSimulator(0.75)
	sim.Register(mux)

	svr := NewServer(mux)
	for _, mw := range mws {
		svr.Use(mw)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- svr.Serve(context.Background(), dev) }()

	conn := transport.NewConn(host)
	t.Cleanup(func() {
		conn.Close()
		svr.Shutdown(time.Second)
	})
	return svr, sim, conn, errCh
}

func roundTrip(t *testing.T, conn *transport.Conn, id uint16, req message.RPCPayload) message.RPCPayload {
	t.Helper()
	if err := conn.WriteMessage(message.RPC{ID: id, Payload: req}); err != nil {
		t.Fatal(err)
	}
	m, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	rep, ok := m.(message.RPC)
	if !ok {
		t.Fatalf("expect an RPC reply, got %v", m)
	}
	if rep.ID != id {
		t.Fatalf("Expect reply with id: %v, get %v", id, rep.ID)
	}
	return rep.Payload
}

func TestServer(t *testing.T) {
	_, sim, conn, _ := startDevice(t, middleware.LoggingMiddleware())

	if _, ok := roundTrip(t, conn, 123, message.PingReq{}).(message.PingRep); !ok {
		t.Fatal("expect PingRep")
	}

	roundTrip(t, conn, 124, message.PwmReq{R: 10, G: 20, B: 30})
	if got := sim.LED(); got != (message.PwmReq{R: 10, G: 20, B: 30}) {
		t.Fatalf("LED not updated: %v", got)
	}

	rep := roundTrip(t, conn, 125, message.GetFrontDistanceReq{}).(message.GetFrontDistanceRep)
	if !rep.Valid || rep.Distance != 0.75 {
		t.Fatalf("unexpected distance reading %+v", rep)
	}
}

func TestPidUpload(t *testing.T) {
	_, sim, conn, _ := startDevice(t)

	req := message.PidParamUpdateReq{
		Params:           [2]message.PidParams{{Kp: 1.5, Ki: 0.1}, {Kp: 1.4, Kd: 0.02}},
		UpdateIntervalMs: 10,
	}
	if _, ok := roundTrip(t, conn, 1, req).(message.PidParamUpdateRep); !ok {
		t.Fatal("expect PidParamUpdateRep")
	}
	params, interval := sim.PidParams()
	if !reflect.DeepEqual(params, req.Params) || interval != 10 {
		t.Fatalf("gains not stored: %+v every %dms", params, interval)
	}
}

func TestMoveLifecycle(t *testing.T) {
	_, _, conn, _ := startDevice(t)

	move := message.MoveReq{Distance: 1000, MaxVelocity: 100}
	if rep := roundTrip(t, conn, 1, move).(message.MoveRep); rep.Status != message.MoveAccepted {
		t.Fatalf("first move should be accepted, got %v", rep.Status)
	}
	if rep := roundTrip(t, conn, 2, move).(message.MoveRep); rep.Status != message.MoveBusy {
		t.Fatalf("second move should be busy, got %v", rep.Status)
	}
	if st := roundTrip(t, conn, 3, message.MoveStatusReq{}).(message.MoveStatusRep); !st.Moving {
		t.Fatalf("expect moving, got %+v", st)
	}

	roundTrip(t, conn, 4, message.MoveCancelReq{})
	if st := roundTrip(t, conn, 5, message.MoveStatusReq{}).(message.MoveStatusRep); st.Moving {
		t.Fatalf("expect stopped after cancel, got %+v", st)
	}
	if rep := roundTrip(t, conn, 6, move).(message.MoveRep); rep.Status != message.MoveAccepted {
		t.Fatalf("move after cancel should be accepted, got %v", rep.Status)
	}
}

func TestUnhandledRequestGetsNoReply(t *testing.T) {
	host, dev := net.Pipe()
	mux := NewMux()
	mux.Handle(message.TagPingReq, func(ctx context.Context, req message.RPCPayload) (message.RPCPayload, error) {
		return message.PingRep{TimeMs: 1}, nil
	})
	svr := NewServer(mux)
	go svr.Serve(context.Background(), dev)
	conn := transport.NewConn(host)
	defer conn.Close()

	// Pwm has no handler: nothing comes back, and the next request still works.
	if err := conn.WriteMessage(message.RPC{ID: 1, Payload: message.PwmReq{}}); err != nil {
		t.Fatal(err)
	}
	if got := roundTrip(t, conn, 2, message.PingReq{}); got != (message.PingRep{TimeMs: 1}) {
		t.Fatalf("unexpected reply %v", got)
	}

	if _, err := mux.ServeRPC(context.Background(), message.PwmReq{}); !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expect ErrNoHandler, got %v", err)
	}
}

func TestEndRequest(t *testing.T) {
	svr, _, conn, _ := startDevice(t)

	if err := conn.WriteMessage(message.RPC{ID: 9, Payload: message.EndReq{}}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-svr.Ended():
	case <-time.After(2 * time.Second):
		t.Fatal("EndReq not observed")
	}
}

func TestPublish(t *testing.T) {
	svr, sim, conn, _ := startDevice(t)

	go svr.Publish(sim.Sample())
	m, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	s, ok := m.(message.Stream)
	if !ok {
		t.Fatalf("expect a stream message, got %v", m)
	}
	if ahrs := s.Payload.(message.Ahrs); ahrs.Acc[2] != 16384 {
		t.Fatalf("unexpected sample %+v", ahrs)
	}
}

func TestShutdown(t *testing.T) {
	svr, _, conn, errCh := startDevice(t)
	roundTrip(t, conn, 1, message.PingReq{})

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Serve after Shutdown: expect nil, got %v", err)
	}
}
