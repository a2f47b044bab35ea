package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/mdp2021s129-bot/hdcomm/message"
)

var errTruncated = errors.New("truncated field")

// writer appends little-endian fields to buf.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) i16(v int16)  { w.u16(uint16(v)) }
func (w *writer) i32(v int32)  { w.u32(uint32(v)) }
func (w *writer) f32(v float32) {
	w.u32(math.Float32bits(v))
}

func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) vec3(v [3]int16) {
	for _, x := range v {
		w.i16(x)
	}
}

func (w *writer) pid(p message.PidParams) {
	w.f32(p.Kp)
	w.f32(p.Ki)
	w.f32(p.Kd)
	w.f32(p.PLimit)
	w.f32(p.ILimit)
	w.f32(p.DLimit)
	w.f32(p.OutputLimit)
}

// reader consumes little-endian fields from buf. The first failure sticks in
// err and every later read returns zero, so callers check err once at the end.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf)-r.off < n {
		r.fail(errTruncated)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) i16() int16   { return int16(r.u16()) }
func (r *reader) i32() int32   { return int32(r.u32()) }
func (r *reader) f32() float32 { return math.Float32frombits(r.u32()) }

func (r *reader) boolean() bool {
	switch v := r.u8(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail(fmt.Errorf("invalid bool 0x%02x", v))
		return false
	}
}

func (r *reader) vec3() (v [3]int16) {
	for i := range v {
		v[i] = r.i16()
	}
	return v
}

func (r *reader) pid() message.PidParams {
	return message.PidParams{
		Kp:          r.f32(),
		Ki:          r.f32(),
		Kd:          r.f32(),
		PLimit:      r.f32(),
		ILimit:      r.f32(),
		DLimit:      r.f32(),
		OutputLimit: r.f32(),
	}
}

func putRPCBody(w *writer, p message.RPCPayload) error {
	switch p := p.(type) {
	case message.PingReq, message.EndReq, message.MoveStatusReq, message.MoveCancelReq,
		message.MoveCancelRep, message.PidParamUpdateRep, message.RawTeleOpRep,
		message.GetFrontDistanceReq, message.PwmRep:
		// Empty bodies.
	case message.PingRep:
		w.u32(p.TimeMs)
	case message.MoveReq:
		w.i32(p.Distance)
		w.f32(p.MaxVelocity)
		w.f32(p.MaxAccel)
		w.f32(p.MaxJerk)
		w.f32(p.Ratio)
		w.boolean(p.RefLeft)
		w.f32(p.Steering)
		w.u16(p.SteeringSetupMs)
		w.boolean(p.Reverse)
	case message.MoveRep:
		w.u8(uint8(p.Status))
	case message.MoveStatusRep:
		w.boolean(p.Moving)
		w.i32(p.TicksLeft)
		w.i32(p.TicksRight)
		w.u32(p.ElapsedMs)
	case message.PidParamUpdateReq:
		w.pid(p.Params[0])
		w.pid(p.Params[1])
		w.u16(p.UpdateIntervalMs)
	case message.RawTeleOpReq:
		w.f32(p.Throttle)
		w.f32(p.Steering)
	case message.GetFrontDistanceRep:
		w.u32(p.StartTimeMs)
		w.u32(p.EndTimeMs)
		w.boolean(p.Valid)
		w.f32(p.Distance)
	case message.PwmReq:
		w.u8(p.R)
		w.u8(p.G)
		w.u8(p.B)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownPayload, p)
	}
	return nil
}

func getRPCBody(r *reader, tag message.RPCTag) message.RPCPayload {
	switch tag {
	case message.TagPingReq:
		return message.PingReq{}
	case message.TagPingRep:
		return message.PingRep{TimeMs: r.u32()}
	case message.TagEndReq:
		return message.EndReq{}
	case message.TagMoveReq:
		return message.MoveReq{
			Distance:        r.i32(),
			MaxVelocity:     r.f32(),
			MaxAccel:        r.f32(),
			MaxJerk:         r.f32(),
			Ratio:           r.f32(),
			RefLeft:         r.boolean(),
			Steering:        r.f32(),
			SteeringSetupMs: r.u16(),
			Reverse:         r.boolean(),
		}
	case message.TagMoveRep:
		status := message.MoveStatus(r.u8())
		if status != message.MoveAccepted && status != message.MoveBusy {
			r.fail(fmt.Errorf("invalid move status %d", status))
		}
		return message.MoveRep{Status: status}
	case message.TagMoveStatusReq:
		return message.MoveStatusReq{}
	case message.TagMoveStatusRep:
		return message.MoveStatusRep{
			Moving:     r.boolean(),
			TicksLeft:  r.i32(),
			TicksRight: r.i32(),
			ElapsedMs:  r.u32(),
		}
	case message.TagMoveCancelReq:
		return message.MoveCancelReq{}
	case message.TagMoveCancelRep:
		return message.MoveCancelRep{}
	case message.TagPidParamUpdateReq:
		return message.PidParamUpdateReq{
			Params:           [2]message.PidParams{r.pid(), r.pid()},
			UpdateIntervalMs: r.u16(),
		}
	case message.TagPidParamUpdateRep:
		return message.PidParamUpdateRep{}
	case message.TagRawTeleOpReq:
		return message.RawTeleOpReq{Throttle: r.f32(), Steering: r.f32()}
	case message.TagRawTeleOpRep:
		return message.RawTeleOpRep{}
	case message.TagGetFrontDistanceReq:
		return message.GetFrontDistanceReq{}
	case message.TagGetFrontDistanceRep:
		return message.GetFrontDistanceRep{
			StartTimeMs: r.u32(),
			EndTimeMs:   r.u32(),
			Valid:       r.boolean(),
			Distance:    r.f32(),
		}
	case message.TagPwmReq:
		return message.PwmReq{R: r.u8(), G: r.u8(), B: r.u8()}
	case message.TagPwmRep:
		return message.PwmRep{}
	default:
		r.fail(fmt.Errorf("unknown RPC payload tag 0x%02x", uint8(tag)))
		return nil
	}
}

func putStreamBody(w *writer, p message.StreamPayload) error {
	switch p := p.(type) {
	case message.Ahrs:
		w.vec3(p.Acc)
		w.vec3(p.Gyro)
		w.vec3(p.Mag)
		w.u32(p.TimeMs)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownPayload, p)
	}
	return nil
}

func getStreamBody(r *reader, tag message.StreamTag) message.StreamPayload {
	switch tag {
	case message.TagAhrs:
		return message.Ahrs{
			Acc:    r.vec3(),
			Gyro:   r.vec3(),
			Mag:    r.vec3(),
			TimeMs: r.u32(),
		}
	default:
		r.fail(fmt.Errorf("unknown stream payload tag 0x%02x", uint8(tag)))
		return nil
	}
}
