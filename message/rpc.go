package message

import "fmt"

// RPCTag is the one-byte discriminant of an RPC payload on the wire.
//
// Control payloads live in 0x00-0x0F, application payloads in 0x10-0x1F.
type RPCTag uint8

const (
	TagPingReq RPCTag = 0x00
	TagPingRep RPCTag = 0x01
	TagEndReq  RPCTag = 0x02

	TagMoveReq             RPCTag = 0x10
	TagMoveRep             RPCTag = 0x11
	TagMoveStatusReq       RPCTag = 0x12
	TagMoveStatusRep       RPCTag = 0x13
	TagMoveCancelReq       RPCTag = 0x14
	TagMoveCancelRep       RPCTag = 0x15
	TagPidParamUpdateReq   RPCTag = 0x16
	TagPidParamUpdateRep   RPCTag = 0x17
	TagRawTeleOpReq        RPCTag = 0x18
	TagRawTeleOpRep        RPCTag = 0x19
	TagGetFrontDistanceReq RPCTag = 0x1A
	TagGetFrontDistanceRep RPCTag = 0x1B
	TagPwmReq              RPCTag = 0x1C
	TagPwmRep              RPCTag = 0x1D
)

var rpcTagNames = map[RPCTag]string{
	TagPingReq:             "PingReq",
	TagPingRep:             "PingRep",
	TagEndReq:              "EndReq",
	TagMoveReq:             "MoveReq",
	TagMoveRep:             "MoveRep",
	TagMoveStatusReq:       "MoveStatusReq",
	TagMoveStatusRep:       "MoveStatusRep",
	TagMoveCancelReq:       "MoveCancelReq",
	TagMoveCancelRep:       "MoveCancelRep",
	TagPidParamUpdateReq:   "PidParamUpdateReq",
	TagPidParamUpdateRep:   "PidParamUpdateRep",
	TagRawTeleOpReq:        "RawTeleOpReq",
	TagRawTeleOpRep:        "RawTeleOpRep",
	TagGetFrontDistanceReq: "GetFrontDistanceReq",
	TagGetFrontDistanceRep: "GetFrontDistanceRep",
	TagPwmReq:              "PwmReq",
	TagPwmRep:              "PwmRep",
}

func (t RPCTag) String() string {
	if name, ok := rpcTagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("RPCTag(0x%02x)", uint8(t))
}

// Valid reports whether t is part of the catalogue.
func (t RPCTag) Valid() bool {
	_, ok := rpcTagNames[t]
	return ok
}

// IsControl reports whether t belongs to the control group.
func (t RPCTag) IsControl() bool { return t < 0x10 }

// replyTags maps each request to the only reply variant accepted for it.
var replyTags = map[RPCTag]RPCTag{
	TagPingReq:             TagPingRep,
	TagMoveReq:             TagMoveRep,
	TagMoveStatusReq:       TagMoveStatusRep,
	TagMoveCancelReq:       TagMoveCancelRep,
	TagPidParamUpdateReq:   TagPidParamUpdateRep,
	TagRawTeleOpReq:        TagRawTeleOpRep,
	TagGetFrontDistanceReq: TagGetFrontDistanceRep,
	TagPwmReq:              TagPwmRep,
}

// ReplyTag returns the reply variant expected for the request tag req.
// ok is false for replies, unknown tags, and requests that are never answered
// (EndReq).
func ReplyTag(req RPCTag) (rep RPCTag, ok bool) {
	rep, ok = replyTags[req]
	return rep, ok
}

// RPCPayload is the closed set of RPC payload variants below.
type RPCPayload interface {
	RPCTag() RPCTag
	isRPCPayload()
}

// PingReq asks the device for its clock.
type PingReq struct{}

// PingRep carries the device-relative time in milliseconds.
type PingRep struct {
	TimeMs uint32 `json:"time_ms"`
}

// EndReq tells the device the host is leaving. It is never answered.
type EndReq struct{}

// MoveReq starts a profiled move.
//
// Distance is in encoder ticks of the reference wheel; the profile limits are
// in ticks per second (and its derivatives). Ratio is the follower/reference
// wheel speed ratio.
type MoveReq struct {
	Distance        int32   `json:"distance"`
	MaxVelocity     float32 `json:"max_velocity"`
	MaxAccel        float32 `json:"max_accel"`
	MaxJerk         float32 `json:"max_jerk"`
	Ratio           float32 `json:"ratio"`
	RefLeft         bool    `json:"ref_left"`
	Steering        float32 `json:"steering"`
	SteeringSetupMs uint16  `json:"steering_setup_ms"`
	Reverse         bool    `json:"reverse"`
}

// MoveStatus is the device's answer to a MoveReq.
type MoveStatus uint8

const (
	MoveAccepted MoveStatus = 0
	MoveBusy     MoveStatus = 1
)

func (s MoveStatus) String() string {
	switch s {
	case MoveAccepted:
		return "accepted"
	case MoveBusy:
		return "busy"
	default:
		return fmt.Sprintf("MoveStatus(%d)", uint8(s))
	}
}

// MoveRep acknowledges a MoveReq.
type MoveRep struct {
	Status MoveStatus `json:"status"`
}

// MoveStatusReq polls the progress of the current move.
type MoveStatusReq struct{}

// MoveStatusRep reports the progress of the current move.
type MoveStatusRep struct {
	Moving     bool   `json:"moving"`
	TicksLeft  int32  `json:"ticks_left"`
	TicksRight int32  `json:"ticks_right"`
	ElapsedMs  uint32 `json:"elapsed_ms"`
}

// MoveCancelReq aborts the current move, if any.
type MoveCancelReq struct{}

// MoveCancelRep acknowledges a MoveCancelReq.
type MoveCancelRep struct{}

// PidParams configures one wheel's position control loop.
type PidParams struct {
	Kp          float32 `json:"kp" toml:"kp"`
	Ki          float32 `json:"ki" toml:"ki"`
	Kd          float32 `json:"kd" toml:"kd"`
	PLimit      float32 `json:"p_limit" toml:"p_limit"`
	ILimit      float32 `json:"i_limit" toml:"i_limit"`
	DLimit      float32 `json:"d_limit" toml:"d_limit"`
	OutputLimit float32 `json:"output_limit" toml:"output_limit"`
}

// PidParamUpdateReq replaces both wheels' PID parameters. Params is [left, right].
type PidParamUpdateReq struct {
	Params           [2]PidParams `json:"params"`
	UpdateIntervalMs uint16       `json:"update_interval_ms"`
}

// PidParamUpdateRep acknowledges a PidParamUpdateReq.
type PidParamUpdateRep struct{}

// RawTeleOpReq drives the actuators directly, bypassing motion profiles.
type RawTeleOpReq struct {
	Throttle float32 `json:"throttle"`
	Steering float32 `json:"steering"`
}

// RawTeleOpRep acknowledges a RawTeleOpReq.
type RawTeleOpRep struct{}

// GetFrontDistanceReq triggers a ranging measurement.
type GetFrontDistanceReq struct{}

// GetFrontDistanceRep is the result of a ranging measurement. Distance is only
// meaningful when Valid is set.
type GetFrontDistanceRep struct {
	StartTimeMs uint32  `json:"start_time_ms"`
	EndTimeMs   uint32  `json:"end_time_ms"`
	Valid       bool    `json:"valid"`
	Distance    float32 `json:"distance"`
}

// PwmReq sets the status LED duty cycles.
type PwmReq struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// PwmRep acknowledges a PwmReq.
type PwmRep struct{}

func (PingReq) RPCTag() RPCTag             { return TagPingReq }
func (PingRep) RPCTag() RPCTag             { return TagPingRep }
func (EndReq) RPCTag() RPCTag              { return TagEndReq }
func (MoveReq) RPCTag() RPCTag             { return TagMoveReq }
func (MoveRep) RPCTag() RPCTag             { return TagMoveRep }
func (MoveStatusReq) RPCTag() RPCTag       { return TagMoveStatusReq }
func (MoveStatusRep) RPCTag() RPCTag       { return TagMoveStatusRep }
func (MoveCancelReq) RPCTag() RPCTag       { return TagMoveCancelReq }
func (MoveCancelRep) RPCTag() RPCTag       { return TagMoveCancelRep }
func (PidParamUpdateReq) RPCTag() RPCTag   { return TagPidParamUpdateReq }
func (PidParamUpdateRep) RPCTag() RPCTag   { return TagPidParamUpdateRep }
func (RawTeleOpReq) RPCTag() RPCTag        { return TagRawTeleOpReq }
func (RawTeleOpRep) RPCTag() RPCTag        { return TagRawTeleOpRep }
func (GetFrontDistanceReq) RPCTag() RPCTag { return TagGetFrontDistanceReq }
func (GetFrontDistanceRep) RPCTag() RPCTag { return TagGetFrontDistanceRep }
func (PwmReq) RPCTag() RPCTag              { return TagPwmReq }
func (PwmRep) RPCTag() RPCTag              { return TagPwmRep }

func (PingReq) isRPCPayload()             {}
func (PingRep) isRPCPayload()             {}
func (EndReq) isRPCPayload()              {}
func (MoveReq) isRPCPayload()             {}
func (MoveRep) isRPCPayload()             {}
func (MoveStatusReq) isRPCPayload()       {}
func (MoveStatusRep) isRPCPayload()       {}
func (MoveCancelReq) isRPCPayload()       {}
func (MoveCancelRep) isRPCPayload()       {}
func (PidParamUpdateReq) isRPCPayload()   {}
func (PidParamUpdateRep) isRPCPayload()   {}
func (RawTeleOpReq) isRPCPayload()        {}
func (RawTeleOpRep) isRPCPayload()        {}
func (GetFrontDistanceReq) isRPCPayload() {}
func (GetFrontDistanceRep) isRPCPayload() {}
func (PwmReq) isRPCPayload()              {}
func (PwmRep) isRPCPayload()              {}
