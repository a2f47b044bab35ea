// Package message defines the values exchanged between the host and the device.
//
// A Message is a closed tagged union of exactly two classes:
//
//	Message ─┬─ RPC{ID, Payload RPCPayload}      request/response, correlated by ID
//	         └─ Stream{Payload StreamPayload}     one-way telemetry, no ID
//
// The class is decided by the Go type alone (and by the class byte on the wire),
// never by looking at the payload. The payload catalogues are fixed per protocol
// version and must match exactly between device and host builds.
package message

import "fmt"

// Message is either an RPC or a Stream value.
type Message interface {
	isMessage()
}

// RPC carries a request or a reply.
//
// ID is picked by the host for a request and echoed unchanged by the device
// in the matching reply.
type RPC struct {
	ID      uint16
	Payload RPCPayload
}

// Stream carries one telemetry sample.
type Stream struct {
	Payload StreamPayload
}

func (RPC) isMessage()    {}
func (Stream) isMessage() {}

func (m RPC) String() string {
	if m.Payload == nil {
		return fmt.Sprintf("RPC{id=%d <nil>}", m.ID)
	}
	return fmt.Sprintf("RPC{id=%d %s}", m.ID, m.Payload.RPCTag())
}

func (m Stream) String() string {
	if m.Payload == nil {
		return "Stream{<nil>}"
	}
	return fmt.Sprintf("Stream{%s}", m.Payload.StreamTag())
}
