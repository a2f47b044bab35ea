// Package codec implements the compact binary serialization of message.Message.
//
// The layout is deterministic and every body has a fixed size, so the device
// side can decode it without allocating. All integers and floats are
// little-endian.
//
//	RPC:    ┌──────┬─────────┬─────┬────────────┐
//	        │ 0x00 │ id u16  │ tag │ body ...   │
//	        └──────┴─────────┴─────┴────────────┘
//	Stream: ┌──────┬─────┬────────────┐
//	        │ 0x01 │ tag │ body ...   │
//	        └──────┴─────┴────────────┘
//
// The output of this package is not self-delimiting; protocol wraps it in a frame.
package codec

import (
	"errors"
	"fmt"

	"github.com/mdp2021s129-bot/hdcomm/message"
)

// MaxMessageLength is the largest serialized message accepted by either end.
// Device and host builds must agree on it, otherwise valid frames look like
// overflows to the receiver.
const MaxMessageLength = 256

// Message class discriminants.
const (
	ClassRPC    byte = 0x00
	ClassStream byte = 0x01
)

var (
	// ErrMessageTooLarge is returned by Marshal for messages longer than
	// MaxMessageLength. No catalogue member can reach it.
	ErrMessageTooLarge = errors.New("codec: message exceeds maximum length")
	// ErrDeserialize wraps every Unmarshal failure.
	ErrDeserialize = errors.New("codec: deserialization")
	// ErrUnknownPayload is returned by Marshal for payload types outside the catalogue.
	ErrUnknownPayload = errors.New("codec: unknown payload type")
)

// Marshal serializes m into a new slice.
func Marshal(m message.Message) ([]byte, error) {
	return AppendMarshal(make([]byte, 0, 64), m)
}

// AppendMarshal appends the serialized form of m to dst. On error dst is
// returned unchanged.
func AppendMarshal(dst []byte, m message.Message) ([]byte, error) {
	start := len(dst)
	w := writer{buf: dst}

	switch m := m.(type) {
	case message.RPC:
		if m.Payload == nil {
			return dst, fmt.Errorf("%w: nil RPC payload", ErrUnknownPayload)
		}
		w.u8(ClassRPC)
		w.u16(m.ID)
		w.u8(uint8(m.Payload.RPCTag()))
		if err := putRPCBody(&w, m.Payload); err != nil {
			return dst, err
		}
	case message.Stream:
		if m.Payload == nil {
			return dst, fmt.Errorf("%w: nil stream payload", ErrUnknownPayload)
		}
		w.u8(ClassStream)
		w.u8(uint8(m.Payload.StreamTag()))
		if err := putStreamBody(&w, m.Payload); err != nil {
			return dst, err
		}
	default:
		return dst, fmt.Errorf("%w: %T", ErrUnknownPayload, m)
	}

	if len(w.buf)-start > MaxMessageLength {
		return dst, ErrMessageTooLarge
	}
	return w.buf, nil
}

// Unmarshal decodes exactly one message from data. Trailing bytes are an error.
func Unmarshal(data []byte) (message.Message, error) {
	r := reader{buf: data}

	var msg message.Message
	switch class := r.u8(); {
	case r.err != nil:
	case class == ClassRPC:
		id := r.u16()
		tag := message.RPCTag(r.u8())
		if r.err != nil {
			break
		}
		payload := getRPCBody(&r, tag)
		msg = message.RPC{ID: id, Payload: payload}
	case class == ClassStream:
		tag := message.StreamTag(r.u8())
		if r.err != nil {
			break
		}
		payload := getStreamBody(&r, tag)
		msg = message.Stream{Payload: payload}
	default:
		r.fail(fmt.Errorf("unknown message class 0x%02x", class))
	}

	if r.err == nil && r.off != len(r.buf) {
		r.fail(fmt.Errorf("%d trailing bytes", len(r.buf)-r.off))
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialize, r.err)
	}
	return msg, nil
}
