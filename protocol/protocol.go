// Package protocol implements the hdcomm frame format.
//
// A serial line has no message boundaries of its own, so every serialized
// message is byte-stuffed with COBS (Consistent Overhead Byte Stuffing) and
// terminated by a single 0x00 delimiter. COBS guarantees the delimiter never
// appears inside a frame, so a receiver that lost its place only needs to wait
// for the next 0x00 to resynchronize; there is no length prefix that could
// itself be corrupted.
//
// Frame format:
//
//	┌────────────────────────────────────────────┬──────┐
//	│ COBS(codec.Marshal(message))               │ 0x00 │
//	│ 1 .. MaxEncodedLength bytes, no 0x00 inside│      │
//	└────────────────────────────────────────────┴──────┘
//
// The device side uses Frame (caller-provided buffer) and Accumulator (fixed
// array); neither needs a heap.
package protocol

import (
	"errors"
	"fmt"
	"io"

	"github.com/mdp2021s129-bot/hdcomm/codec"
	"github.com/mdp2021s129-bot/hdcomm/message"
)

const (
	// Delimiter starts and terminates every frame.
	Delimiter byte = 0x00
	// MaxMessageLength is the largest serialized message, before stuffing.
	MaxMessageLength = codec.MaxMessageLength
	// MaxEncodedLength is the largest stuffed message, without the delimiter.
	// COBS adds one code byte plus one more per 254 bytes of input.
	MaxEncodedLength = MaxMessageLength + MaxMessageLength/254 + 1
	// FrameBufferSize is enough to hold any frame, both delimiters included.
	FrameBufferSize = MaxEncodedLength + 2
)

var (
	// ErrBufferTooSmall is returned by Frame when buf cannot hold the frame.
	ErrBufferTooSmall = errors.New("protocol: output buffer too small")
	// ErrInvalidFrame is returned for byte sequences that are not valid COBS.
	ErrInvalidFrame = errors.New("protocol: invalid COBS frame")
)

// AppendFrame serializes m, stuffs it, and appends the frame (delimiters
// included) to dst.
func AppendFrame(dst []byte, m message.Message) ([]byte, error) {
	var raw [MaxMessageLength]byte
	body, err := codec.AppendMarshal(raw[:0], m)
	if err != nil {
		return dst, err
	}
	dst = append(dst, Delimiter)
	dst = appendCOBS(dst, body)
	return append(dst, Delimiter), nil
}

// Frame writes the frame for m into buf and returns the used prefix. It does
// not allocate; a buffer of FrameBufferSize bytes always suffices.
func Frame(m message.Message, buf []byte) ([]byte, error) {
	var raw [MaxMessageLength]byte
	body, err := codec.AppendMarshal(raw[:0], m)
	if err != nil {
		return nil, err
	}
	if len(buf) < len(body)+len(body)/254+3 {
		return nil, fmt.Errorf("%w: have %d bytes", ErrBufferTooSmall, len(buf))
	}
	buf[0] = Delimiter
	n := 1 + len(appendCOBS(buf[1:1], body))
	buf[n] = Delimiter
	return buf[:n+1], nil
}

// Encode writes the frame for m to w with a single Write call.
// The caller must serialize concurrent writers; two frames written at the same
// time would interleave and both be lost.
func Encode(w io.Writer, m message.Message) error {
	var buf [FrameBufferSize]byte
	frame, err := Frame(m, buf[:])
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// Decode parses one frame. The leading and trailing delimiters are optional.
// frame is used as scratch space and is overwritten.
func Decode(frame []byte) (message.Message, error) {
	if len(frame) > 0 && frame[0] == Delimiter {
		frame = frame[1:]
	}
	if n := len(frame); n > 0 && frame[n-1] == Delimiter {
		frame = frame[:n-1]
	}
	raw, err := decodeCOBS(frame)
	if err != nil {
		return nil, err
	}
	return codec.Unmarshal(raw)
}
