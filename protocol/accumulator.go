package protocol

import (
	"bytes"

	"github.com/mdp2021s129-bot/hdcomm/message"
)

// FeedStatus is the outcome of one Accumulator.Feed call.
type FeedStatus int

const (
	// Consumed: no complete frame yet, every byte of the chunk was buffered.
	Consumed FeedStatus = iota
	// Success: a frame was decoded into FeedResult.Message.
	Success
	// Overflow: the buffer filled up before a delimiter; it has been cleared.
	Overflow
	// DeserError: a delimited frame did not decode; the buffer has been cleared.
	DeserError
)

func (s FeedStatus) String() string {
	switch s {
	case Consumed:
		return "consumed"
	case Success:
		return "success"
	case Overflow:
		return "overflow"
	case DeserError:
		return "deserialization error"
	default:
		return "unknown"
	}
}

// FeedResult is returned by Accumulator.Feed.
//
// Remaining is always a sub-slice of the fed chunk: the bytes after the frame
// that produced this result. The caller feeds it again to pick up further
// frames from the same chunk.
type FeedResult struct {
	Status    FeedStatus
	Message   message.Message // set on Success
	Err       error           // set on DeserError
	Remaining []byte
}

// Accumulator turns a chunked byte stream into messages using a fixed buffer.
//
// Chunks may split or join frames arbitrarily; partial frames are carried over
// between Feed calls. The zero value is ready to use. An Accumulator must not
// be used from more than one goroutine at a time.
type Accumulator struct {
	buf [MaxEncodedLength]byte
	idx int
	// discarding is set after an overflow that had no delimiter in sight;
	// bytes are dropped until the next delimiter.
	discarding bool
}

// Reset drops any partially received frame.
func (a *Accumulator) Reset() {
	a.idx = 0
	a.discarding = false
}

// Buffered returns the number of bytes of the current partial frame.
func (a *Accumulator) Buffered() int {
	return a.idx
}

// Feed consumes chunk up to and including the delimiter that ends the next
// non-empty frame.
//
//	chunk:  [ ...frame bytes... 0x00 | remaining... ]
//	                         ▲
//	                         first delimiter ends the frame started in an earlier Feed
//
// Empty frames (two delimiters in a row) are skipped. If the bytes before a
// delimiter do not fit, the result is Overflow and Remaining starts after the
// delimiter. If the chunk has no delimiter and does not fit, the result is
// Overflow with an empty Remaining, and every byte up to the next delimiter,
// in this chunk or a later one, is dropped.
func (a *Accumulator) Feed(chunk []byte) FeedResult {
	for len(chunk) > 0 {
		n := bytes.IndexByte(chunk, Delimiter)

		if a.discarding {
			if n < 0 {
				return FeedResult{Status: Consumed}
			}
			a.discarding = false
			chunk = chunk[n+1:]
			continue
		}

		if n < 0 {
			if !a.extend(chunk) {
				a.idx = 0
				a.discarding = true
				return FeedResult{Status: Overflow, Remaining: chunk[len(chunk):]}
			}
			return FeedResult{Status: Consumed}
		}

		take, rest := chunk[:n], chunk[n+1:]
		if !a.extend(take) {
			a.idx = 0
			return FeedResult{Status: Overflow, Remaining: rest}
		}
		if a.idx == 0 {
			chunk = rest
			continue
		}

		msg, err := Decode(a.buf[:a.idx])
		a.idx = 0
		if err != nil {
			return FeedResult{Status: DeserError, Err: err, Remaining: rest}
		}
		return FeedResult{Status: Success, Message: msg, Remaining: rest}
	}
	return FeedResult{Status: Consumed}
}

func (a *Accumulator) extend(b []byte) bool {
	if a.idx+len(b) > len(a.buf) {
		return false
	}
	a.idx += copy(a.buf[a.idx:], b)
	return true
}
