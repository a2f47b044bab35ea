// Package transport binds the frame format to a byte stream.
//
// Conn is the host side of the link. One goroutine reads (the router), any
// number of goroutines write, and the two directions share no state:
//
//	ReadMessage:  rw.Read ──→ rbuf ──→ Accumulator.Feed ──→ Message
//	                              ▲                │
//	                              └── leftovers ◄──┘ (next frame of the same chunk)
//
//	WriteMessage: Message ──→ protocol.Frame ──→ one rw.Write
//
// Framing errors cost exactly one frame and are returned as recoverable
// errors; I/O errors end the connection.
package transport

import (
	"fmt"
	"io"

	"github.com/mdp2021s129-bot/hdcomm/message"
	"github.com/mdp2021s129-bot/hdcomm/protocol"
)

// readBufferSize is the chunk size of one Read on the underlying stream.
const readBufferSize = 512

// Conn frames messages over an io.ReadWriter.
//
// ReadMessage must not be called concurrently with itself, and WriteMessage
// must not be called concurrently with itself; callers serialize writers
// (client.Proxy holds a mutex around every write).
type Conn struct {
	rw io.ReadWriter

	acc     protocol.Accumulator
	rbuf    [readBufferSize]byte
	pending []byte // unread tail of rbuf
	readErr error  // sticky once the stream failed

	wbuf [protocol.FrameBufferSize]byte
}

// NewConn wraps rw. If rw is also an io.Closer, Close closes it.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw}
}

// ReadMessage blocks until the next message is decoded.
//
// It returns ErrFrameOverflow or a wrapped ErrDeserialization when a frame was
// dropped (see IsRecoverable), and an *IOError once the stream fails. Bytes
// already buffered are still delivered before the I/O error is reported.
func (c *Conn) ReadMessage() (message.Message, error) {
	for {
		for len(c.pending) > 0 {
			res := c.acc.Feed(c.pending)
			c.pending = res.Remaining

			switch res.Status {
			case protocol.Success:
				return res.Message, nil
			case protocol.Overflow:
				return nil, ErrFrameOverflow
			case protocol.DeserError:
				return nil, fmt.Errorf("%w: %w", ErrDeserialization, res.Err)
			}
		}

		if c.readErr != nil {
			return nil, c.readErr
		}

		n, err := c.rw.Read(c.rbuf[:])
		c.pending = c.rbuf[:n]
		if err != nil {
			c.readErr = &IOError{Op: "read", Err: err}
		}
		// n == 0 with a nil error is legal for serial ports with a read
		// timeout; just read again.
	}
}

// WriteMessage frames m and writes it with a single Write call.
func (c *Conn) WriteMessage(m message.Message) error {
	frame, err := protocol.Frame(m, c.wbuf[:])
	if err != nil {
		return err
	}
	if _, err := c.rw.Write(frame); err != nil {
		return &IOError{Op: "write", Err: err}
	}
	return nil
}

// Close closes the underlying stream if it can be closed.
func (c *Conn) Close() error {
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
