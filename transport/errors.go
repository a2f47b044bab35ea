package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrFrameOverflow: a frame did not fit the accumulator and was dropped.
	// The connection stays usable.
	ErrFrameOverflow = errors.New("transport: frame overflow")
	// ErrDeserialization: a complete frame did not decode to a message. The
	// connection stays usable. The codec error is wrapped as well.
	ErrDeserialization = errors.New("transport: deserialization failed")
)

// IOError is a failure of the underlying reader or writer, EOF included.
// The connection must be considered lost.
type IOError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether err only cost a single frame, so reading may
// continue on the same connection.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrFrameOverflow) || errors.Is(err, ErrDeserialization)
}
