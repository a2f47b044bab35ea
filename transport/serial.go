package transport

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenSerial opens a serial port at the given baud rate with 8 data bits, no
// parity, one stop bit and no flow control, and returns a Conn over it.
func OpenSerial(path string, baud int) (*Conn, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	return NewConn(port), nil
}
