package message

import "fmt"

// StreamTag is the one-byte discriminant of a stream payload on the wire.
type StreamTag uint8

const (
	TagAhrs StreamTag = 0x00
)

func (t StreamTag) String() string {
	switch t {
	case TagAhrs:
		return "Ahrs"
	default:
		return fmt.Sprintf("StreamTag(0x%02x)", uint8(t))
	}
}

// StreamPayload is the closed set of telemetry variants.
type StreamPayload interface {
	StreamTag() StreamTag
	isStreamPayload()
}

// Ahrs is one raw inertial/magnetic sample. All arrays are [x, y, z] in sensor
// LSBs; scaling is left to the consumer.
type Ahrs struct {
	Acc    [3]int16 `json:"acc"`
	Gyro   [3]int16 `json:"gyro"`
	Mag    [3]int16 `json:"mag"`
	TimeMs uint32   `json:"time_ms"`
}

func (Ahrs) StreamTag() StreamTag { return TagAhrs }
func (Ahrs) isStreamPayload()     {}
