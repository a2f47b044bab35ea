package message

// Telemetry is the JSON envelope for stream payloads sent to external
// consumers (websocket clients, redis subscribers).
//
//	{"type":"Ahrs","data":{"acc":[0,0,16384],...,"time_ms":1234}}
type Telemetry struct {
	Type string        `json:"type"`
	Data StreamPayload `json:"data"`
}

func NewTelemetry(p StreamPayload) Telemetry {
	return Telemetry{Type: p.StreamTag().String(), Data: p}
}
