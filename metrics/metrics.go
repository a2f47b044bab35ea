// Package metrics exposes the prometheus collectors for the link, the router,
// RPC calls and the device emulator.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Frame outcomes reported by RecordFrame.
const (
	FrameOK       = "ok"
	FrameOverflow = "overflow"
	FrameDeser    = "deserialization"
)

var (
	registerOnce sync.Once

	linkFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hdcomm",
			Subsystem: "link",
			Name:      "frames_received_total",
			Help:      "Frames read from the link, by outcome.",
		},
		[]string{"outcome"},
	)
	unsolicitedReplies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hdcomm",
			Subsystem: "router",
			Name:      "unsolicited_replies_total",
			Help:      "RPC replies with no registered waiter.",
		},
	)
	streamMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hdcomm",
			Subsystem: "router",
			Name:      "stream_messages_total",
			Help:      "Stream messages published to subscribers.",
		},
		[]string{"payload"},
	)
	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hdcomm",
			Subsystem: "router",
			Name:      "waiters",
			Help:      "Registered RPC waiters.",
		},
	)
	rpcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hdcomm",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "RPC calls issued by the host.",
		},
		[]string{"method", "outcome"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hdcomm",
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "RPC round trip time in seconds.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method"},
	)
	served = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hdcomm",
			Subsystem: "device",
			Name:      "requests_total",
			Help:      "Requests answered by the device emulator.",
		},
		[]string{"method", "outcome"},
	)
	relayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hdcomm",
			Subsystem: "relay",
			Name:      "published_total",
			Help:      "Telemetry messages pushed to redis.",
		},
		[]string{"outcome"},
	)
)

// Register adds every collector to the default registry. It is safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(linkFrames, unsolicitedReplies, streamMessages, inFlight,
			rpcCalls, rpcDuration, served, relayed)
	})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordFrame counts one read from the link.
func RecordFrame(result string) {
	linkFrames.WithLabelValues(result).Inc()
}

func RecordUnsolicitedReply() {
	unsolicitedReplies.Inc()
}

func RecordStream(payload string) {
	streamMessages.WithLabelValues(payload).Inc()
}

// SetWaiters reports the size of the router's waiter table.
func SetWaiters(n int) {
	inFlight.Set(float64(n))
}

// RecordCall counts a finished host call and its round trip time.
func RecordCall(method string, err error, d time.Duration) {
	rpcCalls.WithLabelValues(method, outcome(err)).Inc()
	rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}

func RecordServed(method string, err error) {
	served.WithLabelValues(method, outcome(err)).Inc()
}

func RecordRelay(err error) {
	relayed.WithLabelValues(outcome(err)).Inc()
}
