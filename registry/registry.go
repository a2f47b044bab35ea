package registry

import "context"

// Instance describes one running bridge.
type Instance struct {
	Addr    string `json:"addr"`    // gateway address reachable by other hosts
	Serial  string `json:"serial"`  // serial port the device is attached to
	LinkID  string `json:"link_id"` // changes every time the link is reopened
	Version string `json:"version,omitempty"`
}

// Registry announces bridges under a robot name and lists them.
type Registry interface {
	Register(ctx context.Context, name string, inst Instance, ttl int64) error
	Deregister(ctx context.Context, name string, addr string) error
	Discover(ctx context.Context, name string) ([]Instance, error)
}
