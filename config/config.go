// Package config loads the bridge configuration from TOML.
//
// A file only needs the keys it wants to change; everything else keeps the
// value from Default. Example:
//
//	[serial]
//	name = "/dev/ttyACM0"
//	baud = 115200
//
//	[motion]
//	pid_update_interval_ms = 10
//	[motion.pid_left]
//	kp = 1.2
//	ki = 0.05
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/mdp2021s129-bot/hdcomm/message"
)

type Config struct {
	Serial   Serial   `toml:"serial"`
	Server   Server   `toml:"server"`
	Log      Log      `toml:"log"`
	Proxy    Proxy    `toml:"proxy"`
	Router   Router   `toml:"router"`
	Motion   Motion   `toml:"motion"`
	Registry Registry `toml:"registry"`
	Relay    Relay    `toml:"relay"`
}

// Serial selects the port the device is attached to.
type Serial struct {
	Name string `toml:"name"`
	Baud int    `toml:"baud"`
}

// Server is the HTTP gateway. An empty Addr disables it.
type Server struct {
	Addr string `toml:"addr"`
}

type Log struct {
	Level string `toml:"level"`
}

// Proxy configures the middleware around every call. Zero values disable the
// corresponding layer.
type Proxy struct {
	CallTimeoutMs int     `toml:"call_timeout_ms"`
	Retries       int     `toml:"retries"`
	RetryDelayMs  int     `toml:"retry_delay_ms"`
	RateLimit     float64 `toml:"rate_limit"`
	RateBurst     int     `toml:"rate_burst"`
}

type Router struct {
	StreamCapacity int `toml:"stream_capacity"`
}

// Motion holds the controller gains uploaded to the device at startup.
type Motion struct {
	UploadPID           bool              `toml:"upload_pid"`
	PidLeft             message.PidParams `toml:"pid_left"`
	PidRight            message.PidParams `toml:"pid_right"`
	PidUpdateIntervalMs uint16            `toml:"pid_update_interval_ms"`
}

// Registry announces the bridge in etcd. No endpoints disables it.
type Registry struct {
	Endpoints []string `toml:"endpoints"`
	Name      string   `toml:"name"`
	Advertise string   `toml:"advertise"`
	TTL       int64    `toml:"ttl"`
}

// Relay mirrors telemetry into redis. An empty RedisURL disables it.
type Relay struct {
	RedisURL  string `toml:"redis_url"`
	Channel   string `toml:"channel"`
	LatestKey string `toml:"latest_key"`
}

// Default returns the configuration used for keys a file does not set.
func Default() Config {
	return Config{
		Serial: Serial{Name: "/dev/ttyACM0", Baud: 115200},
		Server: Server{Addr: ":8080"},
		Log:    Log{Level: "info"},
		Proxy:  Proxy{CallTimeoutMs: 1000, RetryDelayMs: 50},
		Router: Router{StreamCapacity: 1024},
		Motion: Motion{PidUpdateIntervalMs: 10},
		Registry: Registry{
			Name: "hdcomm",
			TTL:  10,
		},
		Relay: Relay{
			Channel:   "hdcomm:telemetry",
			LatestKey: "hdcomm:telemetry:latest",
		},
	}
}

// Load reads path over Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Serial.Name) == "" {
		return fmt.Errorf("serial.name is required")
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud)
	}
	if c.Proxy.CallTimeoutMs < 0 || c.Proxy.Retries < 0 || c.Proxy.RetryDelayMs < 0 {
		return fmt.Errorf("proxy settings must not be negative")
	}
	if c.Proxy.RateLimit < 0 || (c.Proxy.RateLimit > 0 && c.Proxy.RateBurst < 1) {
		return fmt.Errorf("proxy.rate_burst must be at least 1 when rate_limit is set")
	}
	if c.Router.StreamCapacity < 1 {
		return fmt.Errorf("router.stream_capacity must be at least 1")
	}
	if len(c.Registry.Endpoints) > 0 {
		if strings.TrimSpace(c.Registry.Name) == "" {
			return fmt.Errorf("registry.name is required when endpoints are set")
		}
		if c.Registry.TTL < 1 {
			return fmt.Errorf("registry.ttl must be at least 1")
		}
	}
	if c.Relay.RedisURL != "" && c.Relay.Channel == "" {
		return fmt.Errorf("relay.channel is required when redis_url is set")
	}
	return nil
}

func (p Proxy) CallTimeout() time.Duration {
	return time.Duration(p.CallTimeoutMs) * time.Millisecond
}

func (p Proxy) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelayMs) * time.Millisecond
}

// PidUpdate is the request that uploads the configured gains.
func (m Motion) PidUpdate() message.PidParamUpdateReq {
	return message.PidParamUpdateReq{
		Params:           [2]message.PidParams{m.PidLeft, m.PidRight},
		UpdateIntervalMs: m.PidUpdateIntervalMs,
	}
}
