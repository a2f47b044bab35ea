// Package relay mirrors device telemetry into redis.
//
// Every stream payload is published as a JSON message.Telemetry on a pub/sub
// channel, and the last one is also stored under a plain key so late
// consumers can read the current state without subscribing.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mdp2021s129-bot/hdcomm/logx"
	"github.com/mdp2021s129-bot/hdcomm/message"
	"github.com/mdp2021s129-bot/hdcomm/metrics"
	"github.com/mdp2021s129-bot/hdcomm/router"
)

// Relay publishes telemetry to one redis server.
type Relay struct {
	client    redis.UniversalClient
	channel   string
	latestKey string
	log       zerolog.Logger
}

// New connects to addr, either host:port or a redis:// URL, and checks the
// connection. An empty latestKey disables the latest-value key.
func New(ctx context.Context, addr, channel, latestKey string) (*Relay, error) {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		var err error
		if opts, err = redis.ParseURL(addr); err != nil {
			return nil, fmt.Errorf("relay: %w", err)
		}
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("relay: ping %s: %w", opts.Addr, err)
	}
	return &Relay{
		client:    c,
		channel:   channel,
		latestKey: latestKey,
		log:       logx.With("relay"),
	}, nil
}

// Publish sends one payload.
func (r *Relay) Publish(ctx context.Context, p message.StreamPayload) error {
	b, err := json.Marshal(message.NewTelemetry(p))
	if err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	pipe.Publish(ctx, r.channel, b)
	if r.latestKey != "" {
		pipe.Set(ctx, r.latestKey, b, 0)
	}
	_, err = pipe.Exec(ctx)
	metrics.RecordRelay(err)
	return err
}

// Run publishes everything sub delivers until the stream ends or ctx is done.
// Redis failures are logged and the payload skipped, so a redis outage does
// not stall the link.
func (r *Relay) Run(ctx context.Context, sub *router.Subscription[message.StreamPayload]) error {
	for {
		p, err := sub.Recv(ctx)
		var lagged *router.LaggedError
		switch {
		case err == nil:
		case errors.As(err, &lagged):
			r.log.Warn().Uint64("skipped", lagged.Skipped).Msg("relay fell behind")
			continue
		case errors.Is(err, router.ErrClosed), ctx.Err() != nil:
			return nil
		default:
			return err
		}

		if err := r.Publish(ctx, p); err != nil && ctx.Err() == nil {
			r.log.Warn().Err(err).Msg("publish failed")
		}
	}
}

func (r *Relay) Close() error {
	return r.client.Close()
}
