package client

import (
	"context"
	"errors"
	"time"

	"github.com/mdp2021s129-bot/hdcomm/logx"
	"github.com/mdp2021s129-bot/hdcomm/message"
	"github.com/mdp2021s129-bot/hdcomm/transport"
)

// Synchronize pings until the device answers, giving each attempt up to
// attempt to complete. Use it right after opening a link: a freshly reset
// device may miss the first frames. It gives up when ctx is done or the link
// is lost.
func Synchronize(ctx context.Context, p *Proxy, attempt time.Duration) (message.PingRep, error) {
	logger := logx.With("client")
	for n := 1; ; n++ {
		actx, cancel := context.WithTimeout(ctx, attempt)
		rep, err := p.Ping(actx)
		cancel()

		switch {
		case err == nil:
			logger.Info().Uint32("device_ms", rep.TimeMs).Int("attempts", n).Msg("device synchronized")
			return rep, nil
		case ctx.Err() != nil:
			return message.PingRep{}, ctx.Err()
		case errors.Is(err, ErrDisconnected):
			return message.PingRep{}, err
		}
		var ioErr *transport.IOError
		if errors.As(err, &ioErr) {
			return message.PingRep{}, err
		}
		logger.Debug().Err(err).Int("attempt", n).Msg("device not answering yet")
	}
}
