package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"

	"github.com/mdp2021s129-bot/hdcomm/message"
	"github.com/mdp2021s129-bot/hdcomm/router"
)

// telemetry streams every stream payload to a websocket client until either
// side goes away. Samples the client is too slow for are skipped.
func (g *gateway) telemetry(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	// Nothing is read from the client; CloseRead handles control frames and
	// cancels ctx when the client disconnects.
	ctx := conn.CloseRead(r.Context())
	sub := g.dev.Subscribe()

	for {
		p, err := sub.Recv(ctx)
		var lagged *router.LaggedError
		switch {
		case err == nil:
		case errors.As(err, &lagged):
			g.log.Debug().Uint64("skipped", lagged.Skipped).Msg("telemetry client lagging")
			continue
		case errors.Is(err, router.ErrClosed):
			conn.Close(websocket.StatusGoingAway, "link closed")
			return
		default:
			return
		}

		b, err := json.Marshal(message.NewTelemetry(p))
		if err != nil {
			g.log.Error().Err(err).Msg("telemetry encode failed")
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return
		}
	}
}
