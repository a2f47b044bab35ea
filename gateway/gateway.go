// Package gateway exposes the device over HTTP.
//
//	GET    /healthz             200 while the link is up, 503 after it dropped
//	GET    /metrics             prometheus
//	GET    /v1/bridges          bridges announced under the same name
//	POST   /v1/ping             PingReq            → PingRep
//	POST   /v1/move             MoveReq            → MoveRep
//	GET    /v1/move             MoveStatusReq      → MoveStatusRep
//	DELETE /v1/move             MoveCancelReq      → MoveCancelRep
//	PUT    /v1/pid              PidParamUpdateReq  → PidParamUpdateRep
//	POST   /v1/teleop           RawTeleOpReq       → RawTeleOpRep
//	GET    /v1/front-distance   GetFrontDistanceReq → GetFrontDistanceRep
//	PUT    /v1/led              PwmReq             → PwmRep
//	GET    /v1/telemetry        websocket, one message.Telemetry JSON per sample
//
// Request and reply bodies are the JSON form of the payload types.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mdp2021s129-bot/hdcomm/client"
	"github.com/mdp2021s129-bot/hdcomm/logx"
	"github.com/mdp2021s129-bot/hdcomm/message"
	"github.com/mdp2021s129-bot/hdcomm/metrics"
	"github.com/mdp2021s129-bot/hdcomm/middleware"
	"github.com/mdp2021s129-bot/hdcomm/registry"
	"github.com/mdp2021s129-bot/hdcomm/router"
)

// Device is what the gateway needs from a link. *client.Proxy implements it.
type Device interface {
	Call(ctx context.Context, req message.RPCPayload) (message.RPCPayload, error)
	Subscribe() *router.Subscription[message.StreamPayload]
}

type Options struct {
	// CallTimeout bounds every RPC made on behalf of a request. Zero means
	// the request context alone decides.
	CallTimeout time.Duration
	// Done, when set, is closed once the link is gone; /healthz reports 503
	// from then on.
	Done <-chan struct{}
	// Bridges and Name back /v1/bridges. A nil registry disables the route.
	Bridges registry.Registry
	Name    string
}

type gateway struct {
	dev  Device
	opts Options
	log  zerolog.Logger
}

// New builds the HTTP handler.
func New(dev Device, opts Options) http.Handler {
	g := &gateway{dev: dev, opts: opts, log: logx.With("gateway")}
	metrics.Register()

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID, chiMiddleware.Recoverer, g.requestLogger)

	r.Get("/healthz", g.healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(v chi.Router) {
		if opts.Bridges != nil {
			v.Get("/bridges", g.bridges)
		}
		v.Post("/ping", rpc[message.PingReq](g))
		v.Post("/move", rpc[message.MoveReq](g))
		v.Get("/move", rpc[message.MoveStatusReq](g))
		v.Delete("/move", rpc[message.MoveCancelReq](g))
		v.Put("/pid", rpc[message.PidParamUpdateReq](g))
		v.Post("/teleop", rpc[message.RawTeleOpReq](g))
		v.Get("/front-distance", rpc[message.GetFrontDistanceReq](g))
		v.Put("/led", rpc[message.PwmReq](g))
		v.Get("/telemetry", g.telemetry)
	})
	return r
}

func (g *gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		g.log.Debug().Str("method", r.Method).Str("url", r.URL.String()).
			Int("status", ww.Status()).Dur("duration", time.Since(start)).Msg("http")
	})
}

func (g *gateway) healthz(w http.ResponseWriter, r *http.Request) {
	if g.opts.Done != nil {
		select {
		case <-g.opts.Done:
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "disconnected"})
			return
		default:
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *gateway) bridges(w http.ResponseWriter, r *http.Request) {
	list, err := g.opts.Bridges.Discover(r.Context(), g.opts.Name)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// rpc decodes the body into Req (an empty body is the zero request), makes
// the call and writes the reply.
func rpc[Req message.RPCPayload](g *gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		ctx := r.Context()
		if g.opts.CallTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.opts.CallTimeout)
			defer cancel()
		}

		rep, err := g.dev.Call(ctx, req)
		if err != nil {
			g.log.Warn().Err(err).Stringer("method", req.RPCTag()).Msg("call failed")
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, client.ErrDisconnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, client.ErrTooManyInFlight), errors.Is(err, middleware.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, client.ErrBadResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
