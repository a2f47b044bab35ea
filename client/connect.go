package client

import (
	"io"

	"github.com/google/uuid"

	"github.com/mdp2021s129-bot/hdcomm/logx"
	"github.com/mdp2021s129-bot/hdcomm/middleware"
	"github.com/mdp2021s129-bot/hdcomm/router"
	"github.com/mdp2021s129-bot/hdcomm/transport"
)

type options struct {
	routerOpts []router.Option
	mws        []middleware.Middleware
}

// Option configures Connect and Dial.
type Option func(*options)

// WithRouterOptions passes options to the router.
func WithRouterOptions(opts ...router.Option) Option {
	return func(o *options) { o.routerOpts = append(o.routerOpts, opts...) }
}

// WithMiddleware wraps every call of the returned proxy.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.mws = append(o.mws, mws...) }
}

// Connect opens the serial port at path and returns the router and proxy for
// it. The caller must run the router:
//
//	r, p, err := client.Connect("/dev/ttyUSB0", 115200)
//	go r.Run(ctx)
//	rep, err := p.Ping(ctx)
func Connect(path string, baud int, opts ...Option) (*router.Router, *Proxy, error) {
	conn, err := transport.OpenSerial(path, baud)
	if err != nil {
		return nil, nil, err
	}
	r, p := newLink(conn, opts)
	logx.Log.Info().Str("link", p.LinkID()).Str("port", path).Int("baud", baud).Msg("serial link opened")
	return r, p, nil
}

// Dial is Connect over an already open stream. Closing the router closes rw
// if it is an io.Closer.
func Dial(rw io.ReadWriter, opts ...Option) (*router.Router, *Proxy) {
	return newLink(transport.NewConn(rw), opts)
}

func newLink(conn *transport.Conn, opts []Option) (*router.Router, *Proxy) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	logger := logx.With("router").With().Str("link", id).Logger()
	routerOpts := append([]router.Option{router.WithLogger(logger)}, o.routerOpts...)

	r := router.New(conn, routerOpts...)
	p := NewProxy(conn, r.Handle(), o.mws...)
	p.linkID = id
	return r, p
}
