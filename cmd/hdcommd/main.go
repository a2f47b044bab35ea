// Command hdcommd bridges a device on a serial port to HTTP, redis and etcd.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdp2021s129-bot/hdcomm/client"
	"github.com/mdp2021s129-bot/hdcomm/config"
	"github.com/mdp2021s129-bot/hdcomm/gateway"
	"github.com/mdp2021s129-bot/hdcomm/logx"
	"github.com/mdp2021s129-bot/hdcomm/metrics"
	"github.com/mdp2021s129-bot/hdcomm/middleware"
	"github.com/mdp2021s129-bot/hdcomm/registry"
	"github.com/mdp2021s129-bot/hdcomm/relay"
	"github.com/mdp2021s129-bot/hdcomm/router"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	port := flag.String("port", "", "serial port, overrides serial.name")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("hdcommd version=%s\n", version)
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			logx.Log.Fatal().Err(err).Msg("load config")
		}
	}
	if *port != "" {
		cfg.Serial.Name = *port
	}
	logx.Configure(cfg.Log.Level)
	metrics.Register()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		logx.Log.Fatal().Err(err).Msg("bridge exited")
	}
}

// proxyMiddleware builds the call stack from config, outermost first.
func proxyMiddleware(c config.Proxy) []middleware.Middleware {
	mws := []middleware.Middleware{middleware.MetricsMiddleware(), middleware.LoggingMiddleware()}
	if c.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(c.RateLimit, c.RateBurst))
	}
	if c.Retries > 0 {
		mws = append(mws, middleware.RetryMiddleware(c.Retries, c.RetryDelay()))
	}
	if c.CallTimeoutMs > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(c.CallTimeout()))
	}
	return mws
}

func run(ctx context.Context, cfg config.Config) error {
	r, p, err := client.Connect(cfg.Serial.Name, cfg.Serial.Baud,
		client.WithRouterOptions(router.WithStreamCapacity(cfg.Router.StreamCapacity)),
		client.WithMiddleware(proxyMiddleware(cfg.Proxy)...))
	if err != nil {
		return err
	}
	defer r.Close()

	// The router outlives ctx so the EndReq below still reaches the device.
	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(context.Background()) }()

	rep, err := client.Synchronize(ctx, p, 200*time.Millisecond)
	if err != nil {
		return fmt.Errorf("synchronize: %w", err)
	}
	logx.Log.Info().Uint32("device_ms", rep.TimeMs).Str("link", p.LinkID()).Msg("device ready")

	if cfg.Motion.UploadPID {
		if err := p.PidParamUpdate(ctx, cfg.Motion.PidUpdate()); err != nil {
			return fmt.Errorf("upload pid params: %w", err)
		}
		logx.Log.Info().Uint16("interval_ms", cfg.Motion.PidUpdateIntervalMs).Msg("pid params uploaded")
	}

	var reg registry.Registry
	if len(cfg.Registry.Endpoints) > 0 {
		etcd, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints)
		if err != nil {
			return err
		}
		defer etcd.Close()

		inst := registry.Instance{
			Addr:    cfg.Registry.Advertise,
			Serial:  cfg.Serial.Name,
			LinkID:  p.LinkID(),
			Version: version,
		}
		if inst.Addr == "" {
			inst.Addr = cfg.Server.Addr
		}
		if err := etcd.Register(ctx, cfg.Registry.Name, inst, cfg.Registry.TTL); err != nil {
			return err
		}
		defer func() {
			dctx, dcancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer dcancel()
			if err := etcd.Deregister(dctx, cfg.Registry.Name, inst.Addr); err != nil {
				logx.Log.Warn().Err(err).Msg("deregister failed")
			}
		}()
		reg = etcd
	}

	if cfg.Relay.RedisURL != "" {
		rl, err := relay.New(ctx, cfg.Relay.RedisURL, cfg.Relay.Channel, cfg.Relay.LatestKey)
		if err != nil {
			return err
		}
		defer rl.Close()
		sub := p.Subscribe()
		go func() {
			if err := rl.Run(ctx, sub); err != nil {
				logx.Log.Error().Err(err).Msg("relay stopped")
			}
		}()
	}

	var srv *http.Server
	if cfg.Server.Addr != "" {
		srv = &http.Server{
			Addr: cfg.Server.Addr,
			Handler: gateway.New(p, gateway.Options{
				CallTimeout: cfg.Proxy.CallTimeout(),
				Done:        r.Done(),
				Bridges:     reg,
				Name:        cfg.Registry.Name,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logx.Log.Info().Str("addr", srv.Addr).Msg("gateway listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logx.Log.Error().Err(err).Msg("gateway stopped")
			}
		}()
	}

	select {
	case <-ctx.Done():
		logx.Log.Info().Msg("shutting down")
	case err := <-runErr:
		if err == nil {
			err = client.ErrDisconnected
		}
		return fmt.Errorf("link lost: %w", err)
	}

	if srv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	}
	if err := p.End(); err != nil {
		logx.Log.Debug().Err(err).Msg("end request not sent")
	}
	return nil
}
