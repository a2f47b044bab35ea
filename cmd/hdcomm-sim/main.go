// Command hdcomm-sim runs the device emulator on a pseudo-terminal, so
// hdcommd can be pointed at it like a real serial port:
//
//	$ hdcomm-sim
//	... device emulator ready tty=/dev/pts/7
//	$ hdcommd -port /dev/pts/7
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/mdp2021s129-bot/hdcomm/logx"
	"github.com/mdp2021s129-bot/hdcomm/metrics"
	"github.com/mdp2021s129-bot/hdcomm/middleware"
	"github.com/mdp2021s129-bot/hdcomm/server"
)

func main() {
	level := flag.String("log-level", "info", "log level")
	interval := flag.Duration("telemetry", 20*time.Millisecond, "AHRS sample interval, 0 disables")
	front := flag.Float64("front-distance", 1.5, "simulated distance to the obstacle ahead, metres")
	flag.Parse()

	logx.Configure(*level)
	metrics.Register()

	ptmx, tty, err := pty.Open()
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("open pty")
	}
	defer tty.Close()

	// Raw mode so frame bytes pass through the line discipline untouched.
	if _, err := term.MakeRaw(int(tty.Fd())); err != nil {
		logx.Log.Fatal().Err(err).Msg("set raw mode")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mux := server.NewMux()
	sim := server.NewSimulator(float32(*front))
	sim.Register(mux)
	svr := server.NewServer(mux)
	svr.Use(middleware.LoggingMiddleware())

	if *interval > 0 {
		go func() {
			if err := svr.RunTelemetry(ctx, *interval, sim.Sample); err != nil {
				logx.Log.Warn().Err(err).Msg("telemetry stopped")
			}
		}()
	}
	go func() {
		select {
		case <-svr.Ended():
			logx.Log.Info().Msg("host sent end, exiting")
			cancel()
		case <-ctx.Done():
		}
	}()

	logx.Log.Info().Str("tty", tty.Name()).Msg("device emulator ready")
	if err := svr.Serve(ctx, ptmx); err != nil {
		logx.Log.Error().Err(err).Msg("serve")
	}
	if err := svr.Shutdown(time.Second); err != nil {
		logx.Log.Warn().Err(err).Msg("shutdown")
	}
}
