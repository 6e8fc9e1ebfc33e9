package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/jonboulle/clockwork"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"relaychat/internal/crypto"
	"relaychat/internal/log"
	"relaychat/internal/metrics"
	"relaychat/internal/relay"
)

// Automatically set through -ldflags
var (
	version   = "dev"
	gitCommit = "none"
)

const accessLogPerm = 0o644

var listenFlag = &cli.StringFlag{
	Name:  "bind",
	Value: "127.0.0.1:8080",
	Usage: "local host:port to bind the listener",
}

var metricsFlag = &cli.StringFlag{
	Name:  "metrics",
	Usage: "local host:port to bind a metrics servlet (optional)",
}

var accessLogFlag = &cli.StringFlag{
	Name:  "access-log",
	Usage: "file to log http accesses to (default stdout)",
}

var maxAgeFlag = &cli.DurationFlag{
	Name:  "max-age",
	Value: 24 * time.Hour,
	Usage: "drop queued deliveries older than this (0 keeps them forever)",
}

var janitorFlag = &cli.DurationFlag{
	Name:  "janitor-interval",
	Value: time.Minute,
	Usage: "how often to look for expired deliveries",
}

var logLevelFlag = &cli.StringFlag{
	Name:  "log-level",
	Value: "info",
	Usage: "debug, info, warn or error",
}

var logJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Usage: "log as JSON",
}

// Relay serves the relay API until interrupted.
func Relay(c *cli.Context) error {
	l := log.New(zapcore.Lock(os.Stderr), log.ParseLevel(c.String(logLevelFlag.Name)), c.Bool(logJSONFlag.Name)).Named("relay")
	metrics.Bind(l)

	if c.IsSet(metricsFlag.Name) {
		if ml := metrics.Start(l, c.String(metricsFlag.Name)); ml != nil {
			defer ml.Close()
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := relay.NewHub(crypto.DefaultDomainParams(), clockwork.NewRealClock(), l)
	if maxAge := c.Duration(maxAgeFlag.Name); maxAge > 0 {
		go hub.RunJanitor(ctx, c.Duration(janitorFlag.Name), maxAge)
	}

	handler := relay.NewServer(hub, l)
	if c.IsSet(accessLogFlag.Name) {
		logFile, err := os.OpenFile(c.String(accessLogFlag.Name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, accessLogPerm)
		if err != nil {
			return fmt.Errorf("failed to open access log: %w", err)
		}
		defer logFile.Close()
		handler = handlers.CombinedLoggingHandler(logFile, handler)
	} else {
		handler = handlers.CombinedLoggingHandler(os.Stdout, handler)
	}

	listener, err := net.Listen("tcp", c.String(listenFlag.Name))
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 3 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(listener) }()
	l.Infow("relay listening", "addr", listener.Addr(), "group", hub.Params().Fingerprint())
	fmt.Printf("Listening at %s\n", listener.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	l.Infow("relay stopped")
	return nil
}

func main() {
	app := &cli.App{
		Name:    "relay",
		Version: version,
		Usage:   "Relay encrypted relaychat bundles between participants",
		Flags:   []cli.Flag{listenFlag, metricsFlag, accessLogFlag, maxAgeFlag, janitorFlag, logLevelFlag, logJSONFlag},
		Action:  Relay,
	}
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("relaychat relay %v (commit %v)\n", version, gitCommit)
	}

	if err := app.Run(os.Args); err != nil {
		log.DefaultLogger().Fatalw("", "binary", "relay", "err", err)
	}
}
