package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.viam.com/rdk/logging"
	"gopkg.in/natefinch/lumberjack.v2"

	"ur_arm/relay"
)

type RelayCommand struct{}

func (c *RelayCommand) Execute(args []string) error {
	ctx, cfg, logger, cleanup, err := setup("urbridge.relay")
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Infof("Starting proxy server at %s", cfg.Proxy.Address())
	return relay.NewProxy(cfg, logger).ListenAndServe(ctx)
}

type TailCommand struct{}

func (c *TailCommand) Execute(args []string) error {
	ctx, cfg, logger, cleanup, err := setup("urbridge.tail")
	if err != nil {
		return err
	}
	defer cleanup()

	err = relay.Tail(ctx, cfg.Controller.Address(), cfg.ListenerSleep(), cfg.ChunkSize, relay.LogSink{Logger: logger}, logger)
	if errors.Is(err, context.Canceled) || errors.Is(err, relay.ErrRelayTerminated) {
		logger.Infow("listener stopped", "reason", err)
		return nil
	}
	return err
}

type TelemetryCommand struct {
	Listen string `long:"listen" description:"Override the websocket listen address (host:port)"`
}

func (c *TelemetryCommand) Execute(args []string) error {
	ctx, cfg, logger, cleanup, err := setup("urbridge.telemetry")
	if err != nil {
		return err
	}
	defer cleanup()

	addr := c.Listen
	if addr == "" {
		addr = cfg.Websocket.Address()
	}
	return relay.NewTelemetryServer(logger).ListenAndServe(ctx, addr)
}

// setup loads the config and builds a logger and a context cancelled on SIGINT or SIGTERM.
func setup(name string) (context.Context, *relay.Config, logging.Logger, func(), error) {
	logger := logging.NewLogger(name)
	if opts.Debug {
		logger.SetLevel(logging.DEBUG)
	}

	var rotator *lumberjack.Logger
	if opts.LogFile != "" {
		rotator = &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		logger.AddAppender(logging.NewWriterAppender(rotator))
	}

	cfg, err := relay.Load(opts.Config)
	if err != nil {
		if rotator != nil {
			rotator.Close()
		}
		return nil, nil, nil, nil, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cleanup := func() {
		stop()
		if rotator != nil {
			rotator.Close()
		}
	}
	return ctx, cfg, logger, cleanup, nil
}
