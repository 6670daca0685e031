package relay

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

const controllerDialTimeout = 5 * time.Second

// Proxy accepts clients on the proxy address and relays each one to the controller.
type Proxy struct {
	cfg    *Config
	logger logging.Logger

	// newSink builds the telemetry sink for one session.
	newSink func(ctx context.Context) Sink
}

// NewProxy mirrors to the log and, when configured, to the websocket telemetry server.
func NewProxy(cfg *Config, logger logging.Logger) *Proxy {
	p := &Proxy{cfg: cfg, logger: logger}
	p.newSink = p.defaultSink
	return p
}

// defaultSink falls back to logging only when the telemetry server cannot be reached.
func (p *Proxy) defaultSink(ctx context.Context) Sink {
	logSink := LogSink{Logger: p.logger}
	if !p.cfg.Websocket.Enabled() {
		return logSink
	}
	url := fmt.Sprintf("ws://%s/", p.cfg.Websocket.Address())
	ws, err := DialWebsocketSink(ctx, url, p.logger)
	if err != nil {
		p.logger.Warnw("telemetry server unavailable, logging only", "url", url, "error", err)
		return logSink
	}
	return MultiSink{logSink, ws}
}

// ListenAndServe listens on the configured proxy address.
func (p *Proxy) ListenAndServe(ctx context.Context) error {
	addr := p.cfg.Proxy.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to start proxy server at %s", addr)
	}
	p.logger.Infof("Proxy server started at %s", ln.Addr())
	return p.Serve(ctx, ln)
}

// Serve runs sessions one after another until ctx is done. It closes ln.
func (p *Proxy) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	for {
		client, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("Proxy server stopped")
				return nil
			}
			return errors.Wrap(err, "accept")
		}
		p.logger.Infof("Client connected from %s", client.RemoteAddr())

		if err := p.session(ctx, client); err != nil && !errors.Is(err, ErrRelayTerminated) {
			if ctx.Err() != nil {
				p.logger.Info("Proxy server stopped")
				return nil
			}
			p.logger.Errorw("relay session failed", "error", err)
		}
	}
}

func (p *Proxy) session(ctx context.Context, client net.Conn) error {
	d := net.Dialer{Timeout: controllerDialTimeout}
	controller, err := d.DialContext(ctx, "tcp", p.cfg.Controller.Address())
	if err != nil {
		client.Close()
		return errors.Wrapf(err, "failed to connect to robot at %s", p.cfg.Controller.Address())
	}
	p.logger.Infof("Connected to robot at %s", p.cfg.Controller.Address())

	sink := p.newSink(ctx)
	defer func() {
		if err := sink.Close(); err != nil {
			p.logger.Warnw("closing telemetry sink", "error", err)
		}
	}()

	err = NewMultiplexer(sink, p.cfg.ChunkSize, p.logger).Run(ctx, client, controller)
	p.logger.Infow("relay session ended", "reason", err)
	return err
}
