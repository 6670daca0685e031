// Package relay forwards bytes between a client and a UR controller while
// mirroring every chunk to a telemetry sink.
package relay

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"golang.org/x/sync/errgroup"
)

// ErrRelayTerminated ends a relay session when either peer closes.
var ErrRelayTerminated = errors.New("relay terminated")

// chunk is one read handed from a reader goroutine to the relay loop.
type chunk struct {
	dir  Direction
	data []byte
	err  error
}

// Multiplexer relays one client/controller session at a time.
type Multiplexer struct {
	sink          Sink
	logger        logging.Logger
	chunkSize     int
	mirrorTimeout time.Duration
}

// NewMultiplexer mirrors to sink. A nil sink is replaced by a LogSink.
func NewMultiplexer(sink Sink, chunkSize int, logger logging.Logger) *Multiplexer {
	if sink == nil {
		sink = LogSink{Logger: logger}
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Multiplexer{sink: sink, logger: logger, chunkSize: chunkSize, mirrorTimeout: DefaultMirrorTimeout}
}

// mirror hands c to the sink, giving up after mirrorTimeout.
func (m *Multiplexer) mirror(ctx context.Context, c chunk) error {
	ctx, cancel := context.WithTimeout(ctx, m.mirrorTimeout)
	defer cancel()
	return m.sink.Mirror(ctx, c.dir, c.data)
}

// Run relays between client and controller until one side closes or ctx ends.
// Both connections are closed on return. A peer close returns ErrRelayTerminated.
//
// Each connection has a reader goroutine that hands chunks to this loop over an
// unbuffered channel; mirroring and peer writes happen only here, so chunks from
// one direction reach the sink and the peer in read order. A reader that hits
// an error returns it after delivering it, which cancels the other reader's
// pending hand-off; closing the connections unblocks its Read.
func (m *Multiplexer) Run(ctx context.Context, client, controller net.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	fromClient := make(chan chunk)
	fromController := make(chan chunk)
	g.Go(func() error { return m.readLoop(gctx, client, ClientToController, fromClient) })
	g.Go(func() error { return m.readLoop(gctx, controller, ControllerToClient, fromController) })

	var closeOnce sync.Once
	teardown := func() {
		closeOnce.Do(func() {
			cancel()
			client.Close()
			controller.Close()
		})
	}
	defer func() {
		teardown()
		if err := g.Wait(); err != nil {
			m.logger.Debugw("relay reader stopped", "error", err)
		}
	}()

	peers := map[Direction]net.Conn{
		ClientToController: controller,
		ControllerToClient: client,
	}

	for {
		var c chunk
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c = <-fromClient:
		case c = <-fromController:
		}

		if c.err != nil {
			m.logger.Infow("closing relay session", "direction", c.dir.String(), "reason", c.err)
			teardown()
			return errors.Wrapf(ErrRelayTerminated, "%s: %v", c.dir, c.err)
		}

		m.logger.Debugw("forwarding", "direction", c.dir.String(), "bytes", len(c.data))
		if err := m.mirror(ctx, c); err != nil {
			m.logger.Warnw("telemetry mirror failed, continuing", "direction", c.dir.String(), "error", err)
		}
		if _, err := peers[c.dir].Write(c.data); err != nil {
			m.logger.Infow("closing relay session", "direction", c.dir.String(), "reason", err)
			teardown()
			return errors.Wrapf(ErrRelayTerminated, "%s write: %v", c.dir, err)
		}
	}
}

// readLoop reads up to chunkSize bytes at a time from conn. A read error, including
// EOF, is delivered as the final chunk and then returned.
func (m *Multiplexer) readLoop(ctx context.Context, conn net.Conn, dir Direction, out chan<- chunk) error {
	for {
		buf := make([]byte, m.chunkSize)
		n, err := conn.Read(buf)
		c := chunk{dir: dir}
		switch {
		case n > 0:
			c.data = buf[:n]
		case err != nil:
			c.err = err
		default:
			continue
		}

		select {
		case out <- c:
		case <-ctx.Done():
			return nil
		}
		if c.err != nil {
			return c.err
		}
	}
}
