package relay

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// Tail connects to the controller and mirrors everything it sends to sink, pausing
// sleep between reads. It returns ErrRelayTerminated when the controller closes.
func Tail(ctx context.Context, addr string, sleep time.Duration, chunkSize int, sink Sink, logger logging.Logger) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	d := net.Dialer{Timeout: controllerDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to robot at %s", addr)
	}
	defer conn.Close()
	logger.Infof("Connected to robot at %s", addr)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	buf := make([]byte, chunkSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if mErr := sink.Mirror(ctx, ControllerToClient, buf[:n]); mErr != nil {
				logger.Warnw("telemetry mirror failed, continuing", "error", mErr)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return errors.Wrap(ErrRelayTerminated, "controller closed the connection")
			}
			return errors.Wrap(err, "read from controller")
		}
		if sleep > 0 && !utils.SelectContextOrWait(ctx, sleep) {
			return ctx.Err()
		}
	}
}
