package ur_arm

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// DefaultSettleDelay gives the controller time to finish its side of the handshake
// before the first script arrives.
const DefaultSettleDelay = 500 * time.Millisecond

// Link owns the single TCP connection used to send scripts to the controller.
type Link struct {
	logger logging.Logger
	settle time.Duration

	mu   sync.Mutex
	conn net.Conn
	addr string
}

// NewLink returns an unconnected link.
func NewLink(settle time.Duration, logger logging.Logger) *Link {
	return &Link{logger: logger, settle: settle}
}

// Connect dials the controller and waits out the settle delay. A link holds at
// most one connection, so connecting an open link is an error.
func (l *Link) Connect(ctx context.Context, host string, port int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return errors.Wrapf(ErrConnection, "link to %s is already open", l.addr)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	l.logger.Infof("Connecting to controller at %s", addr)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(ErrConnection, "dial %s: %v", addr, err)
	}

	if l.settle > 0 && !utils.SelectContextOrWait(ctx, l.settle) {
		conn.Close()
		return errors.Wrapf(ErrConnection, "connect to %s interrupted: %v", addr, ctx.Err())
	}

	l.conn = conn
	l.addr = addr
	l.logger.Infof("Connected to controller at %s", addr)
	return nil
}

// Send writes b in full. A context deadline becomes the write deadline.
func (l *Link) Send(ctx context.Context, b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return errors.Wrap(ErrLink, "link is closed")
	}

	deadline, _ := ctx.Deadline()
	if err := l.conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrapf(ErrLink, "set write deadline: %v", err)
	}
	if _, err := l.conn.Write(b); err != nil {
		return errors.Wrapf(ErrLink, "write to %s: %v", l.addr, err)
	}
	return nil
}

// ProbeStatus returns 0 while the socket reports no pending error, nonzero
// otherwise. A closed link reports -1.
func (l *Link) ProbeStatus() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return -1
	}
	return socketError(l.conn)
}

// Connected reports whether the link currently holds a connection.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Close tears the connection down. Safe to call repeatedly.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	l.logger.Infof("Closed controller link to %s", l.addr)
	return err
}
