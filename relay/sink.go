package relay

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
	"nhooyr.io/websocket"
)

// Direction says which way a chunk travelled through the relay.
type Direction int

const (
	ClientToController Direction = iota
	ControllerToClient
)

func (d Direction) String() string {
	switch d {
	case ClientToController:
		return "client->controller"
	case ControllerToClient:
		return "controller->client"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// DefaultMirrorTimeout bounds a single Mirror call so a stalled telemetry
// consumer cannot hold up forwarding.
const DefaultMirrorTimeout = time.Second

// Sink receives a copy of every forwarded chunk. Mirror must not retain chunk
// and should give up once ctx is done.
type Sink interface {
	Mirror(ctx context.Context, dir Direction, chunk []byte) error
	Close() error
}

// LogSink writes each chunk to the logger.
type LogSink struct {
	Logger logging.Logger
}

func (s LogSink) Mirror(_ context.Context, dir Direction, chunk []byte) error {
	s.Logger.Infow("Message received", "direction", dir.String(), "data", printable(chunk))
	return nil
}

func (s LogSink) Close() error { return nil }

// printable renders text as-is and anything else quoted.
func printable(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return fmt.Sprintf("%q", b)
}

// WebsocketSink forwards chunks as binary frames to a telemetry server.
type WebsocketSink struct {
	conn         *websocket.Conn
	logger       logging.Logger
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// DialWebsocketSink connects to the telemetry server at url (ws://host:port/).
func DialWebsocketSink(ctx context.Context, url string, logger logging.Logger) (*WebsocketSink, error) {
	conn, resp, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial telemetry server %s", url)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	s := &WebsocketSink{conn: conn, logger: logger, writeTimeout: DefaultMirrorTimeout, done: make(chan struct{})}
	utils.PanicCapturingGo(s.drain)
	return s, nil
}

// drain consumes the server's acknowledgements so control frames keep flowing.
func (s *WebsocketSink) drain() {
	defer close(s.done)
	for {
		_, msg, err := s.conn.Read(context.Background())
		if err != nil {
			return
		}
		s.logger.Debugw("telemetry server replied", "message", string(msg))
	}
}

// Mirror sends chunk as one binary frame. A server that stops reading makes the
// write time out, which also closes the connection; later calls then fail fast.
func (s *WebsocketSink) Mirror(ctx context.Context, _ Direction, chunk []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("telemetry sink closed")
	}
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageBinary, chunk)
}

func (s *WebsocketSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.conn.Close(websocket.StatusNormalClosure, "")
	<-s.done
	return err
}

// MultiSink mirrors to every sink and combines their errors.
type MultiSink []Sink

func (m MultiSink) Mirror(ctx context.Context, dir Direction, chunk []byte) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Mirror(ctx, dir, chunk))
	}
	return err
}

func (m MultiSink) Close() error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Close())
	}
	return err
}

