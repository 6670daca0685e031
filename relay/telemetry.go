package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.viam.com/rdk/logging"
	"nhooyr.io/websocket"
)

// TelemetryServer is the websocket endpoint the proxy mirrors to. Each frame is
// logged and acknowledged with "Message received: <text>".
type TelemetryServer struct {
	logger logging.Logger
}

func NewTelemetryServer(logger logging.Logger) *TelemetryServer {
	return &TelemetryServer{logger: logger}
}

func (s *TelemetryServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isWebsocketUpgrade(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Hello, this is the telemetry server"))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket handshake failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")
	s.logger.Infow("Connected to the telemetry server", "remote", r.RemoteAddr)

	ctx := r.Context()
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				conn.Close(websocket.StatusNormalClosure, "")
			} else {
				s.logger.Debugw("telemetry client gone", "error", err)
			}
			return
		}
		text := printable(msg)
		s.logger.Infof("Message received: %s", text)
		if err := conn.Write(ctx, websocket.MessageText, []byte("Message received: "+text)); err != nil {
			s.logger.Debugw("telemetry reply failed", "error", err)
			return
		}
	}
}

// ListenAndServe serves on addr until ctx is done.
func (s *TelemetryServer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Infof("Telemetry server starting at %s", ln.Addr())

	srv := &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func isWebsocketUpgrade(r *http.Request) bool {
	for _, v := range r.Header.Values("Upgrade") {
		if strings.EqualFold(v, "websocket") {
			return true
		}
	}
	return false
}
