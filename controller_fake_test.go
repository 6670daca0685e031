package ur_arm

import (
	"bufio"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeController accepts script connections and records every line it receives.
type fakeController struct {
	t        *testing.T
	listener net.Listener

	mu       sync.Mutex
	lines    []string
	accepted int
	conns    []net.Conn
	// ended[i] is closed once connection i reads EOF or fails.
	ended []chan struct{}
	// closedFirst[i-1] records whether connection i-1 had ended when
	// connection i was accepted.
	closedFirst []bool
}

func newFakeController(t *testing.T) *fakeController {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fc := &fakeController{t: t, listener: l}
	go fc.serve()
	t.Cleanup(func() { fc.Close() })
	return fc
}

func (fc *fakeController) serve() {
	for {
		conn, err := fc.listener.Accept()
		if err != nil {
			return
		}
		fc.mu.Lock()
		var prev chan struct{}
		if n := len(fc.ended); n > 0 {
			prev = fc.ended[n-1]
		}
		fc.mu.Unlock()
		if prev != nil {
			// The client closed before dialing again, so the EOF is already
			// queued and only needs the reader goroutine to observe it.
			ended := false
			select {
			case <-prev:
				ended = true
			case <-time.After(time.Second):
			}
			fc.mu.Lock()
			fc.closedFirst = append(fc.closedFirst, ended)
			fc.mu.Unlock()
		}

		end := make(chan struct{})
		fc.mu.Lock()
		fc.accepted++
		fc.conns = append(fc.conns, conn)
		fc.ended = append(fc.ended, end)
		fc.mu.Unlock()

		go func(c net.Conn) {
			defer close(end)
			scanner := bufio.NewScanner(c)
			for scanner.Scan() {
				fc.mu.Lock()
				fc.lines = append(fc.lines, scanner.Text()+"\n")
				fc.mu.Unlock()
			}
		}(conn)
	}
}

func (fc *fakeController) HostPort() (string, int) {
	addr := fc.listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func (fc *fakeController) Addr() string {
	host, port := fc.HostPort()
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// waitLines blocks until at least n lines arrived and returns them.
func (fc *fakeController) waitLines(n int) []string {
	fc.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fc.mu.Lock()
		if len(fc.lines) >= n {
			out := append([]string(nil), fc.lines...)
			fc.mu.Unlock()
			return out
		}
		fc.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.t.Fatalf("expected %d lines, got %d: %q", n, len(fc.lines), fc.lines)
	return nil
}

func (fc *fakeController) Accepted() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.accepted
}

// ClosedBeforeNext reports, for every reconnect, whether the previous
// connection had been closed by the client when the new one arrived.
func (fc *fakeController) ClosedBeforeNext() []bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]bool(nil), fc.closedFirst...)
}

func (fc *fakeController) Close() {
	fc.listener.Close()
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for _, c := range fc.conns {
		c.Close()
	}
}
