package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"
)

type recordingSink struct {
	mu     sync.Mutex
	chunks map[Direction][][]byte
	err    error
	closed bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{chunks: map[Direction][][]byte{}}
}

func (s *recordingSink) Mirror(_ context.Context, dir Direction, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[dir] = append(s.chunks[dir], append([]byte(nil), chunk...))
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) joined(dir Direction) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Join(s.chunks[dir], nil)
}

func (s *recordingSink) count(dir Direction) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks[dir])
}

// tcpPair returns the two ends of a loopback TCP connection.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	dialed, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	other, ok := <-accepted
	require.True(t, ok)

	t.Cleanup(func() {
		dialed.Close()
		other.Close()
	})
	return dialed, other
}

type session struct {
	client     net.Conn // test side of the client leg
	controller net.Conn // test side of the controller leg
	sink       *recordingSink
	done       chan error
	cancel     context.CancelFunc
}

func startSession(t *testing.T, sink *recordingSink) *session {
	t.Helper()
	s := runSession(t, NewMultiplexer(sink, DefaultChunkSize, logging.NewTestLogger(t)))
	s.sink = sink
	return s
}

func runSession(t *testing.T, m *Multiplexer) *session {
	t.Helper()
	client, relayClient := tcpPair(t)
	relayController, controller := tcpPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := &session{client: client, controller: controller, done: make(chan error, 1), cancel: cancel}
	go func() { s.done <- m.Run(ctx, relayClient, relayController) }()
	return s
}

// stalledSink never accepts a chunk; it only returns once ctx gives up.
type stalledSink struct {
	mu    sync.Mutex
	calls int
}

func (s *stalledSink) Mirror(ctx context.Context, _ Direction, _ []byte) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (s *stalledSink) Close() error { return nil }

func (s *session) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
		return nil
	}
}

func readN(t *testing.T, c net.Conn, n int) []byte {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, n)
	_, err := io.ReadFull(c, buf)
	require.NoError(t, err)
	return buf
}

func TestRelayForwardsAndMirrors(t *testing.T) {
	s := startSession(t, newRecordingSink())

	script := []byte("movel(p[0.1, 0.2, 0.3, 0, 0, 0], 1.0, 0.5)\n")
	_, err := s.client.Write(script[:10])
	require.NoError(t, err)
	_, err = s.client.Write(script[10:])
	require.NoError(t, err)

	assert.Equal(t, script, readN(t, s.controller, len(script)))
	assert.Equal(t, script, s.sink.joined(ClientToController))

	state := bytes.Repeat([]byte{0x10, 0x00, 0xff}, 1000)
	_, err = s.controller.Write(state)
	require.NoError(t, err)

	assert.Equal(t, state, readN(t, s.client, len(state)))
	assert.Equal(t, state, s.sink.joined(ControllerToClient))

	s.sink.mu.Lock()
	for _, c := range s.sink.chunks[ControllerToClient] {
		assert.LessOrEqual(t, len(c), DefaultChunkSize)
	}
	s.sink.mu.Unlock()
}

func TestRelayContinuesWhenTelemetryFails(t *testing.T) {
	sink := newRecordingSink()
	sink.err = errors.New("telemetry down")
	s := startSession(t, sink)

	for _, msg := range []string{"first\n", "second\n"} {
		_, err := s.client.Write([]byte(msg))
		require.NoError(t, err)
		assert.Equal(t, msg, string(readN(t, s.controller, len(msg))))
	}
	assert.Equal(t, "first\nsecond\n", string(sink.joined(ClientToController)))
}

func TestRelayPeerCloseTearsDownBothSides(t *testing.T) {
	s := startSession(t, newRecordingSink())

	require.NoError(t, s.client.Close())

	err := s.wait(t)
	assert.True(t, errors.Is(err, ErrRelayTerminated), "got %v", err)

	require.NoError(t, s.controller.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = s.controller.Read(make([]byte, 1))
	assert.Error(t, err)
	assert.Zero(t, s.sink.count(ControllerToClient))
}

func TestRelayPeerCloseWhileControllerSends(t *testing.T) {
	s := startSession(t, newRecordingSink())

	// The controller streams state the whole time the client hangs up.
	writeErr := make(chan error, 1)
	go func() {
		state := bytes.Repeat([]byte{0x10}, 4096)
		for {
			if _, err := s.controller.Write(state); err != nil {
				writeErr <- err
				return
			}
		}
	}()
	assert.Eventually(t, func() bool { return s.sink.count(ControllerToClient) > 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.client.Close())
	err := s.wait(t)
	assert.True(t, errors.Is(err, ErrRelayTerminated), "got %v", err)

	select {
	case err := <-writeErr:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("controller leg stayed open")
	}
}

func TestRelayControllerCloseTearsDownClient(t *testing.T) {
	s := startSession(t, newRecordingSink())

	require.NoError(t, s.controller.Close())
	assert.True(t, errors.Is(s.wait(t), ErrRelayTerminated))

	require.NoError(t, s.client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := s.client.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestRelayForwardsPastStalledTelemetry(t *testing.T) {
	sink := &stalledSink{}
	m := NewMultiplexer(sink, DefaultChunkSize, logging.NewTestLogger(t))
	m.mirrorTimeout = 20 * time.Millisecond
	s := runSession(t, m)

	start := time.Now()
	for _, msg := range []string{"first\n", "second\n", "third\n"} {
		_, err := s.client.Write([]byte(msg))
		require.NoError(t, err)
		assert.Equal(t, msg, string(readN(t, s.controller, len(msg))))
	}
	assert.Less(t, time.Since(start), time.Second)

	sink.mu.Lock()
	assert.Equal(t, 3, sink.calls)
	sink.mu.Unlock()
}

func TestRelayStopsOnContext(t *testing.T) {
	s := startSession(t, newRecordingSink())
	s.cancel()
	assert.ErrorIs(t, s.wait(t), context.Canceled)
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "client->controller", ClientToController.String())
	assert.Equal(t, "controller->client", ControllerToClient.String())
	assert.Equal(t, "direction(7)", Direction(7).String())
}

func TestMultiSink(t *testing.T) {
	a := newRecordingSink()
	b := newRecordingSink()
	b.err = errors.New("boom")

	m := MultiSink{a, b}
	err := m.Mirror(context.Background(), ClientToController, []byte("x"))
	assert.EqualError(t, err, "boom")
	assert.Equal(t, "x", string(a.joined(ClientToController)))
	assert.Equal(t, "x", string(b.joined(ClientToController)))

	require.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
