package ur_arm

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// Secondary client interface framing.
const (
	msgTypeRobotState = 16

	pkgRobotMode     = 0
	pkgJointData     = 1
	pkgCartesianInfo = 4

	msgHeaderLen = 5
	maxMsgLen    = 1 << 16

	jointRecordLen = 41
)

// RobotState is the last robot-state message decoded from the controller.
type RobotState struct {
	Timestamp         uint64
	PowerOn           bool
	EmergencyStopped  bool
	ProtectiveStopped bool
	ProgramRunning    bool
	Joints            JointVector
	Pose              PoseVector
}

// StateMonitor implements Device by decoding the controller's state stream.
type StateMonitor struct {
	logger logging.Logger
	conn   net.Conn

	mu    sync.Mutex
	state RobotState
	have  bool
	err   error

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

// DialStateMonitor connects to the state stream at host:port.
func DialStateMonitor(ctx context.Context, host string, port int, logger logging.Logger) (*StateMonitor, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(ErrConnection, "dial state stream %s: %v", addr, err)
	}
	logger.Debugf("Reading controller state from %s", addr)
	return NewStateMonitor(conn, logger), nil
}

// NewStateMonitor starts decoding conn. The monitor owns conn from here on.
func NewStateMonitor(conn net.Conn, logger logging.Logger) *StateMonitor {
	m := &StateMonitor{
		logger: logger,
		conn:   conn,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	utils.PanicCapturingGo(m.readLoop)
	return m
}

func (m *StateMonitor) readLoop() {
	defer close(m.done)
	for {
		typ, body, err := readMessage(m.conn)
		if err != nil {
			m.fail(err)
			return
		}
		if typ != msgTypeRobotState {
			continue
		}

		m.mu.Lock()
		next := m.state
		m.mu.Unlock()

		if err := parseRobotState(body, &next); err != nil {
			m.logger.Warnw("dropping malformed robot state", "error", err)
			continue
		}

		m.mu.Lock()
		m.state = next
		m.have = true
		m.mu.Unlock()
		m.readyOnce.Do(func() { close(m.ready) })
	}
}

func (m *StateMonitor) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err == nil {
		m.err = errors.Wrapf(ErrLink, "state stream lost: %v", err)
		m.logger.Debugw("state stream ended", "error", err)
	}
}

// WaitReady blocks until the first state arrives, the stream fails or ctx ends.
func (m *StateMonitor) WaitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-m.done:
		_, err := m.State()
		return err
	case <-ctx.Done():
		return errors.Wrapf(ErrConnection, "no controller state received: %v", ctx.Err())
	}
}

// State returns the most recent snapshot.
func (m *StateMonitor) State() (RobotState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return RobotState{}, m.err
	}
	if !m.have {
		return RobotState{}, errors.Wrap(ErrLink, "no controller state received yet")
	}
	return m.state, nil
}

func (m *StateMonitor) IsProgramRunning() (bool, error) {
	st, err := m.State()
	return st.ProgramRunning, err
}

func (m *StateMonitor) CurrentPose() (PoseVector, error) {
	st, err := m.State()
	return st.Pose, err
}

func (m *StateMonitor) CurrentJoints() (JointVector, error) {
	st, err := m.State()
	return st.Joints, err
}

func (m *StateMonitor) CurrentToolPosition() ([3]float64, error) {
	st, err := m.State()
	return [3]float64{st.Pose[0], st.Pose[1], st.Pose[2]}, err
}

// Close stops the reader and releases the connection.
func (m *StateMonitor) Close() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.conn.Close()
		<-m.done
	})
	return err
}

// readMessage reads one length-prefixed message and returns its type and body.
func readMessage(r io.Reader) (byte, []byte, error) {
	var header [msgHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	size := binary.BigEndian.Uint32(header[:4])
	if size < msgHeaderLen || size > maxMsgLen {
		return 0, nil, errors.Errorf("bad message length %d", size)
	}
	body := make([]byte, size-msgHeaderLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return header[4], body, nil
}

// parseRobotState walks the sub-packages of a robot-state message and updates
// the fields it understands. Unknown sub-packages are skipped.
func parseRobotState(body []byte, st *RobotState) error {
	for len(body) > 0 {
		if len(body) < msgHeaderLen {
			return errors.Errorf("truncated sub-package header (%d bytes)", len(body))
		}
		size := int(binary.BigEndian.Uint32(body[:4]))
		if size < msgHeaderLen || size > len(body) {
			return errors.Errorf("bad sub-package length %d", size)
		}
		typ := body[4]
		data := body[msgHeaderLen:size]
		body = body[size:]

		switch typ {
		case pkgRobotMode:
			if len(data) < 14 {
				return errors.Errorf("robot mode data too short (%d bytes)", len(data))
			}
			st.Timestamp = binary.BigEndian.Uint64(data[0:8])
			st.PowerOn = data[10] != 0
			st.EmergencyStopped = data[11] != 0
			st.ProtectiveStopped = data[12] != 0
			st.ProgramRunning = data[13] != 0
		case pkgJointData:
			if len(data) < 6*jointRecordLen {
				return errors.Errorf("joint data too short (%d bytes)", len(data))
			}
			for i := range st.Joints {
				st.Joints[i] = readFloat64(data[i*jointRecordLen:])
			}
		case pkgCartesianInfo:
			if len(data) < 6*8 {
				return errors.Errorf("cartesian info too short (%d bytes)", len(data))
			}
			for i := range st.Pose {
				st.Pose[i] = readFloat64(data[i*8:])
			}
		}
	}
	return nil
}

func readFloat64(b []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b[:8]))
}
