package ur_arm

import (
	"io"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Robotiq 2F register map.
const (
	robotiqOutputRegisters = 0x03E8
	robotiqInputRegisters  = 0x07D0
	robotiqRegisterCount   = 3

	robotiqActivate = 1 << 0 // rACT
	robotiqGoTo     = 1 << 3 // rGTO

	robotiqStatusActivated = 3

	robotiqPoll = 20 * time.Millisecond
)

// ObjectStatus is the gOBJ field of the gripper status.
type ObjectStatus int

const (
	ObjectMoving ObjectStatus = iota
	ObjectDetectedOpening
	ObjectDetectedClosing
	ObjectAtPosition
)

// RobotiqStatus is the decoded input register block.
type RobotiqStatus struct {
	Activated   bool
	GoTo        bool
	Activation  int
	Object      ObjectStatus
	Fault       int
	Requested   int
	Position    int
	CurrentMilA int
}

type registerClient interface {
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
}

// RobotiqConfig selects the RS-485 adapter the gripper is attached to.
type RobotiqConfig struct {
	SerialPort string
	Baudrate   int
	SlaveID    int
	Timeout    time.Duration
}

// RobotiqGripper drives a Robotiq adaptive gripper over Modbus RTU.
type RobotiqGripper struct {
	mu      sync.Mutex
	closer  io.Closer
	client  registerClient
	logger  logging.Logger
	timeout time.Duration
}

// NewRobotiqGripper opens the serial port and activates the gripper.
func NewRobotiqGripper(cfg RobotiqConfig, logger logging.Logger) (*RobotiqGripper, error) {
	if cfg.SerialPort == "" {
		return nil, errors.Wrap(ErrValidation, "robotiq gripper needs a serial port")
	}

	h := modbus.NewRTUClientHandler(cfg.SerialPort)
	h.BaudRate = orDefault(cfg.Baudrate, DefaultRobotiqBaud)
	h.DataBits = 8
	h.Parity = "N"
	h.StopBits = 1
	h.SlaveId = byte(orDefault(cfg.SlaveID, DefaultRobotiqSlave))
	h.Timeout = time.Second

	if err := h.Connect(); err != nil {
		return nil, errors.Wrapf(ErrConnection, "open %s: %v", cfg.SerialPort, err)
	}

	g := newRobotiqGripper(modbus.NewClient(h), h, cfg.Timeout, logger)
	if err := g.Activate(); err != nil {
		h.Close()
		return nil, err
	}
	logger.Infof("Robotiq gripper activated on %s (slave %d)", cfg.SerialPort, h.SlaveId)
	return g, nil
}

func newRobotiqGripper(client registerClient, closer io.Closer, timeout time.Duration, logger logging.Logger) *RobotiqGripper {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &RobotiqGripper{client: client, closer: closer, logger: logger, timeout: timeout}
}

// Activate resets the gripper and waits for activation to finish.
func (g *RobotiqGripper) Activate() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.write([6]byte{}); err != nil {
		return err
	}
	if err := g.write([6]byte{robotiqActivate}); err != nil {
		return err
	}
	_, err := g.waitFor(func(st RobotiqStatus) bool {
		return st.Activation == robotiqStatusActivated
	}, "activation")
	return err
}

// Move requests a position and blocks until the fingers stop.
func (g *RobotiqGripper) Move(position, speed, force int) error {
	for _, f := range []struct {
		name  string
		value int
	}{{"position", position}, {"speed", speed}, {"force", force}} {
		if f.value < 0 || f.value > 255 {
			return errors.Wrapf(ErrValidation, "gripper %s must be between 0 and 255, got %d", f.name, f.value)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	req := [6]byte{robotiqActivate | robotiqGoTo, 0, 0, byte(position), byte(speed), byte(force)}
	if err := g.write(req); err != nil {
		return err
	}
	st, err := g.waitFor(func(st RobotiqStatus) bool {
		return st.Requested == position && st.Object != ObjectMoving
	}, "motion")
	if err != nil {
		return err
	}
	if st.Fault != 0 {
		return errors.Wrapf(ErrLink, "gripper fault 0x%02x", st.Fault)
	}
	return nil
}

// Position is the current finger position, 0 open to 255 closed.
func (g *RobotiqGripper) Position() (int, error) {
	st, err := g.Status()
	return st.Position, err
}

func (g *RobotiqGripper) Status() (RobotiqStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.read()
}

func (g *RobotiqGripper) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer.Close()
}

func (g *RobotiqGripper) write(b [6]byte) error {
	if _, err := g.client.WriteMultipleRegisters(robotiqOutputRegisters, robotiqRegisterCount, b[:]); err != nil {
		return errors.Wrapf(ErrLink, "write gripper registers: %v", err)
	}
	return nil
}

func (g *RobotiqGripper) read() (RobotiqStatus, error) {
	b, err := g.client.ReadInputRegisters(robotiqInputRegisters, robotiqRegisterCount)
	if err != nil {
		return RobotiqStatus{}, errors.Wrapf(ErrLink, "read gripper registers: %v", err)
	}
	if len(b) < 6 {
		return RobotiqStatus{}, errors.Wrapf(ErrLink, "short gripper status (%d bytes)", len(b))
	}
	return decodeRobotiqStatus(b), nil
}

func (g *RobotiqGripper) waitFor(done func(RobotiqStatus) bool, what string) (RobotiqStatus, error) {
	deadline := time.Now().Add(g.timeout)
	for {
		st, err := g.read()
		if err != nil {
			return st, err
		}
		if done(st) {
			return st, nil
		}
		if !time.Now().Before(deadline) {
			return st, errors.Wrapf(ErrTimeout, "gripper %s did not finish within %v", what, g.timeout)
		}
		time.Sleep(robotiqPoll)
	}
}

func decodeRobotiqStatus(b []byte) RobotiqStatus {
	return RobotiqStatus{
		Activated:   b[0]&robotiqActivate != 0,
		GoTo:        b[0]&robotiqGoTo != 0,
		Activation:  int(b[0]>>4) & 0x3,
		Object:      ObjectStatus(b[0] >> 6),
		Fault:       int(b[2]),
		Requested:   int(b[3]),
		Position:    int(b[4]),
		CurrentMilA: int(b[5]) * 10,
	}
}

// ProbeRobotiq opens the port and reads the gripper status without activating it.
func ProbeRobotiq(cfg RobotiqConfig) (RobotiqStatus, error) {
	h := modbus.NewRTUClientHandler(cfg.SerialPort)
	h.BaudRate = orDefault(cfg.Baudrate, DefaultRobotiqBaud)
	h.DataBits = 8
	h.Parity = "N"
	h.StopBits = 1
	h.SlaveId = byte(orDefault(cfg.SlaveID, DefaultRobotiqSlave))
	h.Timeout = 500 * time.Millisecond
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	}

	if err := h.Connect(); err != nil {
		return RobotiqStatus{}, errors.Wrapf(ErrConnection, "open %s: %v", cfg.SerialPort, err)
	}
	defer h.Close()

	g := newRobotiqGripper(modbus.NewClient(h), nil, 0, nil)
	return g.read()
}
