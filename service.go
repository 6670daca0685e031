package ur_arm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Service modes.
const (
	ModeLive = "live"
	ModeStub = "stub"
)

const (
	gripperOpen   = 0
	gripperClosed = 255

	// gripperHold keeps the URCap gripper program running long enough for the
	// state stream to report it.
	gripperHold = 1.0

	stopDeceleration = 2.0
)

// Gripper defaults for the URCap program and the Modbus driver.
const (
	DefaultGripperSpeed = 255
	DefaultGripperForce = 50
)

// MoveOptions are per-call overrides. Nil parameters fall back to the session defaults.
type MoveOptions struct {
	Acceleration *float64
	Velocity     *float64
	// JointTarget sends the target without the pose marker, so movej reads it as joint angles.
	JointTarget bool
	Relative    bool
}

// MotionService is the public motion, configuration and query surface for one controller.
// Calls are synchronous and must be serialized by the caller.
type MotionService interface {
	MoveJ(ctx context.Context, target []float64, opts MoveOptions) (PoseVector, error)
	MoveL(ctx context.Context, target []float64, opts MoveOptions) (PoseVector, error)
	MoveLS(ctx context.Context, poses [][]float64, opts MoveOptions) (PoseVector, error)
	// Move nudges the tool along or about one axis. A nil delta uses the session amount.
	Move(ctx context.Context, dir Direction, delta *float64, opts MoveOptions) (PoseVector, error)
	Translate(ctx context.Context, offset []float64, opts MoveOptions) (PoseVector, error)
	Stop(ctx context.Context) error

	OpenGripper(ctx context.Context) error
	CloseGripper(ctx context.Context) error
	PartialGripper(ctx context.Context, amount int) error

	Settings() *Settings
	ConnectionStatus() int
	CurrentPose() (PoseVector, error)
	CurrentJoints() (JointVector, error)
	CurrentToolPosition() ([3]float64, error)
	IsMoving() bool

	Reset(ctx context.Context, emergencyStopped bool) error
	Close(ctx context.Context) error
}

// ServiceConfig is everything needed to build a MotionService.
type ServiceConfig struct {
	Mode        string
	Host        string
	Port        int
	MonitorPort int
	SettleDelay time.Duration

	Velocity            float64
	Acceleration        float64
	WaitForStartTimeout time.Duration
	CompletionTimeout   time.Duration
	AmountMovement      float64
	AmountRotation      float64

	GripperSpeed int
	GripperForce int
}

func newSettingsFromConfig(cfg ServiceConfig) (*Settings, error) {
	s := NewSettings()
	if err := applySettings(s, cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// applySettings copies the non-zero values of cfg into s.
func applySettings(s *Settings, cfg ServiceConfig) error {
	for _, f := range []struct {
		v   float64
		set func(float64) (float64, error)
	}{
		{cfg.Velocity, s.SetVelocity},
		{cfg.Acceleration, s.SetAcceleration},
		{cfg.AmountMovement, s.SetAmountMovement},
		{cfg.AmountRotation, s.SetAmountRotation},
	} {
		if f.v == 0 {
			continue
		}
		if _, err := f.set(f.v); err != nil {
			return err
		}
	}
	if cfg.WaitForStartTimeout != 0 {
		if _, err := s.SetWaitForStartTimeout(cfg.WaitForStartTimeout); err != nil {
			return err
		}
	}
	if cfg.CompletionTimeout != 0 {
		if _, err := s.SetCompletionTimeout(cfg.CompletionTimeout); err != nil {
			return err
		}
	}
	return nil
}

// NewMotionService builds the implementation cfg.Mode selects. gripper may be nil,
// in which case gripper actions run as controller programs.
func NewMotionService(ctx context.Context, cfg ServiceConfig, gripper GripperDriver, logger logging.Logger) (MotionService, error) {
	settings, err := newSettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.Mode {
	case ModeStub:
		return newStubService(settings, logger), nil
	case ModeLive, "":
	default:
		return nil, errors.Wrapf(ErrValidation, "unknown mode %q", cfg.Mode)
	}

	if cfg.Host == "" {
		return nil, errors.Wrap(ErrValidation, "host is required in live mode")
	}
	monitorPort := cfg.MonitorPort
	dialDevice := func(ctx context.Context) (Device, error) {
		m, err := DialStateMonitor(ctx, cfg.Host, monitorPort, logger)
		if err != nil {
			return nil, err
		}
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := m.WaitReady(waitCtx); err != nil {
			m.Close()
			return nil, err
		}
		return m, nil
	}

	svc := newLiveService(cfg, settings, NewLink(cfg.SettleDelay, logger), dialDevice, gripper, logger)
	if err := svc.connect(ctx); err != nil {
		// The state stream may already be up; the gripper stays with the caller.
		if cerr := svc.closeDevice(); cerr != nil {
			logger.Warnw("error closing state stream", "error", cerr)
		}
		return nil, err
	}
	return svc, nil
}

type liveService struct {
	logger   logging.Logger
	cfg      ServiceConfig
	settings *Settings
	link     *Link
	gripper  GripperDriver

	dialDevice func(ctx context.Context) (Device, error)
	newWaiter  func() *CompletionWaiter

	mu     sync.Mutex
	device Device
	moving bool
}

func newLiveService(
	cfg ServiceConfig,
	settings *Settings,
	link *Link,
	dialDevice func(ctx context.Context) (Device, error),
	gripper GripperDriver,
	logger logging.Logger,
) *liveService {
	if cfg.GripperSpeed == 0 {
		cfg.GripperSpeed = DefaultGripperSpeed
	}
	if cfg.GripperForce == 0 {
		cfg.GripperForce = DefaultGripperForce
	}
	return &liveService{
		logger:     logger,
		cfg:        cfg,
		settings:   settings,
		link:       link,
		gripper:    gripper,
		dialDevice: dialDevice,
		newWaiter:  NewCompletionWaiter,
	}
}

func (s *liveService) connect(ctx context.Context) error {
	s.mu.Lock()
	needDevice := s.device == nil
	s.mu.Unlock()

	if needDevice {
		dev, err := s.dialDevice(ctx)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.device = dev
		s.mu.Unlock()
	}
	return s.link.Connect(ctx, s.cfg.Host, s.cfg.Port)
}

func (s *liveService) dev() (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return nil, errors.Wrap(ErrLink, "controller state is not available")
	}
	return s.device, nil
}

func (s *liveService) setMoving(moving bool) {
	s.mu.Lock()
	s.moving = moving
	s.mu.Unlock()
}

func (s *liveService) IsMoving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moving
}

// run sends one command and blocks until the controller has executed it.
func (s *liveService) run(ctx context.Context, name string, cmd Command) error {
	script, err := Encode(cmd)
	if err != nil {
		return err
	}
	dev, err := s.dev()
	if err != nil {
		return err
	}

	s.setMoving(true)
	defer s.setMoving(false)

	s.logger.Infow("dispatching command", "command", name)
	if err := s.link.Send(ctx, script); err != nil {
		s.logger.Errorw("command send failed", "command", name, "error", err)
		return err
	}

	w := s.newWaiter()
	if err := w.Wait(dev.IsProgramRunning, s.settings.Timeouts()); err != nil {
		s.logger.Errorw("command did not complete", "command", name, "state", w.State().String(), "error", err)
		return err
	}
	s.logger.Infow("command completed", "command", name)
	return nil
}

func (s *liveService) runAndReport(ctx context.Context, name string, cmd Command) (PoseVector, error) {
	if err := s.run(ctx, name, cmd); err != nil {
		return PoseVector{}, err
	}
	return s.CurrentPose()
}

func (s *liveService) MoveJ(ctx context.Context, target []float64, opts MoveOptions) (PoseVector, error) {
	acc, vel := s.settings.Resolve(opts.Acceleration, opts.Velocity)
	return s.runAndReport(ctx, "movej", JointMove{
		Target: target, Acceleration: acc, Velocity: vel,
		AsPose: !opts.JointTarget, Relative: opts.Relative,
	})
}

func (s *liveService) MoveL(ctx context.Context, target []float64, opts MoveOptions) (PoseVector, error) {
	acc, vel := s.settings.Resolve(opts.Acceleration, opts.Velocity)
	return s.runAndReport(ctx, "movel", LinearMove{
		Target: target, Acceleration: acc, Velocity: vel,
		AsPose: !opts.JointTarget, Relative: opts.Relative,
	})
}

func (s *liveService) MoveLS(ctx context.Context, poses [][]float64, opts MoveOptions) (PoseVector, error) {
	acc, vel := s.settings.Resolve(opts.Acceleration, opts.Velocity)
	return s.runAndReport(ctx, "movels", LinearSequence{Poses: poses, Acceleration: acc, Velocity: vel})
}

func (s *liveService) Move(ctx context.Context, dir Direction, delta *float64, opts MoveOptions) (PoseVector, error) {
	current, err := s.CurrentPose()
	if err != nil {
		return PoseVector{}, err
	}
	target, err := nudgeTarget(s.settings, current, dir, delta)
	if err != nil {
		return PoseVector{}, err
	}
	return s.MoveL(ctx, target.Slice(), MoveOptions{Acceleration: opts.Acceleration, Velocity: opts.Velocity})
}

func (s *liveService) Translate(ctx context.Context, offset []float64, opts MoveOptions) (PoseVector, error) {
	acc, vel := s.settings.Resolve(opts.Acceleration, opts.Velocity)
	return s.runAndReport(ctx, "translate", Translation{Offset: offset, Acceleration: acc, Velocity: vel})
}

// Stop does not wait: stopj ends whatever program is running.
func (s *liveService) Stop(ctx context.Context) error {
	script, err := Encode(StopMotion{Acceleration: stopDeceleration})
	if err != nil {
		return err
	}
	s.logger.Info("stopping arm")
	return s.link.Send(ctx, script)
}

func (s *liveService) OpenGripper(ctx context.Context) error {
	return s.PartialGripper(ctx, gripperOpen)
}

func (s *liveService) CloseGripper(ctx context.Context) error {
	return s.PartialGripper(ctx, gripperClosed)
}

func (s *liveService) PartialGripper(ctx context.Context, amount int) error {
	action := GripperAction{Position: amount, Speed: s.cfg.GripperSpeed, Force: s.cfg.GripperForce, Hold: gripperHold}
	if s.gripper != nil {
		if _, err := action.script(); err != nil {
			return err
		}
		s.logger.Infow("moving gripper", "position", amount)
		return s.gripper.Move(action.Position, action.Speed, action.Force)
	}
	return s.run(ctx, fmt.Sprintf("gripper(%d)", amount), action)
}

func (s *liveService) Settings() *Settings {
	return s.settings
}

func (s *liveService) ConnectionStatus() int {
	return s.link.ProbeStatus()
}

func (s *liveService) CurrentPose() (PoseVector, error) {
	dev, err := s.dev()
	if err != nil {
		return PoseVector{}, err
	}
	return dev.CurrentPose()
}

func (s *liveService) CurrentJoints() (JointVector, error) {
	dev, err := s.dev()
	if err != nil {
		return JointVector{}, err
	}
	return dev.CurrentJoints()
}

func (s *liveService) CurrentToolPosition() ([3]float64, error) {
	dev, err := s.dev()
	if err != nil {
		return [3]float64{}, err
	}
	return dev.CurrentToolPosition()
}

// Reset closes the script link before opening a new one. After an emergency
// stop the state stream is re-established too.
func (s *liveService) Reset(ctx context.Context, emergencyStopped bool) error {
	s.logger.Infow("resetting controller connection", "emergency_stopped", emergencyStopped)
	if err := s.link.Close(); err != nil {
		s.logger.Warnw("error closing controller link", "error", err)
	}

	if emergencyStopped {
		if err := s.closeDevice(); err != nil {
			s.logger.Warnw("error closing state stream", "error", err)
		}
	}
	return s.connect(ctx)
}

// closeDevice drops the state stream, if any, so the next connect dials a new one.
func (s *liveService) closeDevice() error {
	s.mu.Lock()
	dev := s.device
	s.device = nil
	s.mu.Unlock()
	if dev == nil {
		return nil
	}
	return dev.Close()
}

func (s *liveService) Close(ctx context.Context) error {
	err := s.link.Close()
	if cerr := s.closeDevice(); err == nil {
		err = cerr
	}
	if s.gripper != nil {
		if cerr := s.gripper.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// nudgeTarget offsets current by delta, or by the session amount for dir when delta is nil.
func nudgeTarget(settings *Settings, current PoseVector, dir Direction, delta *float64) (PoseVector, error) {
	amount := settings.AmountMovement()
	if dir.IsRotation() {
		amount = settings.AmountRotation()
	}
	if delta != nil {
		amount = *delta
	}
	if !isFinite(amount) {
		return PoseVector{}, errors.Wrapf(ErrValidation, "%s delta must be finite", dir)
	}
	return dir.apply(current, amount)
}
