package ur_arm

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// stubHome is where the stub arm starts: tool 40cm in front of the base, pointing down.
var (
	stubHomePose   = PoseVector{0.4, 0, 0.3, 0, 3.14159, 0}
	stubHomeJoints = JointVector{0, -1.5708, 1.5708, -1.5708, -1.5708, 0}
)

// stubService is an in-memory MotionService for development without a controller.
// Moves complete instantly and the reported pose follows the commands.
type stubService struct {
	logger   logging.Logger
	settings *Settings

	mu      sync.Mutex
	pose    PoseVector
	joints  JointVector
	gripper int
	closed  bool
	history []string
}

func newStubService(settings *Settings, logger logging.Logger) *stubService {
	logger.Info("using stub motion service, no controller will be contacted")
	return &stubService{
		logger:   logger,
		settings: settings,
		pose:     stubHomePose,
		joints:   stubHomeJoints,
	}
}

// record validates cmd the same way the live link would and keeps its script.
func (s *stubService) record(cmd Command) error {
	script, err := Encode(cmd)
	if err != nil {
		return err
	}
	if s.closed {
		return errors.Wrap(ErrLink, "stub service is closed")
	}
	s.history = append(s.history, string(script))
	s.logger.Debugw("stub command", "script", string(script))
	return nil
}

func (s *stubService) MoveJ(ctx context.Context, target []float64, opts MoveOptions) (PoseVector, error) {
	acc, vel := s.settings.Resolve(opts.Acceleration, opts.Velocity)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(JointMove{Target: target, Acceleration: acc, Velocity: vel, AsPose: !opts.JointTarget, Relative: opts.Relative}); err != nil {
		return PoseVector{}, err
	}
	if opts.JointTarget {
		s.joints = applyVector(s.joints, target, opts.Relative)
	} else {
		s.pose = applyVector(s.pose, target, opts.Relative)
	}
	return s.pose, nil
}

func (s *stubService) MoveL(ctx context.Context, target []float64, opts MoveOptions) (PoseVector, error) {
	acc, vel := s.settings.Resolve(opts.Acceleration, opts.Velocity)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(LinearMove{Target: target, Acceleration: acc, Velocity: vel, AsPose: !opts.JointTarget, Relative: opts.Relative}); err != nil {
		return PoseVector{}, err
	}
	s.pose = applyVector(s.pose, target, opts.Relative)
	return s.pose, nil
}

func (s *stubService) MoveLS(ctx context.Context, poses [][]float64, opts MoveOptions) (PoseVector, error) {
	acc, vel := s.settings.Resolve(opts.Acceleration, opts.Velocity)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(LinearSequence{Poses: poses, Acceleration: acc, Velocity: vel}); err != nil {
		return PoseVector{}, err
	}
	s.pose = applyVector(s.pose, poses[len(poses)-1], false)
	return s.pose, nil
}

func (s *stubService) Move(ctx context.Context, dir Direction, delta *float64, opts MoveOptions) (PoseVector, error) {
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

func (s *stubService) Translate(ctx context.Context, offset []float64, opts MoveOptions) (PoseVector, error) {
	acc, vel := s.settings.Resolve(opts.Acceleration, opts.Velocity)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Translation{Offset: offset, Acceleration: acc, Velocity: vel}); err != nil {
		return PoseVector{}, err
	}
	for i, v := range offset {
		s.pose[i] += v
	}
	return s.pose, nil
}

func (s *stubService) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record(StopMotion{Acceleration: stopDeceleration})
}

func (s *stubService) OpenGripper(ctx context.Context) error {
	return s.PartialGripper(ctx, gripperOpen)
}

func (s *stubService) CloseGripper(ctx context.Context) error {
	return s.PartialGripper(ctx, gripperClosed)
}

func (s *stubService) PartialGripper(ctx context.Context, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(GripperAction{Position: amount, Speed: DefaultGripperSpeed, Force: DefaultGripperForce, Hold: gripperHold}); err != nil {
		return err
	}
	s.gripper = amount
	return nil
}

func (s *stubService) Settings() *Settings {
	return s.settings
}

func (s *stubService) ConnectionStatus() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return -1
	}
	return 0
}

func (s *stubService) CurrentPose() (PoseVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pose, nil
}

func (s *stubService) CurrentJoints() (JointVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joints, nil
}

func (s *stubService) CurrentToolPosition() ([3]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return [3]float64{s.pose[0], s.pose[1], s.pose[2]}, nil
}

func (s *stubService) IsMoving() bool {
	return false
}

func (s *stubService) Reset(ctx context.Context, emergencyStopped bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
	s.logger.Infow("stub reset", "emergency_stopped", emergencyStopped)
	return nil
}

func (s *stubService) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Commands returns every script the stub has accepted, oldest first.
func (s *stubService) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

func applyVector[T ~[6]float64](current T, target []float64, relative bool) T {
	for i := range current {
		if relative {
			current[i] += target[i]
		} else {
			current[i] = target[i]
		}
	}
	return current
}
