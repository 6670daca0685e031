package ur_arm

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Session defaults.
const (
	DefaultVelocity       = 0.05
	DefaultAcceleration   = 0.05
	DefaultAmountMovement = 0.05
	DefaultAmountRotation = math.Pi / 16

	DefaultWaitForStartTimeout = 2 * time.Second
	DefaultCompletionTimeout   = 60 * time.Second
)

// MotionParameters are the velocity and acceleration used when a call does not override them.
type MotionParameters struct {
	Velocity     float64
	Acceleration float64
}

// TimeoutPolicy bounds the two phases of the completion waiter.
type TimeoutPolicy struct {
	WaitForStart time.Duration
	Completion   time.Duration
}

// Settings is the mutable per-session state of a motion service. Every setter
// swaps in the new value and returns the old one.
type Settings struct {
	mu             sync.Mutex
	motion         MotionParameters
	timeouts       TimeoutPolicy
	amountMovement float64
	amountRotation float64
}

// NewSettings returns settings populated with the package defaults.
func NewSettings() *Settings {
	return &Settings{
		motion:         MotionParameters{Velocity: DefaultVelocity, Acceleration: DefaultAcceleration},
		timeouts:       TimeoutPolicy{WaitForStart: DefaultWaitForStartTimeout, Completion: DefaultCompletionTimeout},
		amountMovement: DefaultAmountMovement,
		amountRotation: DefaultAmountRotation,
	}
}

func (s *Settings) Motion() MotionParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.motion
}

func (s *Settings) Timeouts() TimeoutPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeouts
}

func (s *Settings) Velocity() float64     { return s.Motion().Velocity }
func (s *Settings) Acceleration() float64 { return s.Motion().Acceleration }

func (s *Settings) WaitForStartTimeout() time.Duration { return s.Timeouts().WaitForStart }
func (s *Settings) CompletionTimeout() time.Duration   { return s.Timeouts().Completion }

func (s *Settings) AmountMovement() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.amountMovement
}

func (s *Settings) AmountRotation() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.amountRotation
}

func (s *Settings) SetVelocity(v float64) (float64, error) {
	return s.swapFloat(&s.motion.Velocity, v, "velocity")
}

func (s *Settings) SetAcceleration(v float64) (float64, error) {
	return s.swapFloat(&s.motion.Acceleration, v, "acceleration")
}

func (s *Settings) SetAmountMovement(v float64) (float64, error) {
	return s.swapFloat(&s.amountMovement, v, "amount_movement")
}

func (s *Settings) SetAmountRotation(v float64) (float64, error) {
	return s.swapFloat(&s.amountRotation, v, "amount_rotation")
}

func (s *Settings) SetWaitForStartTimeout(d time.Duration) (time.Duration, error) {
	return s.swapDuration(&s.timeouts.WaitForStart, d, "wait_for_start_timeout")
}

func (s *Settings) SetCompletionTimeout(d time.Duration) (time.Duration, error) {
	return s.swapDuration(&s.timeouts.Completion, d, "completion_timeout")
}

// Resolve fills unset per-call overrides from the defaults.
func (s *Settings) Resolve(acc, vel *float64) (float64, float64) {
	m := s.Motion()
	a, v := m.Acceleration, m.Velocity
	if acc != nil {
		a = *acc
	}
	if vel != nil {
		v = *vel
	}
	return a, v
}

func (s *Settings) swapFloat(field *float64, v float64, name string) (float64, error) {
	if !isFinite(v) || v <= 0 {
		return 0, errors.Wrapf(ErrValidation, "%s must be positive, got %v", name, v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := *field
	*field = v
	return prev, nil
}

func (s *Settings) swapDuration(field *time.Duration, d time.Duration, name string) (time.Duration, error) {
	if d <= 0 {
		return 0, errors.Wrapf(ErrValidation, "%s must be positive, got %v", name, d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := *field
	*field = d
	return prev, nil
}

// secondsToDuration converts a positive seconds value from config or a command.
func secondsToDuration(secs float64) (time.Duration, error) {
	if !isFinite(secs) || secs <= 0 {
		return 0, errors.Wrapf(ErrValidation, "timeout must be a positive number of seconds, got %v", secs)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
