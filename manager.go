package ur_arm

import (
	"context"
	"sync"

	"go.viam.com/rdk/logging"
)

var sharedSessions = NewSessionRegistry()

// SafeMotionService wraps a MotionService so that every call holds the session
// lock for its whole duration: send and completion wait never interleave with
// another caller on the same controller.
type SafeMotionService struct {
	MotionService
	mu sync.Mutex
}

func NewSafeMotionService(svc MotionService) *SafeMotionService {
	return &SafeMotionService{MotionService: svc}
}

func (s *SafeMotionService) MoveJ(ctx context.Context, target []float64, opts MoveOptions) (PoseVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MotionService.MoveJ(ctx, target, opts)
}

func (s *SafeMotionService) MoveL(ctx context.Context, target []float64, opts MoveOptions) (PoseVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MotionService.MoveL(ctx, target, opts)
}

func (s *SafeMotionService) MoveLS(ctx context.Context, poses [][]float64, opts MoveOptions) (PoseVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MotionService.MoveLS(ctx, poses, opts)
}

func (s *SafeMotionService) Move(ctx context.Context, dir Direction, delta *float64, opts MoveOptions) (PoseVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MotionService.Move(ctx, dir, delta, opts)
}

func (s *SafeMotionService) Translate(ctx context.Context, offset []float64, opts MoveOptions) (PoseVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MotionService.Translate(ctx, offset, opts)
}

func (s *SafeMotionService) OpenGripper(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MotionService.OpenGripper(ctx)
}

func (s *SafeMotionService) CloseGripper(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MotionService.CloseGripper(ctx)
}

func (s *SafeMotionService) PartialGripper(ctx context.Context, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MotionService.PartialGripper(ctx, amount)
}

func (s *SafeMotionService) Reset(ctx context.Context, emergencyStopped bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MotionService.Reset(ctx, emergencyStopped)
}

func (s *SafeMotionService) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MotionService.Close(ctx)
}

// Stop is not wrapped so it can reach the controller while a move holds the lock.

// GetSharedSession returns the process-wide session for cfg's controller.
func GetSharedSession(ctx context.Context, cfg ServiceConfig, logger logging.Logger) (*SafeMotionService, error) {
	return sharedSessions.Acquire(ctx, cfg, logger)
}

// ReleaseSharedSession drops a reference taken with GetSharedSession.
func ReleaseSharedSession(ctx context.Context, cfg ServiceConfig) {
	sharedSessions.Release(ctx, cfg.Address())
}

// SharedSessionStatus reports on the process-wide session for cfg's controller.
func SharedSessionStatus(cfg ServiceConfig) (int64, bool, string) {
	return sharedSessions.Status(cfg.Address())
}
