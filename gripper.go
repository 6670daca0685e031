package ur_arm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
)

var (
	URGripperModel = resource.NewModel("devrel", "ur", "gripper")
)

// grabTolerance is how far short of fully closed the fingers must stop for a
// grab to count as holding something.
const grabTolerance = 5

func init() {
	resource.RegisterComponent(
		gripper.API,
		URGripperModel,
		resource.Registration[gripper.Gripper, *GripperConfig]{
			Constructor: newURGripper,
		},
	)
}

type urGripper struct {
	resource.AlwaysRebuild

	name       resource.Name
	logger     logging.Logger
	geometries []spatialmath.Geometry

	// Exactly one of session and driver is set.
	session    *SafeMotionService
	sessionCfg ServiceConfig
	driver     GripperDriver

	speed int
	force int

	mu           sync.Mutex
	isMoving     atomic.Bool
	lastPosition int
}

func newURGripper(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (gripper.Gripper, error) {
	cfg, err := resource.NativeConfig[*GripperConfig](conf)
	if err != nil {
		return nil, err
	}
	return NewGripper(ctx, conf.ResourceName(), cfg, logger)
}

// NewGripper builds the gripper on a Modbus driver when a serial port is
// configured and on the shared controller session otherwise.
func NewGripper(ctx context.Context, name resource.Name, cfg *GripperConfig, logger logging.Logger) (gripper.Gripper, error) {
	if cfg.SerialPort != "" {
		driver, err := NewRobotiqGripper(RobotiqConfig{
			SerialPort: cfg.SerialPort,
			Baudrate:   cfg.Baudrate,
			SlaveID:    cfg.SlaveID,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open robotiq gripper: %w", err)
		}
		return newGripperWithDriver(name, driver, cfg, logger)
	}

	sessionCfg := cfg.ServiceConfig()
	session, err := GetSharedSession(ctx, sessionCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get shared session for gripper: %w", err)
	}

	g, err := newGripperBase(name, cfg, logger)
	if err != nil {
		ReleaseSharedSession(ctx, sessionCfg)
		return nil, err
	}
	g.session = session
	g.sessionCfg = sessionCfg
	logger.Debugf("UR gripper using controller session at %s", sessionCfg.Address())
	return g, nil
}

func newGripperWithDriver(name resource.Name, driver GripperDriver, cfg *GripperConfig, logger logging.Logger) (*urGripper, error) {
	g, err := newGripperBase(name, cfg, logger)
	if err != nil {
		driver.Close()
		return nil, err
	}
	g.driver = driver
	return g, nil
}

func newGripperBase(name resource.Name, cfg *GripperConfig, logger logging.Logger) (*urGripper, error) {
	// Robotiq 2F-85 envelope.
	fingerSize := r3.Vector{X: 85, Y: 75, Z: 150}
	fingers, err := spatialmath.NewBox(spatialmath.NewPoseFromPoint(r3.Vector{X: 0, Y: 0, Z: fingerSize.Z / 2}), fingerSize, "fingers")
	if err != nil {
		return nil, err
	}

	return &urGripper{
		name:       name,
		logger:     logger,
		geometries: []spatialmath.Geometry{fingers},
		speed:      orDefault(cfg.Speed, DefaultGripperSpeed),
		force:      orDefault(cfg.Force, DefaultGripperForce),
	}, nil
}

func (g *urGripper) Name() resource.Name {
	return g.name
}

func (g *urGripper) moveTo(ctx context.Context, position int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.isMoving.Store(true)
	defer g.isMoving.Store(false)

	var err error
	if g.driver != nil {
		err = g.driver.Move(position, g.speed, g.force)
	} else {
		err = g.session.PartialGripper(ctx, position)
	}
	if err != nil {
		return err
	}
	g.lastPosition = position
	return nil
}

func (g *urGripper) Open(ctx context.Context, extra map[string]interface{}) error {
	g.logger.Debug("Opening gripper")
	if err := g.moveTo(ctx, gripperOpen); err != nil {
		return fmt.Errorf("failed to open gripper: %w", err)
	}
	return nil
}

// Grab closes the gripper. Only the Modbus driver reports where the fingers
// stopped, so only it can tell whether something is held.
func (g *urGripper) Grab(ctx context.Context, extra map[string]interface{}) (bool, error) {
	g.logger.Debug("Closing gripper")
	if err := g.moveTo(ctx, gripperClosed); err != nil {
		return false, fmt.Errorf("failed to close gripper: %w", err)
	}
	if g.driver == nil {
		return false, nil
	}
	return g.holding()
}

func (g *urGripper) holding() (bool, error) {
	pos, err := g.driver.Position()
	if err != nil {
		return false, err
	}
	return g.lastPosition == gripperClosed && pos < gripperClosed-grabTolerance, nil
}

func (g *urGripper) Stop(ctx context.Context, extra map[string]interface{}) error {
	g.isMoving.Store(false)
	if g.session != nil {
		return g.session.Stop(ctx)
	}
	return nil
}

func (g *urGripper) IsMoving(ctx context.Context) (bool, error) {
	return g.isMoving.Load(), nil
}

func (g *urGripper) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return g.geometries, nil
}

func (g *urGripper) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "partial":
		amount, ok := cmd["amount"].(float64)
		if !ok {
			return nil, fmt.Errorf("partial command requires numeric 'amount' between 0 and 255")
		}
		position, err := gripperPosition(amount)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		if err := g.moveTo(ctx, position); err != nil {
			return nil, err
		}
		return map[string]interface{}{"success": true, "position": position, "elapsed_ms": time.Since(start).Milliseconds()}, nil

	case "open":
		err := g.Open(ctx, nil)
		return map[string]interface{}{"success": err == nil}, err

	case "close":
		grabbed, err := g.Grab(ctx, nil)
		return map[string]interface{}{"success": err == nil, "grabbed": grabbed}, err

	case "get_position":
		result := map[string]interface{}{"commanded_position": g.commanded()}
		if g.driver != nil {
			pos, err := g.driver.Position()
			if err != nil {
				return nil, err
			}
			result["position"] = pos
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

func (g *urGripper) commanded() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastPosition
}

func (g *urGripper) Close(ctx context.Context) error {
	if g.driver != nil {
		return g.driver.Close()
	}
	ReleaseSharedSession(ctx, g.sessionCfg)
	return nil
}

func (g *urGripper) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return nil, errors.ErrUnsupported
}

func (g *urGripper) GoToInputs(ctx context.Context, inputs ...[]referenceframe.Input) error {
	return errors.ErrUnsupported
}

func (g *urGripper) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	return nil, errors.ErrUnsupported
}

func (g *urGripper) IsHoldingSomething(ctx context.Context, extra map[string]interface{}) (gripper.HoldingStatus, error) {
	if g.driver == nil {
		return gripper.HoldingStatus{}, errors.ErrUnsupported
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	held, err := g.holding()
	if err != nil {
		return gripper.HoldingStatus{}, err
	}
	return gripper.HoldingStatus{IsHoldingSomething: held}, nil
}
