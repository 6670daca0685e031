package ur_arm

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/utils/rpc"
)

//go:embed ur5e.json
var ur5eModelJSON []byte

var (
	URArmModel = resource.NewModel("devrel", "ur", "arm")
)

const jointCount = 6

func init() {
	resource.RegisterComponent(arm.API, URArmModel,
		resource.Registration[arm.Arm, *Config]{
			Constructor: newURArm,
		},
	)
}

// createUR5eModel parses the embedded kinematics.
func createUR5eModel(name string) (referenceframe.Model, error) {
	m := &referenceframe.ModelConfigJSON{
		OriginalFile: &referenceframe.ModelFile{
			Bytes:     ur5eModelJSON,
			Extension: "json",
		},
	}
	if err := json.Unmarshal(ur5eModelJSON, m); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal json file")
	}
	return m.ParseConfig(name)
}

type urArm struct {
	resource.AlwaysRebuild

	name    resource.Name
	logger  logging.Logger
	cfg     *Config
	svcCfg  ServiceConfig
	opMgr   *operation.SingleOperationManager
	session *SafeMotionService

	modelOnce sync.Once
	model     referenceframe.Model
	modelErr  error
}

func newURArm(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (arm.Arm, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}
	conf.Logger = logger
	return NewURArm(ctx, rawConf.ResourceName(), conf, logger)
}

// NewURArm opens (or joins) the controller session and applies the configured
// motion defaults to it.
func NewURArm(ctx context.Context, name resource.Name, conf *Config, logger logging.Logger) (arm.Arm, error) {
	svcCfg := conf.ServiceConfig()

	session, err := GetSharedSession(ctx, svcCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize UR controller session: %w", err)
	}
	if err := applySettings(session.Settings(), svcCfg); err != nil {
		ReleaseSharedSession(ctx, svcCfg)
		return nil, err
	}

	a := &urArm{
		name:    name,
		logger:  logger,
		cfg:     conf,
		svcCfg:  svcCfg,
		opMgr:   operation.NewSingleOperationManager(),
		session: session,
	}

	logger.Infof("UR arm (%s mode) initialized for controller %s", modeName(conf.Mode), svcCfg.Address())
	return a, nil
}

func (a *urArm) Name() resource.Name {
	return a.name
}

func (a *urArm) NewClientFromConn(ctx context.Context, conn rpc.ClientConn, remoteName string, name resource.Name, logger logging.Logger) (arm.Arm, error) {
	return nil, errors.New("remote client not implemented")
}

func (a *urArm) EndPosition(ctx context.Context, extra map[string]interface{}) (spatialmath.Pose, error) {
	pose, err := a.session.CurrentPose()
	if err != nil {
		return nil, err
	}
	return poseToSpatial(pose), nil
}

func (a *urArm) MoveToPosition(ctx context.Context, pose spatialmath.Pose, extra map[string]interface{}) error {
	ctx, done := a.opMgr.New(ctx)
	defer done()

	opts, err := moveOptionsFromMap(extra)
	if err != nil {
		return err
	}
	target := spatialToPose(pose)
	_, err = a.session.MoveL(ctx, target.Slice(), opts)
	return err
}

func (a *urArm) MoveToJointPositions(ctx context.Context, positions []referenceframe.Input, extra map[string]interface{}) error {
	ctx, done := a.opMgr.New(ctx)
	defer done()

	opts, err := moveOptionsFromMap(extra)
	if err != nil {
		return err
	}
	return a.moveJoints(ctx, positions, opts)
}

func (a *urArm) moveJoints(ctx context.Context, positions []referenceframe.Input, opts MoveOptions) error {
	if len(positions) != jointCount {
		return errors.Wrapf(ErrInvalidVectorLength, "expected %d joint positions, got %d", jointCount, len(positions))
	}
	target := make([]float64, len(positions))
	for i, in := range positions {
		target[i] = in.Value
	}
	opts.JointTarget = true
	opts.Relative = false
	_, err := a.session.MoveJ(ctx, target, opts)
	return err
}

func (a *urArm) MoveThroughJointPositions(ctx context.Context, positions [][]referenceframe.Input, options *arm.MoveOptions, extra map[string]interface{}) error {
	ctx, done := a.opMgr.New(ctx)
	defer done()

	opts, err := moveOptionsFromMap(extra)
	if err != nil {
		return err
	}
	if options != nil {
		if options.MaxVelRads > 0 {
			opts.Velocity = &options.MaxVelRads
		}
		if options.MaxAccRads > 0 {
			opts.Acceleration = &options.MaxAccRads
		}
	}

	for _, jointPositions := range positions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.moveJoints(ctx, jointPositions, opts); err != nil {
			return err
		}
	}
	return nil
}

func (a *urArm) JointPositions(ctx context.Context, extra map[string]interface{}) ([]referenceframe.Input, error) {
	joints, err := a.session.CurrentJoints()
	if err != nil {
		return nil, fmt.Errorf("failed to read joint positions: %w", err)
	}

	positions := make([]referenceframe.Input, jointCount)
	for i, angle := range joints {
		positions[i] = referenceframe.Input{Value: angle}
	}
	return positions, nil
}

func (a *urArm) Stop(ctx context.Context, extra map[string]interface{}) error {
	a.opMgr.CancelRunning(ctx)
	return a.session.Stop(ctx)
}

// Kinematics parses the embedded model on first use.
func (a *urArm) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	a.modelOnce.Do(func() {
		a.model, a.modelErr = createUR5eModel(a.name.ShortName())
		if a.modelErr != nil {
			a.logger.Errorf("failed to load kinematic model: %v", a.modelErr)
		}
	})
	return a.model, a.modelErr
}

func (a *urArm) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return a.JointPositions(ctx, nil)
}

func (a *urArm) GoToInputs(ctx context.Context, inputSteps ...[]referenceframe.Input) error {
	return a.MoveThroughJointPositions(ctx, inputSteps, nil, nil)
}

func (a *urArm) IsMoving(ctx context.Context) (bool, error) {
	return a.opMgr.OpRunning() || a.session.IsMoving(), nil
}

func (a *urArm) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	model, err := a.Kinematics(ctx)
	if err != nil {
		return nil, err
	}
	inputs, err := a.CurrentInputs(ctx)
	if err != nil {
		return nil, err
	}
	gif, err := model.Geometries(inputs)
	if err != nil {
		return nil, err
	}
	return gif.Geometries(), nil
}

func (a *urArm) Close(ctx context.Context) error {
	a.logger.Info("Closing UR arm")
	ReleaseSharedSession(ctx, a.svcCfg)
	return nil
}

// poseToSpatial converts controller units (m, rotation vector) to a Viam pose (mm, orientation).
func poseToSpatial(p PoseVector) spatialmath.Pose {
	point := r3.Vector{X: p[0] * 1000, Y: p[1] * 1000, Z: p[2] * 1000}
	rotation := r3.Vector{X: p[3], Y: p[4], Z: p[5]}
	if rotation.Norm() == 0 {
		return spatialmath.NewPoseFromPoint(point)
	}
	return spatialmath.NewPose(point, spatialmath.R3ToR4(rotation))
}

func spatialToPose(pose spatialmath.Pose) PoseVector {
	pt := pose.Point()
	rv := pose.Orientation().AxisAngles().ToR3()
	return PoseVector{pt.X / 1000, pt.Y / 1000, pt.Z / 1000, rv.X, rv.Y, rv.Z}
}

// secondsField renders a duration for get_config.
func secondsField(d time.Duration) float64 {
	return d.Seconds()
}
