package ur_arm

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
)

func newStubArm(t *testing.T, host string) arm.Arm {
	t.Helper()
	cfg := &Config{Mode: ModeStub, Host: host, Velocity: 0.1}
	_, _, err := cfg.Validate("arm")
	require.NoError(t, err)

	a, err := NewURArm(context.Background(), resource.NewName(arm.API, "ur"), cfg, logging.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func TestPoseConversion(t *testing.T) {
	p := PoseVector{0.4, -0.1, 0.25, 0, math.Pi / 2, 0}
	pose := poseToSpatial(p)

	assert.InDelta(t, 400, pose.Point().X, 1e-9)
	assert.InDelta(t, -100, pose.Point().Y, 1e-9)
	assert.InDelta(t, 250, pose.Point().Z, 1e-9)

	back := spatialToPose(pose)
	for i := range p {
		assert.InDelta(t, p[i], back[i], 1e-9)
	}
}

func TestArmMoveToPosition(t *testing.T) {
	a := newStubArm(t, "arm-position")
	ctx := context.Background()

	home, err := a.EndPosition(ctx, nil)
	require.NoError(t, err)
	assert.InDelta(t, 400, home.Point().X, 1e-9)
	assert.InDelta(t, 300, home.Point().Z, 1e-9)

	target := spatialmath.NewPoseFromPoint(r3.Vector{X: 500, Y: 100, Z: 200})
	require.NoError(t, a.MoveToPosition(ctx, target, nil))

	got, err := a.EndPosition(ctx, nil)
	require.NoError(t, err)
	assert.True(t, spatialmath.PoseAlmostEqual(target, got))

	moving, err := a.IsMoving(ctx)
	require.NoError(t, err)
	assert.False(t, moving)
}

func TestArmJointPositions(t *testing.T) {
	a := newStubArm(t, "arm-joints")
	ctx := context.Background()

	err := a.MoveToJointPositions(ctx, []referenceframe.Input{{Value: 1}, {Value: 2}}, nil)
	assert.True(t, errors.Is(err, ErrInvalidVectorLength))

	target := []referenceframe.Input{{Value: 0.1}, {Value: -1.2}, {Value: 1.3}, {Value: -0.4}, {Value: 0.5}, {Value: 0.6}}
	require.NoError(t, a.MoveToJointPositions(ctx, target, nil))

	got, err := a.JointPositions(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, target, got)

	steps := [][]referenceframe.Input{target, make([]referenceframe.Input, 6)}
	require.NoError(t, a.MoveThroughJointPositions(ctx, steps, &arm.MoveOptions{MaxVelRads: 0.5}, nil))
	got, err = a.CurrentInputs(ctx)
	require.NoError(t, err)
	assert.Equal(t, make([]referenceframe.Input, 6), got)
}

func TestArmKinematics(t *testing.T) {
	a := newStubArm(t, "arm-kinematics")
	model, err := a.Kinematics(context.Background())
	require.NoError(t, err)
	assert.Len(t, model.DoF(), 6)
}

func TestArmDoCommandMotion(t *testing.T) {
	a := newStubArm(t, "arm-do-motion")
	ctx := context.Background()

	res, err := a.DoCommand(ctx, map[string]interface{}{
		"command": "movel",
		"target":  []interface{}{0.5, 0.0, 0.5, 0.0, 0.0, 0.0},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0, 0.5, 0, 0, 0}, res["pose"])

	res, err = a.DoCommand(ctx, map[string]interface{}{"command": "move", "direction": "down", "delta": 0.25})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0, 0.25, 0, 0, 0}, res["pose"])

	res, err = a.DoCommand(ctx, map[string]interface{}{"command": "rotate", "direction": "yaw", "delta": 0.5})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0, 0.25, 0, 0, 0.5}, res["pose"])

	_, err = a.DoCommand(ctx, map[string]interface{}{"command": "rotate", "direction": "up"})
	assert.True(t, errors.Is(err, ErrValidation))

	res, err = a.DoCommand(ctx, map[string]interface{}{
		"command": "movels",
		"poses": []interface{}{
			[]interface{}{0.1, 0.2, 0.3, 0.0, 0.0, 0.0},
			[]interface{}{0.25, 0.5, 0.75, 0.0, 0.0, 0.0},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 0.5, 0.75, 0, 0, 0}, res["pose"])

	res, err = a.DoCommand(ctx, map[string]interface{}{"command": "translate", "offset": []interface{}{0.25, 0.0, 0.0}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5, 0.75, 0, 0, 0}, res["pose"])

	_, err = a.DoCommand(ctx, map[string]interface{}{"command": "translate", "offset": []interface{}{0.25, "x", 0.0}})
	assert.True(t, errors.Is(err, ErrValidation))

	res, err = a.DoCommand(ctx, map[string]interface{}{"command": "current_tool_position"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5, 0.75}, res["tool_position"])
}

func TestArmDoCommandConfig(t *testing.T) {
	a := newStubArm(t, "arm-do-config")
	ctx := context.Background()

	res, err := a.DoCommand(ctx, map[string]interface{}{"command": "get_config"})
	require.NoError(t, err)
	assert.Equal(t, 0.1, res["velocity"])
	assert.Equal(t, 2.0, res["wait_for_start_timeout_secs"])

	res, err = a.DoCommand(ctx, map[string]interface{}{"command": "set_config", "velocity": 0.2, "completion_timeout_secs": 10.0})
	require.NoError(t, err)
	previous := res["previous"].(map[string]interface{})
	assert.Equal(t, 0.1, previous["velocity"])
	assert.Equal(t, 60.0, previous["completion_timeout_secs"])

	res, err = a.DoCommand(ctx, map[string]interface{}{"command": "get_config"})
	require.NoError(t, err)
	assert.Equal(t, 0.2, res["velocity"])
	assert.Equal(t, 10.0, res["completion_timeout_secs"])

	_, err = a.DoCommand(ctx, map[string]interface{}{"command": "set_config", "velocity": -1.0})
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = a.DoCommand(ctx, map[string]interface{}{"command": "set_config"})
	assert.True(t, errors.Is(err, ErrValidation))

	// A rejected key leaves the valid ones in the same request unapplied.
	_, err = a.DoCommand(ctx, map[string]interface{}{"command": "set_config", "velocity": 0.3, "acceleration": -1.0})
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = a.DoCommand(ctx, map[string]interface{}{"command": "set_config", "amount_movement": 0.2, "completion_timeout_secs": 1e-12})
	assert.True(t, errors.Is(err, ErrValidation))
	res, err = a.DoCommand(ctx, map[string]interface{}{"command": "get_config"})
	require.NoError(t, err)
	assert.Equal(t, 0.2, res["velocity"])
	assert.Equal(t, DefaultAcceleration, res["acceleration"])
	assert.Equal(t, 10.0, res["completion_timeout_secs"])
	assert.Equal(t, DefaultAmountMovement, res["amount_movement"])

	res, err = a.DoCommand(ctx, map[string]interface{}{"command": "health"})
	require.NoError(t, err)
	assert.Equal(t, true, res["healthy"])

	res, err = a.DoCommand(ctx, map[string]interface{}{"command": "controller_status"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res["ref_count"])
	assert.Equal(t, true, res["has_session"])

	res, err = a.DoCommand(ctx, map[string]interface{}{"command": "reset", "emergency_stopped": true})
	require.NoError(t, err)
	assert.Equal(t, true, res["success"])

	_, err = a.DoCommand(ctx, map[string]interface{}{"command": "dance"})
	assert.Error(t, err)
}

func TestArmPartialGripperAmount(t *testing.T) {
	a := newStubArm(t, "arm-partial-gripper")
	ctx := context.Background()

	res, err := a.DoCommand(ctx, map[string]interface{}{"command": "partial_gripper", "amount": 128.0})
	require.NoError(t, err)
	assert.Equal(t, true, res["success"])

	for _, amount := range []float64{math.NaN(), math.Inf(1), 3.5, -1, 256, 1e19} {
		_, err := a.DoCommand(ctx, map[string]interface{}{"command": "partial_gripper", "amount": amount})
		assert.True(t, errors.Is(err, ErrValidation), "amount %v: %v", amount, err)
	}
}

func TestArmAndGripperShareSession(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	armCfg := &Config{Mode: ModeStub, Host: "shared-controller"}
	_, _, err := armCfg.Validate("arm")
	require.NoError(t, err)
	a, err := NewURArm(ctx, resource.NewName(arm.API, "ur"), armCfg, logger)
	require.NoError(t, err)

	gripCfg := &GripperConfig{Mode: ModeStub, Host: "shared-controller"}
	_, _, err = gripCfg.Validate("gripper")
	require.NoError(t, err)
	g, err := NewGripper(ctx, resource.NewName(arm.API, "g"), gripCfg, logger)
	require.NoError(t, err)

	refCount, _, _ := SharedSessionStatus(armCfg.ServiceConfig())
	assert.EqualValues(t, 2, refCount)

	require.NoError(t, g.Close(ctx))
	refCount, ok, _ := SharedSessionStatus(armCfg.ServiceConfig())
	assert.True(t, ok)
	assert.EqualValues(t, 1, refCount)

	require.NoError(t, a.Close(ctx))
	_, ok, _ = SharedSessionStatus(armCfg.ServiceConfig())
	assert.False(t, ok)
}
