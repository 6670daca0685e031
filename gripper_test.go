package ur_arm

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

// stoppingDriver stops the fingers short of the target, as an object would.
type stoppingDriver struct {
	fakeGripper
	stopAt int
}

func (d *stoppingDriver) Position() (int, error) {
	pos, _ := d.fakeGripper.Position()
	if pos > d.stopAt {
		return d.stopAt, nil
	}
	return pos, nil
}

func TestGripperOnSession(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()
	cfg := &GripperConfig{Mode: ModeStub, Host: "gripper-session"}
	_, _, err := cfg.Validate("gripper")
	require.NoError(t, err)

	g, err := NewGripper(ctx, resource.NewName(gripper.API, "g"), cfg, logger)
	require.NoError(t, err)

	refCount, ok, _ := SharedSessionStatus(cfg.ServiceConfig())
	assert.True(t, ok)
	assert.EqualValues(t, 1, refCount)

	require.NoError(t, g.Open(ctx, nil))
	grabbed, err := g.Grab(ctx, nil)
	require.NoError(t, err)
	assert.False(t, grabbed)

	res, err := g.DoCommand(ctx, map[string]interface{}{"command": "partial", "amount": 128.0})
	require.NoError(t, err)
	assert.Equal(t, 128, res["position"])

	res, err = g.DoCommand(ctx, map[string]interface{}{"command": "get_position"})
	require.NoError(t, err)
	assert.Equal(t, 128, res["commanded_position"])

	_, err = g.DoCommand(ctx, map[string]interface{}{"command": "partial", "amount": 400.0})
	assert.True(t, errors.Is(err, ErrValidation))
	for _, amount := range []float64{math.NaN(), math.Inf(-1), 3.5, 1e19} {
		_, err = g.DoCommand(ctx, map[string]interface{}{"command": "partial", "amount": amount})
		assert.True(t, errors.Is(err, ErrValidation), "amount %v: %v", amount, err)
	}
	res, err = g.DoCommand(ctx, map[string]interface{}{"command": "get_position"})
	require.NoError(t, err)
	assert.Equal(t, 128, res["commanded_position"])

	_, err = g.IsHoldingSomething(ctx, nil)
	assert.ErrorIs(t, err, errors.ErrUnsupported)

	require.NoError(t, g.Close(ctx))
	_, ok, _ = SharedSessionStatus(cfg.ServiceConfig())
	assert.False(t, ok)
}

func TestGripperOnDriver(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()
	driver := &stoppingDriver{stopAt: 180}
	cfg := &GripperConfig{SerialPort: "/dev/null", Speed: 100, Force: 20}

	g, err := newGripperWithDriver(resource.NewName(gripper.API, "g"), driver, cfg, logger)
	require.NoError(t, err)

	grabbed, err := g.Grab(ctx, nil)
	require.NoError(t, err)
	assert.True(t, grabbed)
	assert.Equal(t, [3]int{255, 100, 20}, driver.moves[0])

	status, err := g.IsHoldingSomething(ctx, nil)
	require.NoError(t, err)
	assert.True(t, status.IsHoldingSomething)

	require.NoError(t, g.Open(ctx, nil))
	status, err = g.IsHoldingSomething(ctx, nil)
	require.NoError(t, err)
	assert.False(t, status.IsHoldingSomething)

	res, err := g.DoCommand(ctx, map[string]interface{}{"command": "get_position"})
	require.NoError(t, err)
	assert.Equal(t, 0, res["position"])

	geoms, err := g.Geometries(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, geoms, 1)

	require.NoError(t, g.Close(ctx))
	assert.True(t, driver.closed)
}
