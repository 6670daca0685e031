package ur_arm

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// DoCommand exposes the controller operations that have no arm API method.
// Every request names its operation in "command".
func (a *urArm) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "movej", "movel":
		target, err := vectorArg(cmd, "target")
		if err != nil {
			return nil, err
		}
		opts, err := moveOptionsFromMap(cmd)
		if err != nil {
			return nil, err
		}
		ctx, done := a.opMgr.New(ctx)
		defer done()

		var pose PoseVector
		if cmd["command"] == "movej" {
			pose, err = a.session.MoveJ(ctx, target, opts)
		} else {
			pose, err = a.session.MoveL(ctx, target, opts)
		}
		return poseResult(pose, err)

	case "movels":
		poses, err := posesArg(cmd, "poses")
		if err != nil {
			return nil, err
		}
		opts, err := moveOptionsFromMap(cmd)
		if err != nil {
			return nil, err
		}
		ctx, done := a.opMgr.New(ctx)
		defer done()
		return poseResult(a.session.MoveLS(ctx, poses, opts))

	case "move", "rotate":
		name, ok := cmd["direction"].(string)
		if !ok {
			return nil, errors.Wrapf(ErrValidation, "%v command requires 'direction'", cmd["command"])
		}
		dir, err := ParseDirection(name)
		if err != nil {
			return nil, err
		}
		if dir.IsRotation() != (cmd["command"] == "rotate") {
			return nil, errors.Wrapf(ErrValidation, "direction %q is not valid for %v", name, cmd["command"])
		}
		delta, err := floatArg(cmd, "delta")
		if err != nil {
			return nil, err
		}
		opts, err := moveOptionsFromMap(cmd)
		if err != nil {
			return nil, err
		}
		ctx, done := a.opMgr.New(ctx)
		defer done()
		return poseResult(a.session.Move(ctx, dir, delta, opts))

	case "translate":
		offset, err := vectorArg(cmd, "offset")
		if err != nil {
			return nil, err
		}
		opts, err := moveOptionsFromMap(cmd)
		if err != nil {
			return nil, err
		}
		ctx, done := a.opMgr.New(ctx)
		defer done()
		return poseResult(a.session.Translate(ctx, offset, opts))

	case "get_config":
		return configResult(a.session.Settings()), nil

	case "set_config":
		return setConfig(a.session.Settings(), cmd)

	case "reset":
		emergencyStopped, _ := cmd["emergency_stopped"].(bool)
		if err := a.session.Reset(ctx, emergencyStopped); err != nil {
			return nil, err
		}
		return map[string]interface{}{"success": true}, nil

	case "health":
		status := a.session.ConnectionStatus()
		return map[string]interface{}{"healthy": status == 0, "connection_status": status}, nil

	case "current_pose":
		return poseResult(a.session.CurrentPose())

	case "current_joint_positions":
		joints, err := a.session.CurrentJoints()
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"joint_positions": joints.Slice()}, nil

	case "current_tool_position":
		tool, err := a.session.CurrentToolPosition()
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"tool_position": tool[:]}, nil

	case "open_gripper":
		err := a.session.OpenGripper(ctx)
		return map[string]interface{}{"success": err == nil}, err

	case "close_gripper":
		err := a.session.CloseGripper(ctx)
		return map[string]interface{}{"success": err == nil}, err

	case "partial_gripper":
		amount, err := floatArg(cmd, "amount")
		if err != nil {
			return nil, err
		}
		if amount == nil {
			return nil, errors.Wrap(ErrValidation, "partial_gripper requires 'amount'")
		}
		position, err := gripperPosition(*amount)
		if err != nil {
			return nil, err
		}
		err = a.session.PartialGripper(ctx, position)
		return map[string]interface{}{"success": err == nil}, err

	case "controller_status":
		refCount, hasSession, summary := SharedSessionStatus(a.svcCfg)
		return map[string]interface{}{
			"ref_count":   refCount,
			"has_session": hasSession,
			"summary":     summary,
		}, nil

	default:
		return nil, fmt.Errorf("unknown command: %v", cmd["command"])
	}
}

// gripperPosition converts a requested finger position without truncating it.
func gripperPosition(amount float64) (int, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount != math.Trunc(amount) || amount < 0 || amount > 255 {
		return 0, errors.Wrapf(ErrValidation, "gripper position must be a whole number between 0 and 255, got %v", amount)
	}
	return int(amount), nil
}

func poseResult(pose PoseVector, err error) (map[string]interface{}, error) {
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"pose": pose.Slice()}, nil
}

func configResult(s *Settings) map[string]interface{} {
	return map[string]interface{}{
		"velocity":                    s.Velocity(),
		"acceleration":                s.Acceleration(),
		"wait_for_start_timeout_secs": secondsField(s.WaitForStartTimeout()),
		"completion_timeout_secs":     secondsField(s.CompletionTimeout()),
		"amount_movement":             s.AmountMovement(),
		"amount_rotation":             s.AmountRotation(),
	}
}

// setConfig applies every recognised key and reports the values it replaced.
// Either all keys are applied or none are.
func setConfig(s *Settings, cmd map[string]interface{}) (map[string]interface{}, error) {
	floats := []struct {
		key  string
		secs bool
		set  func(float64) (float64, error)
	}{
		{"velocity", false, s.SetVelocity},
		{"acceleration", false, s.SetAcceleration},
		{"amount_movement", false, s.SetAmountMovement},
		{"amount_rotation", false, s.SetAmountRotation},
		{"wait_for_start_timeout_secs", true, func(v float64) (float64, error) {
			d, err := secondsToDuration(v)
			if err != nil {
				return 0, err
			}
			prev, err := s.SetWaitForStartTimeout(d)
			return prev.Seconds(), err
		}},
		{"completion_timeout_secs", true, func(v float64) (float64, error) {
			d, err := secondsToDuration(v)
			if err != nil {
				return 0, err
			}
			prev, err := s.SetCompletionTimeout(d)
			return prev.Seconds(), err
		}},
	}

	// Parse and check every key before touching the settings so a rejected
	// request leaves them as they were.
	type pending struct {
		key   string
		value float64
		set   func(float64) (float64, error)
	}
	var updates []pending
	for _, f := range floats {
		v, err := floatArg(cmd, f.key)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		if err := checkSetting(f.key, *v, f.secs); err != nil {
			return nil, err
		}
		updates = append(updates, pending{key: f.key, value: *v, set: f.set})
	}
	if len(updates) == 0 {
		return nil, errors.Wrap(ErrValidation, "set_config needs at least one setting")
	}

	previous := map[string]interface{}{}
	for _, u := range updates {
		prev, err := u.set(u.value)
		if err != nil {
			return nil, err
		}
		previous[u.key] = prev
	}
	return map[string]interface{}{"previous": previous}, nil
}

func checkSetting(key string, v float64, secs bool) error {
	if !isFinite(v) || v <= 0 {
		return errors.Wrapf(ErrValidation, "%s must be positive, got %v", key, v)
	}
	if secs {
		d, err := secondsToDuration(v)
		if err != nil {
			return err
		}
		if d <= 0 {
			return errors.Wrapf(ErrValidation, "%s rounds to zero, got %v", key, v)
		}
	}
	return nil
}

// moveOptionsFromMap reads acceleration, velocity, joints and relative from a
// request or an extra map. A nil map yields the defaults.
func moveOptionsFromMap(m map[string]interface{}) (MoveOptions, error) {
	var opts MoveOptions
	if m == nil {
		return opts, nil
	}
	var err error
	if opts.Acceleration, err = floatArg(m, "acceleration"); err != nil {
		return opts, err
	}
	if opts.Velocity, err = floatArg(m, "velocity"); err != nil {
		return opts, err
	}
	if asPose, ok := m["as_pose"].(bool); ok {
		opts.JointTarget = !asPose
	}
	if joints, ok := m["joints"].(bool); ok {
		opts.JointTarget = joints
	}
	if relative, ok := m["relative"].(bool); ok {
		opts.Relative = relative
	}
	return opts, nil
}

func floatArg(m map[string]interface{}, key string) (*float64, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil, nil
	}
	v, ok := toFloat(raw)
	if !ok {
		return nil, errors.Wrapf(ErrValidation, "%s must be a number, got %T", key, raw)
	}
	return &v, nil
}

func vectorArg(m map[string]interface{}, key string) ([]float64, error) {
	raw, ok := m[key]
	if !ok {
		return nil, errors.Wrapf(ErrValidation, "missing %q", key)
	}
	return toVector(key, raw)
}

func posesArg(m map[string]interface{}, key string) ([][]float64, error) {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil, errors.Wrapf(ErrValidation, "%q must be a list of poses", key)
	}
	poses := make([][]float64, len(raw))
	for i, p := range raw {
		v, err := toVector(fmt.Sprintf("%s[%d]", key, i), p)
		if err != nil {
			return nil, err
		}
		poses[i] = v
	}
	return poses, nil
}

func toVector(name string, raw interface{}) ([]float64, error) {
	switch v := raw.(type) {
	case []float64:
		return v, nil
	case []interface{}:
		out := make([]float64, len(v))
		for i, e := range v {
			f, ok := toFloat(e)
			if !ok {
				return nil, errors.Wrapf(ErrValidation, "%s[%d] must be a number, got %T", name, i, e)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, errors.Wrapf(ErrValidation, "%s must be a list of numbers, got %T", name, raw)
	}
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
