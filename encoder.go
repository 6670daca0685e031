package ur_arm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	poseArity      = 6
	translateArity = 3

	// poseMarker prefixes a vector literal the controller should read as a pose.
	poseMarker = "p"

	gripperSocket     = "gripper_socket"
	gripperSocketPort = 63352
)

// Command is one controller request. Values are immutable once built and are
// rendered to a single newline-terminated script by Encode.
type Command interface {
	script() (string, error)
}

// JointMove is movej: a move interpolated in joint space.
type JointMove struct {
	Target       []float64
	Acceleration float64
	Velocity     float64
	AsPose       bool
	Relative     bool
}

// LinearMove is movel: a straight-line tool move.
type LinearMove struct {
	Target       []float64
	Acceleration float64
	Velocity     float64
	AsPose       bool
	Relative     bool
}

// LinearSequence runs several linear moves as one controller program.
type LinearSequence struct {
	Poses        [][]float64
	Acceleration float64
	Velocity     float64
}

// Translation offsets the current tool pose by a base-frame vector.
type Translation struct {
	Offset       []float64
	Acceleration float64
	Velocity     float64
}

// StopMotion decelerates the joints to a standstill.
type StopMotion struct {
	Acceleration float64
}

// GripperAction drives a Robotiq gripper through the URCap socket on the controller.
// Position, Speed and Force are 0-255. Hold keeps the program alive so the
// completion waiter can observe it.
type GripperAction struct {
	Position int
	Speed    int
	Force    int
	Hold     float64
}

// Encode renders cmd as controller script bytes.
func Encode(cmd Command) ([]byte, error) {
	s, err := cmd.script()
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func (c JointMove) script() (string, error) {
	return moveScript("movej", c.Target, c.Acceleration, c.Velocity, c.AsPose, c.Relative)
}

func (c LinearMove) script() (string, error) {
	return moveScript("movel", c.Target, c.Acceleration, c.Velocity, c.AsPose, c.Relative)
}

func moveScript(verb string, target []float64, acc, vel float64, asPose, relative bool) (string, error) {
	if err := checkLength(verb, target, poseArity); err != nil {
		return "", err
	}
	vec, err := formatVector(target)
	if err != nil {
		return "", err
	}
	if err := checkParams(acc, vel); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(verb)
	b.WriteString("(")
	if asPose {
		b.WriteString(poseMarker)
	}
	fmt.Fprintf(&b, "%s, %s, %s", vec, formatScalar(acc), formatScalar(vel))
	if relative {
		b.WriteString(", relative=True")
	}
	b.WriteString(")\n")
	return b.String(), nil
}

func (c LinearSequence) script() (string, error) {
	if len(c.Poses) == 0 {
		return "", errors.Wrap(ErrValidation, "movels needs at least one pose")
	}
	if err := checkParams(c.Acceleration, c.Velocity); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("def move_sequence():\n")
	for i, pose := range c.Poses {
		if err := checkLength(fmt.Sprintf("movels pose %d", i), pose, poseArity); err != nil {
			return "", err
		}
		vec, err := formatVector(pose)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "  movel(%s%s, %s, %s)\n", poseMarker, vec, formatScalar(c.Acceleration), formatScalar(c.Velocity))
	}
	b.WriteString("end\n")
	return b.String(), nil
}

func (c Translation) script() (string, error) {
	if err := checkLength("translate", c.Offset, translateArity); err != nil {
		return "", err
	}
	offset := []float64{c.Offset[0], c.Offset[1], c.Offset[2], 0, 0, 0}
	vec, err := formatVector(offset)
	if err != nil {
		return "", err
	}
	if err := checkParams(c.Acceleration, c.Velocity); err != nil {
		return "", err
	}
	return fmt.Sprintf("movel(pose_add(get_actual_tcp_pose(), %s%s), %s, %s)\n",
		poseMarker, vec, formatScalar(c.Acceleration), formatScalar(c.Velocity)), nil
}

func (c StopMotion) script() (string, error) {
	if !isFinite(c.Acceleration) || c.Acceleration <= 0 {
		return "", errors.Wrapf(ErrValidation, "stop deceleration must be positive, got %v", c.Acceleration)
	}
	return fmt.Sprintf("stopj(%s)\n", formatScalar(c.Acceleration)), nil
}

func (c GripperAction) script() (string, error) {
	for _, f := range []struct {
		name  string
		value int
	}{{"position", c.Position}, {"speed", c.Speed}, {"force", c.Force}} {
		if f.value < 0 || f.value > 255 {
			return "", errors.Wrapf(ErrValidation, "gripper %s must be between 0 and 255, got %d", f.name, f.value)
		}
	}
	if !isFinite(c.Hold) || c.Hold < 0 {
		return "", errors.Wrapf(ErrValidation, "gripper hold must be non-negative, got %v", c.Hold)
	}

	var b strings.Builder
	b.WriteString("def gripper_action():\n")
	fmt.Fprintf(&b, "  socket_close(\"%s\")\n", gripperSocket)
	fmt.Fprintf(&b, "  socket_open(\"127.0.0.1\", %d, \"%s\")\n", gripperSocketPort, gripperSocket)
	for _, kv := range []struct {
		name  string
		value int
	}{
		{"ACT", 1},
		{"SPE", c.Speed},
		{"FOR", c.Force},
		{"POS", c.Position},
		{"GTO", 1},
	} {
		fmt.Fprintf(&b, "  socket_set_var(\"%s\", %d, \"%s\")\n", kv.name, kv.value, gripperSocket)
		b.WriteString("  sync()\n")
	}
	fmt.Fprintf(&b, "  sleep(%s)\n", formatScalar(c.Hold))
	fmt.Fprintf(&b, "  socket_close(\"%s\")\n", gripperSocket)
	b.WriteString("end\n")
	return b.String(), nil
}

func checkParams(acc, vel float64) error {
	if !isFinite(acc) || !isFinite(vel) {
		return errors.Wrapf(ErrValidation, "acceleration and velocity must be finite, got %v and %v", acc, vel)
	}
	return nil
}

func formatVector(v []float64) (string, error) {
	parts := make([]string, len(v))
	for i, f := range v {
		if !isFinite(f) {
			return "", errors.Wrapf(ErrValidation, "vector element %d is not finite", i)
		}
		parts[i] = formatComponent(f)
	}
	return "[" + strings.Join(parts, ", ") + "]", nil
}

// formatComponent renders the shortest decimal that round-trips: 0, 0.1, -1.5.
func formatComponent(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// formatScalar always keeps a fractional part so the controller reads a float: 1.0, 0.5.
func formatScalar(f float64) string {
	s := formatComponent(f)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
