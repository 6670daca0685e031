package ur_arm

import (
	"strings"

	"github.com/pkg/errors"
)

// Direction names a nudge of the tool along or about one base axis.
type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
	Forward
	Backward
	Roll
	Pitch
	Yaw
)

type axisStep struct {
	name     string
	axis     int
	sign     float64
	rotation bool
}

// Pose indices: x, y, z, rx, ry, rz.
var directionTable = map[Direction]axisStep{
	Up:       {name: "up", axis: 2, sign: 1},
	Down:     {name: "down", axis: 2, sign: -1},
	Right:    {name: "right", axis: 0, sign: 1},
	Left:     {name: "left", axis: 0, sign: -1},
	Forward:  {name: "forward", axis: 1, sign: 1},
	Backward: {name: "backward", axis: 1, sign: -1},
	Roll:     {name: "roll", axis: 3, sign: 1, rotation: true},
	Pitch:    {name: "pitch", axis: 4, sign: 1, rotation: true},
	Yaw:      {name: "yaw", axis: 5, sign: 1, rotation: true},
}

func (d Direction) String() string {
	if step, ok := directionTable[d]; ok {
		return step.name
	}
	return "unknown"
}

// IsRotation reports whether d turns the tool rather than moving it.
func (d Direction) IsRotation() bool {
	return directionTable[d].rotation
}

// ParseDirection maps a name such as "up" or "yaw" to its Direction.
func ParseDirection(name string) (Direction, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for d, step := range directionTable {
		if step.name == name {
			return d, nil
		}
	}
	return 0, errors.Wrapf(ErrValidation, "unknown direction %q", name)
}

// apply returns pose shifted by delta along d's axis.
func (d Direction) apply(pose PoseVector, delta float64) (PoseVector, error) {
	step, ok := directionTable[d]
	if !ok {
		return pose, errors.Wrapf(ErrValidation, "unknown direction %d", int(d))
	}
	pose[step.axis] += step.sign * delta
	return pose, nil
}
