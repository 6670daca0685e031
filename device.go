package ur_arm

// PoseVector is x, y, z in meters followed by a rotation vector rx, ry, rz in radians.
type PoseVector [6]float64

// JointVector holds the six joint angles in radians, base first.
type JointVector [6]float64

// Slice returns a copy of p as a slice.
func (p PoseVector) Slice() []float64 { return append([]float64(nil), p[:]...) }

// Slice returns a copy of j as a slice.
func (j JointVector) Slice() []float64 { return append([]float64(nil), j[:]...) }

// Device is the read side of the controller plus its lifetime.
type Device interface {
	IsProgramRunning() (bool, error)
	CurrentPose() (PoseVector, error)
	CurrentJoints() (JointVector, error)
	CurrentToolPosition() ([3]float64, error)
	Close() error
}

// GripperDriver actuates a gripper directly instead of through a controller program.
// Positions run 0 (open) to 255 (closed).
type GripperDriver interface {
	Move(position, speed, force int) error
	Position() (int, error)
	Close() error
}
