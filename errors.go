package ur_arm

import (
	"github.com/pkg/errors"
)

// Error kinds surfaced by the controller layer. Callers classify with errors.Is.
var (
	// ErrValidation marks malformed or out-of-range input. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrInvalidVectorLength is the encoder's cardinality check. It is also an ErrValidation.
	ErrInvalidVectorLength = errors.Wrap(ErrValidation, "invalid vector length")

	// ErrConnection means the controller could not be reached at connect time.
	ErrConnection = errors.New("controller connection error")

	// ErrLink is a mid-session send or receive failure.
	ErrLink = errors.New("controller link error")

	// ErrTimeout means the completion waiter exceeded one of its bounds. The controller
	// may still be executing the program.
	ErrTimeout = errors.New("motion timed out")
)

func checkLength(what string, v []float64, want int) error {
	if len(v) != want {
		return errors.Wrapf(ErrInvalidVectorLength, "%s expects %d values, got %d", what, want, len(v))
	}
	return nil
}
