package ur_arm

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultStartPoll      = 100 * time.Millisecond
	defaultCompletionPoll = 10 * time.Millisecond
)

// WaitState is a phase of the completion waiter.
type WaitState int

const (
	WaitIdle WaitState = iota
	WaitingForStart
	WaitingForCompletion
	WaitCompleted
	WaitTimedOut
	// WaitFailed means the running-state query failed; the program's fate is unknown.
	WaitFailed
)

func (s WaitState) String() string {
	switch s {
	case WaitIdle:
		return "idle"
	case WaitingForStart:
		return "waiting_for_start"
	case WaitingForCompletion:
		return "waiting_for_completion"
	case WaitCompleted:
		return "completed"
	case WaitTimedOut:
		return "timed_out"
	case WaitFailed:
		return "failed"
	default:
		return fmt.Sprintf("wait_state(%d)", int(s))
	}
}

// RunningProbe reports whether the controller is executing a program.
type RunningProbe func() (bool, error)

// CompletionWaiter blocks until a submitted program has started and then
// finished, bounded by a TimeoutPolicy. A waiter is single use.
type CompletionWaiter struct {
	startPoll      time.Duration
	completionPoll time.Duration

	now   func() time.Time
	sleep func(time.Duration)

	state       WaitState
	transitions []WaitState
}

// NewCompletionWaiter returns a waiter on the wall clock.
func NewCompletionWaiter() *CompletionWaiter {
	return newCompletionWaiter(time.Now, time.Sleep)
}

func newCompletionWaiter(now func() time.Time, sleep func(time.Duration)) *CompletionWaiter {
	return &CompletionWaiter{
		startPoll:      defaultStartPoll,
		completionPoll: defaultCompletionPoll,
		now:            now,
		sleep:          sleep,
		state:          WaitIdle,
		transitions:    []WaitState{WaitIdle},
	}
}

// State is the waiter's current phase.
func (w *CompletionWaiter) State() WaitState {
	return w.state
}

// Transitions lists every phase the waiter has entered, starting with WaitIdle.
func (w *CompletionWaiter) Transitions() []WaitState {
	return append([]WaitState(nil), w.transitions...)
}

func (w *CompletionWaiter) enter(s WaitState) {
	w.state = s
	w.transitions = append(w.transitions, s)
}

// Wait runs both phases against probe. It is only interrupted by its own
// timeouts or a probe failure; either leaves the waiter in a terminal state.
func (w *CompletionWaiter) Wait(probe RunningProbe, policy TimeoutPolicy) error {
	if w.state != WaitIdle {
		return errors.Errorf("completion waiter already used (state %s)", w.state)
	}

	w.enter(WaitingForStart)
	start := w.now()
	for {
		running, err := probe()
		if err != nil {
			w.enter(WaitFailed)
			return probeError(err, "waiting for program start")
		}
		if running {
			break
		}
		if w.now().Sub(start) >= policy.WaitForStart {
			w.enter(WaitTimedOut)
			return errors.Wrapf(ErrTimeout, "program did not start within %v", policy.WaitForStart)
		}
		w.sleep(w.startPoll)
	}

	w.enter(WaitingForCompletion)
	completionStart := w.now()
	for {
		running, err := probe()
		if err != nil {
			w.enter(WaitFailed)
			return probeError(err, "waiting for program completion")
		}
		if !running {
			w.enter(WaitCompleted)
			return nil
		}
		if w.now().Sub(completionStart) >= policy.Completion {
			w.enter(WaitTimedOut)
			return errors.Wrapf(ErrTimeout, "program still running after %v", policy.Completion)
		}
		w.sleep(w.completionPoll)
	}
}

func probeError(err error, phase string) error {
	if errors.Is(err, ErrLink) {
		return errors.Wrap(err, phase)
	}
	return errors.Wrapf(ErrLink, "%s: %v", phase, err)
}
