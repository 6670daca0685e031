package ur_arm

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock only moves when the waiter sleeps.
type fakeClock struct {
	t      time.Time
	sleeps []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
}

func sequenceProbe(values ...bool) (RunningProbe, *int) {
	calls := 0
	return func() (bool, error) {
		v := values[len(values)-1]
		if calls < len(values) {
			v = values[calls]
		}
		calls++
		return v, nil
	}, &calls
}

func TestWaiterCompletes(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	w := newCompletionWaiter(clock.now, clock.sleep)
	probe, calls := sequenceProbe(false, false, true, true, false)

	err := w.Wait(probe, TimeoutPolicy{WaitForStart: 2 * time.Second, Completion: 60 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, WaitCompleted, w.State())
	assert.Equal(t, []WaitState{WaitIdle, WaitingForStart, WaitingForCompletion, WaitCompleted}, w.Transitions())
	assert.Equal(t, 5, *calls)
	assert.Equal(t, []time.Duration{
		defaultStartPoll, defaultStartPoll, defaultCompletionPoll,
	}, clock.sleeps)
}

func TestWaiterStartTimeout(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	w := newCompletionWaiter(clock.now, clock.sleep)
	probe, calls := sequenceProbe(false)

	err := w.Wait(probe, TimeoutPolicy{WaitForStart: 200 * time.Millisecond, Completion: time.Second})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))

	assert.Equal(t, WaitTimedOut, w.State())
	assert.Equal(t, []WaitState{WaitIdle, WaitingForStart, WaitTimedOut}, w.Transitions())
	assert.Equal(t, 3, *calls)
}

func TestWaiterCompletionTimeout(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	w := newCompletionWaiter(clock.now, clock.sleep)
	probe, _ := sequenceProbe(true)

	err := w.Wait(probe, TimeoutPolicy{WaitForStart: time.Second, Completion: 50 * time.Millisecond})
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Contains(t, err.Error(), "still running")
	assert.Equal(t, []WaitState{WaitIdle, WaitingForStart, WaitingForCompletion, WaitTimedOut}, w.Transitions())

	for _, d := range clock.sleeps {
		assert.Equal(t, defaultCompletionPoll, d)
	}
}

func TestWaiterProbeFailure(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	w := newCompletionWaiter(clock.now, clock.sleep)

	err := w.Wait(func() (bool, error) {
		return false, errors.New("stream closed")
	}, TimeoutPolicy{WaitForStart: time.Second, Completion: time.Second})
	assert.True(t, errors.Is(err, ErrLink))
	assert.Equal(t, WaitFailed, w.State())
	assert.Equal(t, []WaitState{WaitIdle, WaitingForStart, WaitFailed}, w.Transitions())
	assert.Error(t, w.Wait(func() (bool, error) { return false, nil }, TimeoutPolicy{}))
}

func TestWaiterQueryFailureWhileRunning(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	w := newCompletionWaiter(clock.now, clock.sleep)

	calls := 0
	err := w.Wait(func() (bool, error) {
		calls++
		if calls == 1 {
			return true, nil
		}
		return false, errors.New("stream closed")
	}, TimeoutPolicy{WaitForStart: time.Second, Completion: time.Second})
	assert.True(t, errors.Is(err, ErrLink))
	assert.Equal(t, []WaitState{WaitIdle, WaitingForStart, WaitingForCompletion, WaitFailed}, w.Transitions())
}

func TestWaiterSingleUse(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	w := newCompletionWaiter(clock.now, clock.sleep)
	probe, _ := sequenceProbe(true, false)

	policy := TimeoutPolicy{WaitForStart: time.Second, Completion: time.Second}
	require.NoError(t, w.Wait(probe, policy))
	assert.Error(t, w.Wait(probe, policy))
}

func TestWaitStateString(t *testing.T) {
	assert.Equal(t, "waiting_for_start", WaitingForStart.String())
	assert.Equal(t, "timed_out", WaitTimedOut.String())
	assert.Equal(t, "failed", WaitFailed.String())
	assert.Equal(t, "wait_state(9)", WaitState(9).String())
}
