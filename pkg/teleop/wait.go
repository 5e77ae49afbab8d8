package teleop

import (
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
)

// WaitPolicy says how long a blocking wait may last: either a bounded
// duration or forever. The zero value waits forever.
type WaitPolicy struct {
	timeout time.Duration
	bounded bool
}

// BoundedWait returns a policy that gives up after d.
func BoundedWait(d time.Duration) WaitPolicy {
	return WaitPolicy{timeout: d, bounded: true}
}

// WaitForever returns a policy that never times out.
func WaitForever() WaitPolicy {
	return WaitPolicy{}
}

// RatePolicy converts a repeat rate in Hz. A rate of zero waits forever,
// so the publish loop only emits on change.
func RatePolicy(hz float64) (WaitPolicy, error) {
	if hz < 0 || math.IsNaN(hz) || math.IsInf(hz, 0) {
		return WaitPolicy{}, fmt.Errorf("invalid repeat rate %g", hz)
	}
	if hz == 0 {
		return WaitForever(), nil
	}
	return BoundedWait(time.Duration(float64(time.Second) / hz)), nil
}

// TimeoutPolicy converts a key timeout in seconds. Zero waits forever.
func TimeoutPolicy(seconds float64) (WaitPolicy, error) {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return WaitPolicy{}, fmt.Errorf("invalid key timeout %g", seconds)
	}
	if seconds == 0 {
		return WaitForever(), nil
	}
	return BoundedWait(time.Duration(seconds * float64(time.Second))), nil
}

// Bounded returns the timeout and true for a bounded policy.
func (w WaitPolicy) Bounded() (time.Duration, bool) {
	return w.timeout, w.bounded
}

func (w WaitPolicy) String() string {
	d, ok := w.Bounded()
	if !ok {
		return "forever"
	}
	return d.String()
}

// Timer returns a channel that fires when the wait elapses, and a stop
// function. The channel is nil, and never fires, for WaitForever.
func (w WaitPolicy) Timer(c clock.Clock) (<-chan time.Time, func()) {
	d, ok := w.Bounded()
	if !ok {
		return nil, func() {}
	}
	t := c.Timer(d)
	return t.C, func() { t.Stop() }
}
