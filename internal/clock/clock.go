// Package clock implements the per-side countdown pair owned by a session.
package clock

import (
	"time"

	"github.com/park285/chess-arena/pkg/arenadto"
)

// LowTimeThreshold is the remaining time under which every tick broadcasts
// a timer update instead of only whole-second crossings.
const LowTimeThreshold = 10 * time.Second

// Tick reports what happened during one elapse step.
type Tick struct {
	// ShouldBroadcast is set when a whole-second boundary was crossed or
	// the running side is under the low-time threshold.
	ShouldBroadcast bool
	// TimedOut is set exactly once, on the elapse that reached zero.
	TimedOut bool
}

// Clock is a two-sided countdown with increment-on-move semantics. It is not
// safe for concurrent use; the owning session serializes access.
type Clock struct {
	remaining map[arenadto.Color]time.Duration
	increment time.Duration
	timedOut  bool
}

// New creates a clock with both sides at initial.
func New(initial, increment time.Duration) *Clock {
	return &Clock{
		remaining: map[arenadto.Color]time.Duration{
			arenadto.White: initial,
			arenadto.Black: initial,
		},
		increment: increment,
	}
}

// Elapse burns d off side's countdown, clamping at zero. The timeout signal
// latches: once a side has flagged, later calls never flag again.
func (c *Clock) Elapse(side arenadto.Color, d time.Duration) Tick {
	if d <= 0 || c.timedOut {
		return Tick{}
	}
	before := c.remaining[side]
	if before <= 0 {
		return Tick{}
	}
	after := before - d
	if after < 0 {
		after = 0
	}
	c.remaining[side] = after

	var t Tick
	if after == 0 {
		c.timedOut = true
		t.TimedOut = true
		t.ShouldBroadcast = true
		return t
	}
	if before/time.Second != after/time.Second || after < LowTimeThreshold {
		t.ShouldBroadcast = true
	}
	return t
}

// ApplyIncrement credits the per-move bonus to the side that just moved.
func (c *Clock) ApplyIncrement(side arenadto.Color) {
	if c.timedOut {
		return
	}
	c.remaining[side] += c.increment
}

// Remaining returns the countdown for one side.
func (c *Clock) Remaining(side arenadto.Color) time.Duration {
	return c.remaining[side]
}

// Snapshot returns both countdowns in milliseconds for broadcasting.
func (c *Clock) Snapshot() arenadto.Clocks {
	return arenadto.Clocks{
		White: c.remaining[arenadto.White].Milliseconds(),
		Black: c.remaining[arenadto.Black].Milliseconds(),
	}
}

// TimedOut reports whether a side has already flagged.
func (c *Clock) TimedOut() bool { return c.timedOut }
