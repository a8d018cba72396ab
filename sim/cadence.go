package sim

import "time"

// IntervalTicks quantizes a simulated duration onto the tick grid: ceil(d / tick),
// never less than one tick.
func IntervalTicks(d, tick time.Duration) int64 {
	if tick <= 0 || d <= tick {
		return 1
	}
	n := int64(d / tick)
	if d%tick != 0 {
		n++
	}
	return n
}

// Cadence decides on which ticks a periodic activity runs.
//
// A fresh Cadence has never ticked. On its first Step it fires only when FirstTick
// is set; afterwards it fires once SinceLast has reached Interval. Firing resets
// SinceLast to one, so an interval of N ticks fires every N ticks.
type Cadence struct {
	Interval  int64 `json:"interval_ticks"`
	SinceLast int64 `json:"ticks_since_last"`
	FirstTick bool  `json:"first_tick"`
}

// NewCadence builds a cadence for a simulated period on a tick grid.
func NewCadence(period, tick time.Duration, firstTick bool) Cadence {
	return Cadence{Interval: IntervalTicks(period, tick), FirstTick: firstTick}
}

// Step advances the cadence by one tick and reports whether the activity is due.
func (c *Cadence) Step() bool {
	neverTicked := c.SinceLast == 0
	if (neverTicked && c.FirstTick) || (!neverTicked && c.SinceLast >= c.Interval) {
		c.SinceLast = 1
		return true
	}
	c.SinceLast++
	return false
}

// Ticked reports whether Step has been called at least once.
func (c *Cadence) Ticked() bool {
	return c.SinceLast > 0
}
