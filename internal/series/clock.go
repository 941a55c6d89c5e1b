// Package series holds the dashboard's synthetic clock and the point buffers
// that feed its time-series charts.
package series

import "math"

// DefaultStep is the tick increment applied for every inbound update.
const DefaultStep = 0.5

// Tick is a synthetic timestamp, independent of wall-clock time.
type Tick float64

// Round returns t rounded to one decimal digit.
func (t Tick) Round() Tick {
	return Tick(math.Round(float64(t)*10) / 10)
}

// Clock advances a monotonic tick counter by a fixed step.
type Clock struct {
	now  Tick
	step float64
}

// NewClock creates a clock starting at zero. A non-positive step falls back
// to DefaultStep.
func NewClock(step float64) *Clock {
	if step <= 0 {
		step = DefaultStep
	}
	return &Clock{step: step}
}

// Advance moves the clock forward one step and returns the new tick. The
// result is rounded to one decimal so repeated additions don't drift.
func (c *Clock) Advance() Tick {
	c.now = (c.now + Tick(c.step)).Round()
	return c.now
}

// Now returns the current tick without advancing.
func (c *Clock) Now() Tick {
	return c.now
}
