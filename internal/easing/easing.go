// Package easing provides a fixed-point linear interpolator for LED
// magnitudes.
package easing

import "libdb.so/glowseq/internal/step"

// Shift is the number of fractional bits in the accumulator.
const Shift = 15

// Easing moves one channel from a start magnitude toward an end magnitude by
// a constant increment per tick.
//
// Because the increment is truncated, the final Step may land slightly short
// of the end magnitude. Callers snap to the exact target after the last tick.
type Easing struct {
	inc int64
	acc int64
}

// Init prepares an interpolation from start to end over ticks steps. A tick
// count of 0 is treated as 1.
func (e *Easing) Init(start, end step.Magnitude, ticks uint16) {
	if ticks == 0 {
		ticks = 1
	}
	e.acc = int64(start) << Shift
	e.inc = ((int64(end) << Shift) - e.acc) / int64(ticks)
}

// Step advances the interpolation by one tick and returns the new magnitude.
func (e *Easing) Step() step.Magnitude {
	e.acc += e.inc
	return step.Magnitude(e.acc >> Shift)
}
