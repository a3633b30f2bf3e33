package glowseq

import (
	"sync"

	"libdb.so/glowseq/internal/playback"
	"libdb.so/glowseq/internal/step"
)

// Magnitudes describes one frame of LED channels. It is a preallocated slice
// of step.Magnitude.
type Magnitudes []step.Magnitude

// NewMagnitudes creates a new frame of numChannels channels, all off.
func NewMagnitudes(numChannels int) Magnitudes {
	return make(Magnitudes, numChannels)
}

// Clear turns every channel off.
func (m Magnitudes) Clear() {
	for i := range m {
		m[i] = 0
	}
}

// Draw copies other into the frame at the given index. It stops when either
// m or other is exhausted and returns the number of channels written.
func (m Magnitudes) Draw(start int, other []step.Magnitude) int {
	if start >= len(m) {
		return 0
	}
	return copy(m[start:], other)
}

// Clone returns a copy of the frame.
func (m Magnitudes) Clone() Magnitudes {
	return append(Magnitudes(nil), m...)
}

// frameTap forwards to a driver and remembers the last written frame so it
// can be read outside the tick goroutine.
type frameTap struct {
	playback.Driver
	pending Magnitudes // tick goroutine only

	mu    sync.Mutex
	shown Magnitudes
}

func newFrameTap(drv playback.Driver, channels int) *frameTap {
	return &frameTap{
		Driver:  drv,
		pending: NewMagnitudes(channels),
		shown:   NewMagnitudes(channels),
	}
}

func (t *frameTap) Clear() {
	t.pending.Clear()
	t.Driver.Clear()
}

func (t *frameTap) SetMagnitudes(m []step.Magnitude) {
	t.pending.Draw(0, m)
	t.Driver.SetMagnitudes(m)
}

func (t *frameTap) Write() {
	t.Driver.Write()

	t.mu.Lock()
	copy(t.shown, t.pending)
	t.mu.Unlock()
}

func (t *frameTap) frame() Magnitudes {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shown.Clone()
}
