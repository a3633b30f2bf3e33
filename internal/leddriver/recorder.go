package leddriver

import (
	"log/slog"
	"sync"

	"libdb.so/glowseq/internal/step"
)

// Frame is one write seen by a Recorder.
type Frame struct {
	Magnitudes []step.Magnitude
	Cleared    bool
}

// Recorder is a driver that keeps every written frame in memory. It stands
// in for hardware in dry runs and tests.
type Recorder struct {
	mu      sync.Mutex
	logger  *slog.Logger
	cur     []step.Magnitude
	cleared bool
	frames  []Frame
	limit   int
}

// NewRecorder creates a recorder for channels channels. Frames are logged at
// debug level if logger is not nil. At most limit frames are kept, oldest
// dropped first; 0 keeps everything.
func NewRecorder(channels, limit int, logger *slog.Logger) *Recorder {
	return &Recorder{
		logger: logger,
		cur:    make([]step.Magnitude, channels),
		limit:  limit,
	}
}

func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.cur {
		r.cur[i] = 0
	}
	r.cleared = true
}

func (r *Recorder) SetMagnitudes(m []step.Magnitude) {
	r.mu.Lock()
	defer r.mu.Unlock()

	copy(r.cur, m)
	r.cleared = false
}

func (r *Recorder) Write() {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := Frame{
		Magnitudes: append([]step.Magnitude(nil), r.cur...),
		Cleared:    r.cleared,
	}
	if r.limit > 0 && len(r.frames) >= r.limit {
		r.frames = append(r.frames[:0], r.frames[1:]...)
	}
	r.frames = append(r.frames, f)

	if r.logger != nil {
		r.logger.Debug("frame", "magnitudes", f.Magnitudes, "cleared", f.Cleared)
	}
}

// Frames returns the recorded frames.
func (r *Recorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...)
}

// Last returns the most recent frame.
func (r *Recorder) Last() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.frames) == 0 {
		return Frame{}, false
	}
	return r.frames[len(r.frames)-1], true
}
