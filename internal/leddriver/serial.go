// Package leddriver provides the LED outputs driven by the playback machine.
package leddriver

import (
	"io"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"libdb.so/glowseq/internal/step"
	"libdb.so/glowseq/ledserial"
)

// Serial drives a controller speaking the ledserial protocol.
type Serial struct {
	mu      sync.Mutex
	w       io.Writer
	logger  *slog.Logger
	frame   []uint16
	cleared bool

	// OnError, if set, is called with every failed write.
	OnError func(error)
}

// NewSerial creates a serial driver for channels channels writing to w.
func NewSerial(w io.Writer, channels int, logger *slog.Logger) *Serial {
	return &Serial{
		w:      w,
		logger: logger,
		frame:  make([]uint16, channels),
	}
}

// Initialize tells the controller how many channels to drive.
func (s *Serial) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := ledserial.InitializePacket{NumChannels: uint16(len(s.frame))}
	if err := ledserial.WriteIncomingPacket(s.w, p); err != nil {
		return errors.Wrap(err, "failed to initialize controller")
	}
	return nil
}

// Clear zeroes every channel. The next Write turns the LEDs off.
func (s *Serial) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.frame {
		s.frame[i] = 0
	}
	s.cleared = true
}

// SetMagnitudes sets the channel magnitudes sent by the next Write.
func (s *Serial) SetMagnitudes(m []step.Magnitude) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy(s.frame, m)
	s.cleared = false
}

// Write sends the current frame to the controller. Failures are logged and
// reported to OnError; the frame is dropped.
func (s *Serial) Write() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p ledserial.IncomingPacket = ledserial.SetPacket{Magnitudes: s.frame}
	if s.cleared {
		p = ledserial.ClearPacket{}
	}

	if err := ledserial.WriteIncomingPacket(s.w, p); err != nil {
		s.logger.Warn(
			"failed to write packet",
			"packet", p.Type(),
			"error", err)
		if s.OnError != nil {
			s.OnError(err)
		}
	}
}
