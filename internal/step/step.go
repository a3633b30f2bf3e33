// Package step defines the immutable unit of LED playback.
package step

import "fmt"

// Magnitude is the brightness of a single LED channel.
type Magnitude = uint16

// MaxChannels is the number of channel slots carried by every Step. A
// playback machine drives the first N of them, where N is fixed when the
// machine is constructed.
const MaxChannels = 12

// NoGroup is the group ID reported when no group is active.
const NoGroup uint8 = 0xff

// Flags is a bitset describing how a step relates to its group.
type Flags uint8

const (
	// Preemptable marks the group as interruptible by a newer group.
	Preemptable Flags = 0x40
	// LastInGroup terminates a group.
	LastInGroup Flags = 0x80
)

// Has returns true if all bits in f2 are set in f.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

func (f Flags) String() string {
	switch {
	case f.Has(LastInGroup | Preemptable):
		return "last|preemptable"
	case f.Has(LastInGroup):
		return "last"
	case f.Has(Preemptable):
		return "preemptable"
	default:
		return fmt.Sprintf("Flags(%#02x)", uint8(f))
	}
}

// Step is one phase of playback: fade from the current magnitudes to Targets
// over FadeTicks, then hold for HoldTicks.
//
// Repetitions and GroupID are only read from the first step of a group.
type Step struct {
	Flags       Flags
	Repetitions uint16
	Targets     [MaxChannels]Magnitude
	FadeTicks   uint16
	HoldTicks   uint16
	GroupID     uint8
}

// New creates a Step. Targets beyond MaxChannels are ignored.
func New(flags Flags, reps, fadeTicks, holdTicks uint16, targets ...Magnitude) Step {
	s := Step{
		Flags:       flags,
		Repetitions: reps,
		FadeTicks:   fadeTicks,
		HoldTicks:   holdTicks,
		GroupID:     NoGroup,
	}
	copy(s.Targets[:], targets)
	return s
}

// IsLast returns true if the step terminates its group.
func (s *Step) IsLast() bool { return s.Flags.Has(LastInGroup) }

// IsPreemptable returns true if the step's group may be interrupted.
func (s *Step) IsPreemptable() bool { return s.Flags.Has(Preemptable) }
