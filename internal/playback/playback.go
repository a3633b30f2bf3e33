// Package playback implements the fixed-tick LED playback state machine.
//
// A Machine consumes one group of steps at a time from a groupqueue.Queue,
// fades between steps with one Easing per channel, replays the group as many
// times as its first step asks for, and pushes every visible change to a
// Driver. It is driven by calling Tick once per period.
package playback

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"libdb.so/glowseq/internal/easing"
	"libdb.so/glowseq/internal/groupqueue"
	"libdb.so/glowseq/internal/step"
)

// Driver is the LED output the machine drives.
type Driver interface {
	// Clear sets every channel to zero.
	Clear()
	// SetMagnitudes sets the channel magnitudes. The driver must copy the
	// slice; the machine reuses it.
	SetMagnitudes(m []step.Magnitude)
	// Write makes the current magnitudes visible. It must not block.
	Write()
}

// PowerSwitch controls the enable line of the LED driver hardware.
type PowerSwitch interface {
	SetPower(on bool)
}

// Hooks are optional callbacks invoked from Tick.
type Hooks struct {
	// GroupStarted is called when a group is drained from the queue.
	GroupStarted func(groupID uint8, steps int, repetitions uint16)
	// GroupFinished is called when a group has played all repetitions.
	GroupFinished func(groupID uint8)
	// GroupDismissed is called when an active group is aborted.
	GroupDismissed func(groupID uint8)
}

// Machine is the playback state machine. Tick and Reset must be called from
// a single goroutine. RequestDismiss and the IsActive, ActiveGroupID and
// IsPreemptable accessors may be called from anywhere.
type Machine struct {
	queue    *groupqueue.Queue[step.Step]
	drv      Driver
	power    PowerSwitch
	logger   *slog.Logger
	hooks    Hooks
	channels int

	state       State
	countdown   uint16
	fadeTicks   uint16
	holdTicks   uint16
	repetitions uint16
	numInGroup  int
	index       int // position of slot within the group
	slot        int // queue slot of the active step
	groupID     uint8
	powered     bool

	live    [step.MaxChannels]step.Magnitude
	easings [step.MaxChannels]easing.Easing

	dismiss atomic.Bool

	// Published for readers outside the tick goroutine.
	pubActive      atomic.Bool
	pubPreemptable atomic.Bool
	pubGroupID     atomic.Uint32
}

// New creates a machine driving the first channels channels of every step.
// The machine starts Idle. Neither the queue nor the driver is touched.
func New(q *groupqueue.Queue[step.Step], drv Driver, channels int) *Machine {
	if channels < 1 || channels > step.MaxChannels {
		panic(fmt.Sprintf("playback: invalid channel count %d", channels))
	}

	m := &Machine{
		queue:    q,
		drv:      drv,
		logger:   slog.New(slog.DiscardHandler),
		channels: channels,
		groupID:  step.NoGroup,
	}
	m.pubGroupID.Store(uint32(step.NoGroup))
	return m
}

// SetPowerSwitch sets the switch toggled around playback. It must be called
// before the first Tick.
func (m *Machine) SetPowerSwitch(p PowerSwitch) { m.power = p }

// SetLogger sets the logger used for state transitions.
func (m *Machine) SetLogger(l *slog.Logger) { m.logger = l }

// SetHooks sets the callbacks invoked from Tick.
func (m *Machine) SetHooks(h Hooks) { m.hooks = h }

// Reset returns to Idle, empties the queue and turns the LEDs off. It is
// meant for recovering from a hard fault.
func (m *Machine) Reset() {
	m.toIdle()
	m.queue.Reset()
	m.turnOff()
	m.setPower(false)
	m.dismiss.Store(false)
}

// RequestDismiss asks the machine to abort the active group on the next
// Tick. It does not touch the queue or the LEDs itself.
func (m *Machine) RequestDismiss() { m.dismiss.Store(true) }

// State returns the current state. It must only be called from the tick
// goroutine.
func (m *Machine) State() State { return m.state }

// Magnitudes returns a copy of the live channel magnitudes. It must only be
// called from the tick goroutine.
func (m *Machine) Magnitudes() []step.Magnitude {
	out := make([]step.Magnitude, m.channels)
	copy(out, m.live[:m.channels])
	return out
}

// IsActive returns true if a group is being played.
func (m *Machine) IsActive() bool { return m.pubActive.Load() }

// IsPreemptable returns true if the active group may be interrupted.
func (m *Machine) IsPreemptable() bool { return m.pubPreemptable.Load() }

// ActiveGroupID returns the group ID of the active group.
func (m *Machine) ActiveGroupID() (uint8, bool) {
	id := uint8(m.pubGroupID.Load())
	return id, m.pubActive.Load()
}

// Tick advances the machine by one period. It returns false only when the
// machine is idle and there was nothing to play.
func (m *Machine) Tick() bool {
	if m.dismiss.Swap(false) && m.state != Idle {
		m.queue.Release()
		groupID := m.groupID
		m.toIdle()
		m.live = [step.MaxChannels]step.Magnitude{}
		m.turnOff()

		m.logger.Debug("group dismissed", "group_id", groupID)
		if m.hooks.GroupDismissed != nil {
			m.hooks.GroupDismissed(groupID)
		}
	}

	switch m.state {
	case Idle:
		return m.drainGroup()

	case Delay:
		m.countdown--
		if m.countdown == 0 {
			m.state = MessageBegin
		}

	case MessageBegin:
		m.beginMessage()

	case Easing:
		m.countdown--
		if m.countdown == 0 {
			// The easing may not have landed exactly on the target.
			m.snapToTarget()
			if m.holdTicks > 0 {
				m.state = Steady
				m.countdown = m.holdTicks
			} else {
				m.advance()
			}
		} else {
			for i := 0; i < m.channels; i++ {
				m.live[i] = m.easings[i].Step()
			}
		}
		m.push()

	case Steady:
		if m.countdown > 0 {
			m.countdown--
		}
		if m.countdown == 0 {
			m.advance()
		}
	}

	return true
}

// drainGroup reads one whole group from the queue.
func (m *Machine) drainGroup() bool {
	n := 0
	for {
		slot, ok := m.queue.Get()
		if !ok {
			break
		}

		s := m.queue.At(slot)
		if n == 0 {
			m.slot = slot
			m.index = 0
			m.repetitions = s.Repetitions
			if m.repetitions == 0 {
				m.repetitions = 1
			}
			m.groupID = s.GroupID
			m.pubPreemptable.Store(s.IsPreemptable())
		}
		n++

		if s.IsLast() {
			break
		}
	}

	if n == 0 {
		m.setPower(false)
		return false
	}

	m.numInGroup = n
	m.pubGroupID.Store(uint32(m.groupID))
	m.pubActive.Store(true)

	// Give the driver's enable line one tick to settle.
	m.state = Delay
	m.countdown = 1
	m.setPower(true)

	m.logger.Debug("group started",
		"group_id", m.groupID,
		"steps", n,
		"repetitions", m.repetitions)
	if m.hooks.GroupStarted != nil {
		m.hooks.GroupStarted(m.groupID, n, m.repetitions)
	}
	return true
}

func (m *Machine) beginMessage() {
	s := m.queue.At(m.slot)
	m.fadeTicks = s.FadeTicks
	m.holdTicks = s.HoldTicks

	if m.fadeTicks > 0 {
		m.state = Easing
		m.countdown = m.fadeTicks
		for i := 0; i < m.channels; i++ {
			m.easings[i].Init(m.live[i], s.Targets[i], m.fadeTicks)
			m.live[i] = m.easings[i].Step()
		}
	} else {
		m.state = Steady
		m.countdown = m.holdTicks
		m.snapToTarget()
	}

	m.push()
}

// advance moves to the next step, or to Idle when the group is done.
func (m *Machine) advance() {
	if m.nextMessage() {
		m.state = MessageBegin
		return
	}

	groupID := m.groupID
	m.toIdle()

	m.logger.Debug("group finished", "group_id", groupID)
	if m.hooks.GroupFinished != nil {
		m.hooks.GroupFinished(groupID)
	}
}

// nextMessage points slot at the next step to play. It releases the group
// and returns false after the last repetition.
func (m *Machine) nextMessage() bool {
	m.index++
	if m.index >= m.numInGroup {
		m.repetitions--
		if m.repetitions == 0 {
			m.queue.Release()
			return false
		}
		m.index = 0
	}

	m.slot = m.queue.RetrieveNext(m.slot)
	return true
}

func (m *Machine) snapToTarget() {
	s := m.queue.At(m.slot)
	copy(m.live[:m.channels], s.Targets[:m.channels])
}

func (m *Machine) push() {
	m.drv.SetMagnitudes(m.live[:m.channels])
	m.drv.Write()
}

func (m *Machine) turnOff() {
	m.drv.Clear()
	m.drv.Write()
}

func (m *Machine) toIdle() {
	m.state = Idle
	m.groupID = step.NoGroup

	m.pubActive.Store(false)
	m.pubPreemptable.Store(false)
	m.pubGroupID.Store(uint32(step.NoGroup))
}

func (m *Machine) setPower(on bool) {
	if m.power == nil || m.powered == on {
		return
	}
	m.power.SetPower(on)
	m.powered = on
}
