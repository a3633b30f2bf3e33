package playback

import "fmt"

// State is a playback machine state.
type State uint8

const (
	// Idle waits for a committed group.
	Idle State = iota
	// Delay lets the driver's enable line settle before the first step.
	Delay
	// MessageBegin loads the active step.
	MessageBegin
	// Easing fades toward the active step's targets.
	Easing
	// Steady holds the active step's targets.
	Steady
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Delay:
		return "delay"
	case MessageBegin:
		return "message-begin"
	case Easing:
		return "easing"
	case Steady:
		return "steady"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}
