package glowseq

import (
	"encoding"
	"fmt"
	"io"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"libdb.so/glowseq/internal/step"
)

// DefaultTick is the playback period used when none is configured.
const DefaultTick = 10 * time.Millisecond

// Config is the configuration for the glowseq daemon.
type Config struct {
	// Device is the path to the serial device of the LED controller.
	// This is usually /dev/ttyUSB0 or /dev/ttyACM0.
	Device string `toml:"device"`
	// Baud is the baud rate for the serial connection.
	Baud int `toml:"baud" default:"115200" validate:"gt=0"`
	// Tick is the playback period. All fade and hold durations are rounded
	// to a whole number of ticks.
	Tick TOMLDuration `toml:"tick"`
	// Channels is the number of LED channels driven.
	Channels int `toml:"channels" default:"1" validate:"min=1,max=12"`
	// QueueCapacity is the number of steps the queue can hold.
	QueueCapacity int `toml:"queue_capacity" default:"64" validate:"min=1"`
	// PowerPin is the GPIO name of the LED driver's enable line, if any.
	PowerPin string `toml:"power_pin"`
	// ButtonPin is the GPIO name of a button that dismisses the active
	// sequence, if any.
	ButtonPin string `toml:"button_pin"`
	// MetricsAddr is the listen address for Prometheus metrics. Metrics are
	// not served if empty.
	MetricsAddr string `toml:"metrics_addr"`
	// Sequences are the sequences that can be played by name.
	Sequences []SequenceConfig `toml:"sequence" validate:"dive"`
}

// SequenceConfig is a named group of steps.
type SequenceConfig struct {
	// Name identifies the sequence.
	Name string `toml:"name" validate:"required"`
	// GroupID is reported while the sequence plays. It defaults to the
	// sequence's position in the configuration.
	GroupID *int `toml:"group_id" validate:"omitempty,min=0,max=254"`
	// Repetitions is the number of times the whole sequence plays. Zero
	// means once.
	Repetitions int `toml:"repetitions" validate:"min=0,max=65535"`
	// Preemptable allows a preempting sequence to cut this one short.
	Preemptable bool `toml:"preemptable"`
	// Preempt dismisses the active sequence when this one is played, if the
	// active sequence is preemptable.
	Preempt bool `toml:"preempt"`
	// Steps are played in order.
	Steps []StepConfig `toml:"step" validate:"required,min=1,dive"`
}

// StepConfig is a single step of a sequence.
type StepConfig struct {
	// Targets are the channel magnitudes to fade to, one per channel.
	// Missing channels fade to zero.
	Targets []int `toml:"targets" validate:"required,min=1,dive,min=0,max=65535"`
	// Fade is how long the fade to Targets takes. Zero snaps immediately.
	Fade TOMLDuration `toml:"fade"`
	// Hold is how long Targets are held after the fade.
	Hold TOMLDuration `toml:"hold"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	tick := c.Tick.Duration()
	if tick <= 0 {
		return fmt.Errorf("tick must be positive, got %v", tick)
	}

	names := make(map[string]struct{}, len(c.Sequences))
	for _, seq := range c.Sequences {
		if _, ok := names[seq.Name]; ok {
			return fmt.Errorf("duplicate sequence %q", seq.Name)
		}
		names[seq.Name] = struct{}{}

		if len(seq.Steps) > c.QueueCapacity {
			return fmt.Errorf("sequence %q has %d steps, more than the queue capacity %d",
				seq.Name, len(seq.Steps), c.QueueCapacity)
		}

		for i, st := range seq.Steps {
			if len(st.Targets) > c.Channels {
				return fmt.Errorf("sequence %q step %d has %d targets for %d channels",
					seq.Name, i, len(st.Targets), c.Channels)
			}
			for _, d := range []TOMLDuration{st.Fade, st.Hold} {
				if d < 0 || toTicks(d.Duration(), tick) > 0xffff {
					return fmt.Errorf("sequence %q step %d: duration %v out of range",
						seq.Name, i, d.Duration())
				}
			}
		}
	}

	return nil
}

// Group converts the sequence into a group of playback steps. Durations are
// rounded to the nearest tick. index is the sequence's position in the
// configuration and is used as the group ID unless one is set.
func (s *SequenceConfig) Group(tick time.Duration, index int) []step.Step {
	groupID := uint8(index)
	if s.GroupID != nil {
		groupID = uint8(*s.GroupID)
	}

	var flags step.Flags
	if s.Preemptable {
		flags |= step.Preemptable
	}

	steps := make([]step.Step, len(s.Steps))
	for i, sc := range s.Steps {
		st := step.Step{
			Flags:       flags,
			Repetitions: uint16(s.Repetitions),
			FadeTicks:   uint16(toTicks(sc.Fade.Duration(), tick)),
			HoldTicks:   uint16(toTicks(sc.Hold.Duration(), tick)),
			GroupID:     groupID,
		}
		for ch, v := range sc.Targets {
			if ch < step.MaxChannels {
				st.Targets[ch] = step.Magnitude(v)
			}
		}
		steps[i] = st
	}

	if len(steps) > 0 {
		if steps[0].Repetitions == 0 {
			steps[0].Repetitions = 1
		}
		steps[len(steps)-1].Flags |= step.LastInGroup
	}

	return steps
}

func toTicks(d, tick time.Duration) int64 {
	return int64((d + tick/2) / tick)
}

// TOMLDuration is a duration that can be parsed from TOML.
type TOMLDuration time.Duration

var (
	_ encoding.TextUnmarshaler = (*TOMLDuration)(nil)
	_ encoding.TextMarshaler   = (*TOMLDuration)(nil)
)

func (d *TOMLDuration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = TOMLDuration(duration)
	return nil
}

func (d TOMLDuration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns d as a time.Duration.
func (d TOMLDuration) Duration() time.Duration {
	return time.Duration(d)
}

// ParseConfig parses a configuration from a reader and fills in defaults.
// The configuration is not validated.
func ParseConfig(r io.Reader) (*Config, error) {
	var config Config
	if err := toml.NewDecoder(r).Decode(&config); err != nil {
		return nil, err
	}

	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if config.Tick == 0 {
		config.Tick = TOMLDuration(DefaultTick)
	}

	return &config, nil
}
