package leddriver

import (
	"log/slog"

	"periph.io/x/conn/v3/gpio"
)

// GPIOPower switches the LED driver's enable line through a GPIO pin.
type GPIOPower struct {
	pin    gpio.PinOut
	logger *slog.Logger
}

// NewGPIOPower creates a power switch on pin. The pin is driven low.
func NewGPIOPower(pin gpio.PinOut, logger *slog.Logger) (*GPIOPower, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, err
	}
	return &GPIOPower{pin: pin, logger: logger}, nil
}

// SetPower drives the pin high when on.
func (p *GPIOPower) SetPower(on bool) {
	level := gpio.Low
	if on {
		level = gpio.High
	}
	if err := p.pin.Out(level); err != nil {
		p.logger.Warn(
			"failed to switch LED power",
			"pin", p.pin.Name(),
			"on", on,
			"error", err)
	}
}
