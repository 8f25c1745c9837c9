// Package gpio abstracts the two cellular power-control outputs
// (POWER_KEY, RESET) and the heartbeat LED behind a minimal interface, the
// Go equivalent of the original firmware's `embedded_hal::digital::OutputPin`
// generic parameter (spec.md §4.5, §6).
package gpio

import (
	"fmt"

	"periph.io/x/periph/conn/gpio"
)

// OutputPin is an active-high digital output: SetHigh/SetLow drive the
// line, irrespective of the underlying hardware's idle polarity.
type OutputPin interface {
	SetHigh() error
	SetLow() error
}

// PeriphPin adapts a periph.io gpio.PinOut to OutputPin.
type PeriphPin struct {
	pin gpio.PinOut
}

// NewPeriphPin wraps pin, which must not be gpio.INVALID.
func NewPeriphPin(pin gpio.PinOut) *PeriphPin {
	return &PeriphPin{pin: pin}
}

func (p *PeriphPin) SetHigh() error {
	if err := p.pin.Out(gpio.High); err != nil {
		return fmt.Errorf("gpio: set %s high: %w", p.pin.Name(), err)
	}
	return nil
}

func (p *PeriphPin) SetLow() error {
	if err := p.pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("gpio: set %s low: %w", p.pin.Name(), err)
	}
	return nil
}
