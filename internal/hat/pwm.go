// Package hat drives the motor HAT: PWM timers on the HAT microcontroller,
// the wheel direction lines and the microcontroller reset line.
package hat

import (
	"codeberg.org/mutker/picarctl/internal/errors"
)

const (
	// DefaultAddress is the HAT microcontroller's PWM address.
	DefaultAddress = 0x14

	regChannel   = 0x20
	regPrescaler = 0x40
	regPeriod    = 0x44

	maxChannel  = 19
	channelsPer = 4
)

// Writer is a bus that can run a single write transaction.
type Writer interface {
	Tx(addr uint16, w, r []byte) error
}

// PWM is one PWM output. Four consecutive channels share a timer, and with
// it the prescaler and period.
type PWM struct {
	bus     Writer
	addr    uint16
	channel int
	period  int
}

func NewPWM(b Writer, addr uint16, channel int) (*PWM, error) {
	if channel < 0 || channel > maxChannel {
		return nil, errors.New().WithData(errors.ErrInvalidConfig, struct {
			PWMChannel int
		}{
			PWMChannel: channel,
		})
	}

	return &PWM{bus: b, addr: addr, channel: channel}, nil
}

func (p *PWM) Channel() int {
	return p.channel
}

func (p *PWM) timer() byte {
	return byte(p.channel / channelsPer)
}

// Prescaler sets the timer clock divider.
func (p *PWM) Prescaler(v int) error {
	return p.write(regPrescaler+p.timer(), v)
}

// Period sets the timer auto-reload value; pulse widths are relative to it.
func (p *PWM) Period(v int) error {
	if err := p.write(regPeriod+p.timer(), v); err != nil {
		return err
	}
	p.period = v

	return nil
}

func (p *PWM) PulseWidth(v int) error {
	return p.write(regChannel+byte(p.channel), v)
}

// PulseWidthPercent sets the pulse width as a share of the period.
func (p *PWM) PulseWidthPercent(pct float64) error {
	return p.PulseWidth(int(pct / 100 * float64(p.period)))
}

func (p *PWM) write(reg byte, value int) error {
	if err := p.bus.Tx(p.addr, []byte{reg, byte(value >> 8), byte(value)}, nil); err != nil {
		return errors.New().WithData(errors.ErrBusIO, struct {
			Addr     uint16
			Register byte
			Error    string
		}{
			Addr:     p.addr,
			Register: reg,
			Error:    err.Error(),
		})
	}

	return nil
}
