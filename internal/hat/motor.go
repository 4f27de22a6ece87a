package hat

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/picarctl/internal/errors"
	"codeberg.org/mutker/picarctl/internal/motor"
	"periph.io/x/conn/v3/gpio"
)

const (
	motorPeriod    = 4095
	motorPrescaler = 10
	// Duty below this stalls the gearmotors; nonzero power is mapped into
	// [minDuty, 100].
	minDuty = 50
)

// PortConfig names the PWM channel and direction line of one motor port.
type PortConfig struct {
	PWMChannel int
	DirPin     string
}

// DefaultPorts is the stock wiring of the four motor ports.
func DefaultPorts() map[motor.Wheel]PortConfig {
	return map[motor.Wheel]PortConfig{
		motor.FrontLeft:  {PWMChannel: 13, DirPin: "GPIO23"},
		motor.FrontRight: {PWMChannel: 12, DirPin: "GPIO24"},
		motor.RearLeft:   {PWMChannel: 8, DirPin: "GPIO13"},
		motor.RearRight:  {PWMChannel: 9, DirPin: "GPIO20"},
	}
}

// Port is one wired motor port.
type Port struct {
	PWM *PWM
	Dir gpio.PinOut
}

// Motors drives the four motor ports and implements motor.Actuator.
// Reversal is applied upstream; a positive power always sets the direction
// line high.
type Motors struct {
	ports map[motor.Wheel]Port
	mu    sync.Mutex
}

// NewMotors configures every port's timer and returns the actuator.
func NewMotors(ports map[motor.Wheel]Port) (*Motors, error) {
	errFactory := errors.New()

	for _, w := range motor.AllWheels() {
		p, ok := ports[w]
		if !ok || p.PWM == nil || p.Dir == nil {
			return nil, errFactory.WithData(errors.ErrInvalidConfig, struct {
				Wheel string
			}{
				Wheel: w.String(),
			})
		}
		if err := p.PWM.Period(motorPeriod); err != nil {
			return nil, errFactory.Wrap(errors.ErrInitFailed, err)
		}
		if err := p.PWM.Prescaler(motorPrescaler); err != nil {
			return nil, errFactory.Wrap(errors.ErrInitFailed, err)
		}
	}

	return &Motors{ports: ports}, nil
}

// SetPower drives w at a signed power in [-100, 100].
func (m *Motors) SetPower(w motor.Wheel, power int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.ports[w]
	if !ok {
		return errors.New().WithData(errors.ErrInvalidArgument, w.String())
	}

	level := gpio.High
	if power < 0 {
		level = gpio.Low
		power = -power
	}
	if err := p.Dir.Out(level); err != nil {
		return errors.New().Wrap(errors.ErrActuation, err)
	}

	return p.PWM.PulseWidthPercent(float64(Duty(power)))
}

// Duty maps a power magnitude to a PWM duty percentage.
func Duty(power int) int {
	if power <= 0 {
		return 0
	}
	if power > motor.MaxPower {
		power = motor.MaxPower
	}

	return power/2 + minDuty
}

const (
	resetPulse  = time.Millisecond
	resetSettle = 10 * time.Millisecond
)

// Resetter restarts the HAT microcontroller by pulsing its reset line low.
type Resetter struct {
	pin gpio.PinOut
	mu  sync.Mutex
}

func NewResetter(pin gpio.PinOut) *Resetter {
	return &Resetter{pin: pin}
}

func (r *Resetter) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	errFactory := errors.New()

	if err := r.pin.Out(gpio.Low); err != nil {
		return errFactory.Wrap(errors.ErrReset, err)
	}
	if err := sleep(ctx, resetPulse); err != nil {
		// Never leave the board held in reset.
		_ = r.pin.Out(gpio.High)
		return errFactory.Wrap(errors.ErrReset, err)
	}
	if err := r.pin.Out(gpio.High); err != nil {
		return errFactory.Wrap(errors.ErrReset, err)
	}

	return sleep(ctx, resetSettle)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
