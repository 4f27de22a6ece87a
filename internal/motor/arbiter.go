package motor

import (
	"sync"

	"codeberg.org/mutker/picarctl/internal/errors"
)

type wheel struct {
	id       Wheel
	reversed bool
	power    int
}

// Arbiter translates intents into per-wheel powers. It never decides intent
// and performs no clamping; callers own both.
type Arbiter struct {
	actuator Actuator
	wheels   map[Wheel]*wheel
	halted   bool
	mu       sync.Mutex
}

// NewArbiter builds an Arbiter. The reversal flags are copied and fixed for
// the Arbiter's lifetime.
func NewArbiter(actuator Actuator, reversal Reversal) *Arbiter {
	a := &Arbiter{
		actuator: actuator,
		wheels:   make(map[Wheel]*wheel, len(AllWheels())),
	}
	for _, w := range AllWheels() {
		a.wheels[w] = &wheel{id: w, reversed: reversal[w]}
	}

	return a
}

// Signs returns the left and right side multipliers for a mode.
func Signs(mode Mode) (left, right int) {
	switch mode {
	case Forward:
		return 1, 1
	case Backward:
		return -1, -1
	case TurnLeft:
		return -1, 1
	case TurnRight:
		return 1, -1
	default:
		return 0, 0
	}
}

// Drive applies mode at power to all four wheels.
func (a *Arbiter) Drive(mode Mode, power int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.halted {
		return errors.New().New(errors.ErrHalted)
	}

	left, right := Signs(mode)

	var errs []error
	for _, w := range AllWheels() {
		sign := right
		if w.IsLeft() {
			sign = left
		}
		if err := a.set(a.wheels[w], sign*power); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// SetWheel sets exactly one wheel's signed power, bypassing intent translation.
func (a *Arbiter) SetWheel(w Wheel, power int) error {
	errFactory := errors.New()
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.halted {
		return errFactory.New(errors.ErrHalted)
	}

	wh, ok := a.wheels[w]
	if !ok {
		return errFactory.WithData(errors.ErrInvalidArgument, w.String())
	}

	return a.set(wh, power)
}

// Halt zeroes every wheel and refuses all later commands. It is the terminal
// action on shutdown and is safe to call more than once.
func (a *Arbiter) Halt() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.halted = true

	var errs []error
	for _, w := range AllWheels() {
		if err := a.set(a.wheels[w], 0); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Powers returns the last commanded power per wheel, before reversal.
func (a *Arbiter) Powers() map[Wheel]int {
	a.mu.Lock()
	defer a.mu.Unlock()

	powers := make(map[Wheel]int, len(a.wheels))
	for id, wh := range a.wheels {
		powers[id] = wh.power
	}

	return powers
}

func (a *Arbiter) set(wh *wheel, power int) error {
	out := power
	if wh.reversed {
		out = -out
	}

	if err := a.actuator.SetPower(wh.id, out); err != nil {
		return errors.New().WithData(errors.ErrActuation, struct {
			Wheel string
			Error string
		}{
			Wheel: wh.id.String(),
			Error: err.Error(),
		})
	}
	wh.power = power

	return nil
}
