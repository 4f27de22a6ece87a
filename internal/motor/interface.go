// Package motor fans coarse drive intents and single-wheel overrides out to
// the four wheel actuators of the car.
package motor

import (
	"fmt"
	"strings"
)

// MaxPower is the upper bound of the actuator duty range. Power values are
// clamped to [0, MaxPower] before they reach the Arbiter.
const MaxPower = 100

// Mode is a coarse motion intent.
type Mode string

const (
	Forward   Mode = "forward"
	Backward  Mode = "backward"
	TurnLeft  Mode = "turn-left"
	TurnRight Mode = "turn-right"
	Stop      Mode = "stop"
)

// ParseMode accepts the canonical mode names plus the underscore spellings
// sent by older remote clients.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")); m {
	case Forward, Backward, TurnLeft, TurnRight, Stop:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Wheel identifies one of the four independently driven wheels. The numbering
// matches the HAT motor ports.
type Wheel int

const (
	FrontLeft Wheel = iota + 1
	FrontRight
	RearLeft
	RearRight
)

// AllWheels returns all wheels in port order.
func AllWheels() []Wheel {
	return []Wheel{FrontLeft, FrontRight, RearLeft, RearRight}
}

func (w Wheel) Valid() bool {
	return w >= FrontLeft && w <= RearRight
}

// IsLeft reports whether the wheel is on the left side of the chassis.
func (w Wheel) IsLeft() bool {
	return w == FrontLeft || w == RearLeft
}

func (w Wheel) String() string {
	switch w {
	case FrontLeft:
		return "front-left"
	case FrontRight:
		return "front-right"
	case RearLeft:
		return "rear-left"
	case RearRight:
		return "rear-right"
	default:
		return fmt.Sprintf("wheel(%d)", int(w))
	}
}

// Actuator drives one wheel at a signed power. Positive is forward after
// the wheel's reversal flag has been applied.
type Actuator interface {
	SetPower(w Wheel, power int) error
}

// Reversal holds the per-wheel reversal flags loaded from configuration.
type Reversal map[Wheel]bool
