// Package control runs the command ingest task and the autonomous control
// loop. Both act on the wheels through a Driver and share the state.Store.
package control

import (
	"context"

	"codeberg.org/mutker/picarctl/internal/grayscale"
	"codeberg.org/mutker/picarctl/internal/motor"
	"codeberg.org/mutker/picarctl/internal/state"
)

// Driver is the motor arbiter as seen by the control tasks.
type Driver interface {
	Drive(mode motor.Mode, power int) error
	SetWheel(w motor.Wheel, power int) error
}

// Sensor samples the grayscale array.
type Sensor interface {
	Read() (grayscale.Reading, error)
}

// Resetter performs the hardware reset side effect.
type Resetter interface {
	Reset(ctx context.Context) error
}

// drive applies a coarse intent, then re-pins the overridden wheel so the
// override keeps bypassing mode until it is cleared.
func drive(d Driver, mode motor.Mode, power int, override *state.ManualOverride) error {
	if err := d.Drive(mode, power); err != nil {
		return err
	}
	if override != nil {
		return d.SetWheel(override.Wheel, override.Power)
	}

	return nil
}
