// Package bus opens the host I2C bus and serializes transactions on it.
package bus

import (
	"sync"

	"codeberg.org/mutker/picarctl/internal/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// Locked wraps an I2C bus shared by the sensor array and the motor HAT. Every
// Tx, and every multi-step sequence run through Do, holds the bus lock so
// transfers from different goroutines never interleave.
type Locked struct {
	bus i2c.Bus
	mu  sync.Mutex
}

// NewLocked wraps bus.
func NewLocked(bus i2c.Bus) *Locked {
	return &Locked{bus: bus}
}

// Open initializes the host drivers and opens the named bus ("" for the
// first available one).
func Open(name string) (i2c.BusCloser, error) {
	errFactory := errors.New()

	if _, err := host.Init(); err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err)
	}

	b, err := i2creg.Open(name)
	if err != nil {
		return nil, errFactory.WithData(errors.ErrDeviceNotFound, struct {
			Bus   string
			Error string
		}{
			Bus:   name,
			Error: err.Error(),
		})
	}

	return b, nil
}

func (l *Locked) String() string {
	return l.bus.String()
}

// Tx runs a single transaction under the bus lock.
func (l *Locked) Tx(addr uint16, w, r []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.bus.Tx(addr, w, r)
}

// SetSpeed changes the bus clock under the bus lock.
func (l *Locked) SetSpeed(f physic.Frequency) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.bus.SetSpeed(f)
}

// Do runs fn with exclusive access to the underlying bus.
func (l *Locked) Do(fn func(b i2c.Bus) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return fn(l.bus)
}
