// Package speed measures wheel speed from the photo-interrupter encoders.
package speed

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/picarctl/internal/errors"
	"codeberg.org/mutker/picarctl/internal/logger"
	"periph.io/x/conn/v3/gpio"
)

const (
	defaultWindow        = 500 * time.Millisecond
	defaultSlots         = 20
	defaultWheelDiameter = 6.6 // cm
)

type Config struct {
	// Window is the counting period for one speed sample.
	Window time.Duration
	// Slots is the number of encoder disc slots per wheel revolution.
	Slots int
	// WheelDiameter is in centimeters.
	WheelDiameter float64
}

func DefaultConfig() Config {
	return Config{
		Window:        defaultWindow,
		Slots:         defaultSlots,
		WheelDiameter: defaultWheelDiameter,
	}
}

func (c Config) Validate() error {
	if c.Window <= 0 || c.Slots <= 0 || c.WheelDiameter <= 0 {
		return errors.New().WithData(errors.ErrInvalidConfig, struct {
			Window        string
			Slots         int
			WheelDiameter float64
		}{
			Window:        c.Window.String(),
			Slots:         c.Slots,
			WheelDiameter: c.WheelDiameter,
		})
	}

	return nil
}

// Rate converts an edge count over window into cm/s. Both edges of every
// slot are counted.
func Rate(edges int, window time.Duration, cfg Config) float64 {
	if edges <= 0 || window <= 0 || cfg.Slots <= 0 {
		return 0
	}

	revolutions := float64(edges) / 2 / float64(cfg.Slots)

	return revolutions * math.Pi * cfg.WheelDiameter / window.Seconds()
}

// Counter samples one encoder. Speed is safe to call from any goroutine.
type Counter struct {
	name   string
	pin    gpio.PinIn
	cfg    Config
	logger logger.Logger
	speed  atomic.Uint64
}

// NewCounter configures pin for edge detection.
func NewCounter(name string, pin gpio.PinIn, cfg Config, log logger.Logger) (*Counter, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := pin.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return nil, errFactory.WithData(errors.ErrInitFailed, struct {
			Pin   string
			Error string
		}{
			Pin:   pin.Name(),
			Error: err.Error(),
		})
	}

	return &Counter{name: name, pin: pin, cfg: cfg, logger: log}, nil
}

func (c *Counter) Name() string {
	return c.name
}

// Speed returns the last measured speed in cm/s.
func (c *Counter) Speed() float64 {
	return math.Float64frombits(c.speed.Load())
}

// Measure counts edges for one window, stores the resulting speed and
// returns it.
func (c *Counter) Measure() float64 {
	start := time.Now()
	deadline := start.Add(c.cfg.Window)

	edges := 0
	for remaining := c.cfg.Window; remaining > 0; remaining = time.Until(deadline) {
		if c.pin.WaitForEdge(remaining) {
			edges++
		}
	}

	v := Rate(edges, time.Since(start), c.cfg)
	c.speed.Store(math.Float64bits(v))

	return v
}

// Run measures continuously until ctx is done.
func (c *Counter) Run(ctx context.Context) error {
	c.logger.Debug().
		Str("wheel", c.name).
		Str("pin", c.pin.Name()).
		Dur("window", c.cfg.Window).
		Msg("Speed counter started")

	for ctx.Err() == nil {
		c.Measure()
	}
	c.speed.Store(0)

	return nil
}

// Fixed is a SpeedReader that always reports the same value, for cars
// without encoders.
type Fixed float64

func (f Fixed) Speed() float64 {
	return float64(f)
}
