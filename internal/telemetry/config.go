package telemetry

import (
	"time"

	"codeberg.org/mutker/picarctl/internal/errors"
)

const defaultInterval = 10 * time.Millisecond

type Config struct {
	// Interval is the target publish period.
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: defaultInterval,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.Interval <= 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			Interval string
		}{
			Interval: c.Interval.String(),
		})
	}
	return nil
}
