package transport

import (
	"time"

	"codeberg.org/mutker/picarctl/internal/errors"
)

const (
	defaultControlAddr   = ":8765"
	defaultTelemetryAddr = ":8766"
	defaultWriteTimeout  = time.Second
	defaultSendQueue     = 16
	defaultMaxMessage    = 4096
	shutdownTimeout      = 2 * time.Second
)

type Config struct {
	ControlAddr   string
	TelemetryAddr string
	WriteTimeout  time.Duration
	// SendQueue is the number of frames buffered per telemetry client.
	SendQueue int
	// MaxMessage bounds an inbound command in bytes.
	MaxMessage int64
}

func DefaultConfig() Config {
	return Config{
		ControlAddr:   defaultControlAddr,
		TelemetryAddr: defaultTelemetryAddr,
		WriteTimeout:  defaultWriteTimeout,
		SendQueue:     defaultSendQueue,
		MaxMessage:    defaultMaxMessage,
	}
}

func (c Config) Validate() error {
	if c.ControlAddr == "" || c.TelemetryAddr == "" || c.WriteTimeout <= 0 || c.SendQueue <= 0 || c.MaxMessage <= 0 {
		return errors.New().WithData(ErrInvalidConfig, c)
	}

	return nil
}
