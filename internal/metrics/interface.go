package metrics

import (
	"context"

	"codeberg.org/mutker/picarctl/internal/telemetry"
)

// Recorder stores telemetry history. It is a telemetry.Sink.
type Recorder interface {
	telemetry.Sink
	Close() error
}

// Repository defines the interface for telemetry history storage
type Repository interface {
	Record(ctx context.Context, frame *telemetry.Frame) error
	SessionID() string
	Close() error
}
