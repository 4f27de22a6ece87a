package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"codeberg.org/mutker/picarctl/internal/diagnostics"
	"codeberg.org/mutker/picarctl/internal/grayscale"
)

// Sink delivers frames to one outbound channel.
type Sink interface {
	Name() string
	Publish(ctx context.Context, frame *Frame) error
}

// SpeedReader reports one wheel's speed.
type SpeedReader interface {
	Speed() float64
}

// Diagnoser produces the host diagnostics payload.
type Diagnoser interface {
	Report() (diagnostics.Report, error)
}

// Frame is one telemetry message. Disabled parts are nil and left out of the
// encoded frame entirely.
type Frame struct {
	Speed       float64             `json:"speed"`
	Timestamp   float64             `json:"timestamp"`
	Diagnostics *diagnostics.Report `json:"diagnostics,omitempty"`
	Sensors     *grayscale.Reading  `json:"sensors,omitempty"`
}

// Time returns the frame timestamp as a time.Time.
func (f *Frame) Time() time.Time {
	sec := int64(f.Timestamp)
	return time.Unix(sec, int64((f.Timestamp-float64(sec))*float64(time.Second)))
}

// Encode returns the JSON wire form of f.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}
