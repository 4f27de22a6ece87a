// Package telemetry builds periodic status frames and fans them out to the
// configured sinks.
package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/picarctl/internal/errors"
	"codeberg.org/mutker/picarctl/internal/grayscale"
	"codeberg.org/mutker/picarctl/internal/logger"
	"codeberg.org/mutker/picarctl/internal/state"
)

// Publisher assembles a Frame every cycle. It never samples the sensor bus;
// the sensor triple comes from the control loop's latest reading.
type Publisher struct {
	cfg       Config
	store     *state.Store
	rear      [2]SpeedReader
	latest    *grayscale.Latest
	diagnoser Diagnoser
	sinks     []Sink
	logger    logger.Logger
	now       func() time.Time
}

type Option func(*Publisher)

// WithDiagnoser sets the diagnostics source used when diagnostics are enabled.
func WithDiagnoser(d Diagnoser) Option {
	return func(p *Publisher) {
		p.diagnoser = d
	}
}

// WithSinks adds outbound sinks.
func WithSinks(sinks ...Sink) Option {
	return func(p *Publisher) {
		p.sinks = append(p.sinks, sinks...)
	}
}

// WithClock overrides the frame timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// NewPublisher builds a Publisher. leftRear and rightRear feed the reported
// speed; front wheel sensors are deliberately not part of the aggregate.
func NewPublisher(cfg Config, store *state.Store, leftRear, rightRear SpeedReader, latest *grayscale.Latest, log logger.Logger, opts ...Option) (*Publisher, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || leftRear == nil || rightRear == nil {
		return nil, errFactory.WithMessage(ErrInvalidConfig, "state store and rear speed readers are required")
	}

	p := &Publisher{
		cfg:    cfg,
		store:  store,
		rear:   [2]SpeedReader{leftRear, rightRear},
		latest: latest,
		logger: log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Build assembles the frame for the current state.
func (p *Publisher) Build() *Frame {
	st := p.store.Snapshot()

	frame := &Frame{
		Speed:     (p.rear[0].Speed() + p.rear[1].Speed()) / 2,
		Timestamp: float64(p.now().UnixMicro()) / 1e6,
	}

	if st.Diagnostics && p.diagnoser != nil {
		report, err := p.diagnoser.Report()
		if err != nil {
			p.logger.Debug().Err(errors.New().Wrap(ErrDiagnostics, err)).Msg("Diagnostics incomplete")
		}
		frame.Diagnostics = &report
	}

	if st.GrayscaleReport && p.latest != nil {
		if r, ok := p.latest.Load(); ok {
			frame.Sensors = &r
		}
	}

	return frame
}

// Publish builds one frame and hands it to every sink. Sink failures are
// logged and do not affect the other sinks.
func (p *Publisher) Publish(ctx context.Context) *Frame {
	frame := p.Build()

	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, frame); err != nil {
			appErr := errors.New().Wrap(ErrPublish, err)
			p.logger.WarnWithCode(appErr).Str("sink", sink.Name()).Msg("Failed to publish telemetry")
		}
	}

	return frame
}

// Run publishes on the configured cadence until ctx is done. A cycle that
// overruns delays the next one; no cycle is skipped.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info().
		Dur("interval", p.cfg.Interval).
		Int("sinks", len(p.sinks)).
		Msg("Telemetry publisher started")
	defer p.logger.Info().Msg("Telemetry publisher stopped")

	next := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		p.Publish(ctx)

		next = next.Add(p.cfg.Interval)
		delay := time.Until(next)
		if delay < 0 {
			// Overran: start the next cycle now and measure from here.
			next = time.Now()
			delay = 0
		}
		timer.Reset(delay)
	}
}
