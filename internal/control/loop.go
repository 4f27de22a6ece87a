package control

import (
	"context"
	"time"

	"codeberg.org/mutker/picarctl/internal/errors"
	"codeberg.org/mutker/picarctl/internal/grayscale"
	"codeberg.org/mutker/picarctl/internal/logger"
	"codeberg.org/mutker/picarctl/internal/state"
)

const (
	defaultEvadePower    = 20
	defaultEvadeDuration = 500 * time.Millisecond
	defaultTickBudget    = 50 * time.Millisecond
	defaultErrorBackoff  = 10 * time.Millisecond
)

// LoopConfig tunes the autonomous loop.
type LoopConfig struct {
	EvadePower    int
	EvadeDuration time.Duration
	LineLost      LineLostPolicy
	// TickInterval is the minimum tick period; zero runs ticks back to back,
	// bounded only by the bus round trip.
	TickInterval time.Duration
	// TickBudget is the watchdog limit; slower ticks are logged.
	TickBudget   time.Duration
	ErrorBackoff time.Duration
}

func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		EvadePower:    defaultEvadePower,
		EvadeDuration: defaultEvadeDuration,
		LineLost:      LineLostForward,
		TickBudget:    defaultTickBudget,
		ErrorBackoff:  defaultErrorBackoff,
	}
}

// Loop is the autonomous control loop: sense, classify, decide, act.
type Loop struct {
	store     *state.Store
	sensor    Sensor
	guard     *Guard
	latest    *grayscale.Latest
	cfg       LoopConfig
	behaviors []Behavior
	logger    logger.Logger
	wait      func(ctx context.Context, d time.Duration) error
}

func NewLoop(store *state.Store, sensor Sensor, guard *Guard, latest *grayscale.Latest, cfg LoopConfig, log logger.Logger) *Loop {
	l := &Loop{
		store:  store,
		sensor: sensor,
		guard:  guard,
		latest: latest,
		cfg:    cfg,
		logger: log,
		wait:   wait,
	}
	l.behaviors = []Behavior{
		edgeGuard{power: cfg.EvadePower, duration: cfg.EvadeDuration, wait: l.sleep, current: store.Snapshot},
		lineFollow{lost: cfg.LineLost},
	}

	return l
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) error {
	return l.wait(ctx, d)
}

// Tick runs one iteration and returns the name of the behavior that acted,
// or "" when the loop stayed idle and left the wheels to the last command.
func (l *Loop) Tick(ctx context.Context) (string, error) {
	st := l.store.Snapshot()

	r, err := l.sensor.Read()
	if err != nil {
		return "", err
	}
	if l.latest != nil {
		l.latest.Store(r)
	}

	for _, b := range l.behaviors {
		if !b.Claim(st, r) {
			continue
		}
		act := func(d Driver) error { return b.Act(ctx, d, st, r) }

		if b.Exclusive() {
			err = l.guard.Maneuver(act)
		} else {
			_, err = l.guard.Do(act)
		}

		return b.Name(), err
	}

	return "", nil
}

// Run ticks until ctx is done. Errors are contained to their tick.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().Msg("Control loop started")
	defer l.logger.Info().Msg("Control loop stopped")

	for ctx.Err() == nil {
		start := time.Now()

		name, err := l.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logTickError(name, err)
			_ = l.wait(ctx, l.cfg.ErrorBackoff)
			continue
		}

		elapsed := time.Since(start)
		if l.cfg.TickBudget > 0 && elapsed > l.cfg.TickBudget && name != "edge_guard" {
			l.logger.Warn().
				Dur("elapsed", elapsed).
				Dur("budget", l.cfg.TickBudget).
				Msg("Control tick over budget")
		}

		if l.cfg.TickInterval > elapsed {
			_ = l.wait(ctx, l.cfg.TickInterval-elapsed)
		}
	}

	return nil
}

func (l *Loop) logTickError(behavior string, err error) {
	var appErr errors.Error
	if errors.As(err, &appErr) {
		l.logger.WarnWithCode(appErr).Str("behavior", behavior).Msg("Control tick failed")
		return
	}
	l.logger.Warn().Err(err).Str("behavior", behavior).Msg("Control tick failed")
}
