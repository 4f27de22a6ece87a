package control

import (
	"context"
	"sync"

	"codeberg.org/mutker/picarctl/internal/errors"
	"codeberg.org/mutker/picarctl/internal/logger"
	"codeberg.org/mutker/picarctl/internal/state"
)

// Ingest merges operator commands into the store and applies their drive
// intent immediately, without waiting for the control loop.
type Ingest struct {
	store    *state.Store
	guard    *Guard
	resetter Resetter
	logger   logger.Logger
	mu       sync.Mutex
}

func NewIngest(store *state.Store, guard *Guard, resetter Resetter, log logger.Logger) *Ingest {
	return &Ingest{
		store:    store,
		guard:    guard,
		resetter: resetter,
		logger:   log,
	}
}

// Apply merges cmd and acts on it. Concurrent calls are serialized so a
// merge and its actuation are never interleaved with another command's.
// While an edge maneuver holds the wheels the command is merged but not
// actuated; the maneuver ends stopped and the next drive command applies.
func (i *Ingest) Apply(ctx context.Context, cmd state.Command) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	st, err := i.store.Merge(cmd)
	if err != nil {
		i.logRejected(err)
		return err
	}

	var errs []error

	if cmd.HasDrive() || cmd.ManualOverride != nil {
		applied, err := i.guard.Do(func(d Driver) error {
			return actuate(d, cmd, st)
		})
		errs = append(errs, err)
		if !applied {
			i.logger.Info().
				Str("mode", string(st.Mode)).
				Int("power", st.Power).
				Msg("Edge maneuver in progress, command held")
		}
	}

	if i.store.TakeReset() {
		i.logger.Info().Msg("Hardware reset requested")
		if i.resetter != nil {
			if err := i.resetter.Reset(ctx); err != nil {
				errs = append(errs, errors.New().Wrap(errors.ErrReset, err))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		i.logger.Error().Err(err).Msg("Failed to apply command")
		return err
	}

	i.logger.Debug().
		Str("mode", string(st.Mode)).
		Int("power", st.Power).
		Bool("line_follow", st.LineFollow.Enabled).
		Bool("edge_guard", st.EdgeGuard.Enabled).
		Msg("Command applied")

	return nil
}

func actuate(d Driver, cmd state.Command, st state.State) error {
	switch {
	case cmd.HasDrive():
		return drive(d, st.Mode, st.Power, st.Override)
	case st.Override != nil:
		return d.SetWheel(st.Override.Wheel, st.Override.Power)
	default:
		// Cleared: hand the wheel back to the current mode.
		return d.Drive(st.Mode, st.Power)
	}
}

// HandleMessage decodes a raw inbound message and applies it. Invalid
// messages are logged and dropped.
func (i *Ingest) HandleMessage(ctx context.Context, data []byte) error {
	cmd, err := state.DecodeCommand(data)
	if err != nil {
		i.logRejected(err)
		return err
	}

	return i.Apply(ctx, cmd)
}

// Run applies commands from cmds until ctx is done or cmds is closed.
func (i *Ingest) Run(ctx context.Context, cmds <-chan state.Command) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd, ok := <-cmds:
			if !ok {
				return nil
			}
			_ = i.Apply(ctx, cmd)
		}
	}
}

func (i *Ingest) logRejected(err error) {
	var appErr errors.Error
	if errors.As(err, &appErr) {
		i.logger.WarnWithCode(appErr).Msg("Command rejected")
		return
	}
	i.logger.Warn().Err(err).Msg("Command rejected")
}
