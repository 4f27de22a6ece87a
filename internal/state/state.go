// Package state holds the operator's shared control record. Every task reads
// and writes it through Store; nothing touches the fields directly.
package state

import (
	"sync"

	"codeberg.org/mutker/picarctl/internal/motor"
)

// Behavior is an autonomous behavior's toggle and trigger threshold.
type Behavior struct {
	Enabled   bool `json:"enabled"`
	Threshold int  `json:"threshold"`
}

// ManualOverride pins one wheel to a signed power.
type ManualOverride struct {
	Wheel motor.Wheel `json:"wheel_id"`
	Power int         `json:"power"`
}

// State is a consistent snapshot of the control record.
type State struct {
	Mode            motor.Mode
	Power           int
	GrayscaleReport bool
	LineFollow      Behavior
	EdgeGuard       Behavior
	Diagnostics     bool
	ResetRequested  bool
	Override        *ManualOverride
}

// Defaults returns the startup record for the given defaults.
func Defaults(power, lineThreshold, edgeThreshold int) State {
	return State{
		Mode:       motor.Stop,
		Power:      clamp(power, 0, motor.MaxPower),
		LineFollow: Behavior{Threshold: lineThreshold},
		EdgeGuard:  Behavior{Threshold: edgeThreshold},
	}
}

func (s State) clone() State {
	if s.Override != nil {
		o := *s.Override
		s.Override = &o
	}

	return s
}

// Store guards the control record.
type Store struct {
	state State
	mu    sync.RWMutex
}

func NewStore(initial State) *Store {
	return &Store{state: initial.clone()}
}

// Snapshot returns a copy of the fully merged record.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.clone()
}

// Merge validates cmd and overwrites every field it carries. An invalid
// command leaves the record untouched. The merged record is returned.
func (s *Store) Merge(cmd Command) (State, error) {
	if err := cmd.Validate(); err != nil {
		return s.Snapshot(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := &s.state
	if cmd.Mode != nil {
		m, _ := motor.ParseMode(*cmd.Mode)
		st.Mode = m
	}
	if cmd.Power != nil {
		st.Power = clamp(*cmd.Power, 0, motor.MaxPower)
	}
	if cmd.GrayscaleReport != nil {
		st.GrayscaleReport = *cmd.GrayscaleReport
	}
	if cmd.LineFollow != nil {
		cmd.LineFollow.apply(&st.LineFollow)
	}
	if cmd.EdgeGuard != nil {
		cmd.EdgeGuard.apply(&st.EdgeGuard)
	}
	if cmd.Diagnostics != nil {
		st.Diagnostics = *cmd.Diagnostics
	}
	if cmd.ResetRequested != nil {
		st.ResetRequested = *cmd.ResetRequested
	}
	if o := cmd.ManualOverride; o != nil {
		if o.enabled() {
			st.Override = &ManualOverride{
				Wheel: o.Wheel,
				Power: clamp(o.Power, -motor.MaxPower, motor.MaxPower),
			}
		} else {
			st.Override = nil
		}
	}

	return st.clone(), nil
}

// TakeReset reports whether a reset was requested and clears the flag.
func (s *Store) TakeReset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	requested := s.state.ResetRequested
	s.state.ResetRequested = false

	return requested
}

func clamp(value, minValue, maxValue int) int {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}

	return value
}
