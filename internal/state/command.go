package state

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"strings"

	"codeberg.org/mutker/picarctl/internal/errors"
	"codeberg.org/mutker/picarctl/internal/grayscale"
	"codeberg.org/mutker/picarctl/internal/motor"
)

// BehaviorUpdate is a partial update of a Behavior.
type BehaviorUpdate struct {
	Enabled   *bool `json:"enabled,omitempty"`
	Threshold *int  `json:"threshold,omitempty"`
}

func (u *BehaviorUpdate) apply(b *Behavior) {
	if u.Enabled != nil {
		b.Enabled = *u.Enabled
	}
	if u.Threshold != nil {
		b.Threshold = *u.Threshold
	}
}

// OverrideUpdate sets or, with enabled=false, clears the manual override.
// An omitted enabled field means set.
type OverrideUpdate struct {
	Enabled *bool       `json:"enabled,omitempty"`
	Wheel   motor.Wheel `json:"wheel_id"`
	Power   int         `json:"power"`
}

func (u *OverrideUpdate) enabled() bool {
	return u.Enabled == nil || *u.Enabled
}

// Command is a partial update of the control record. Nil fields are left
// as they are.
type Command struct {
	Mode            *string         `json:"mode,omitempty"`
	Power           *int            `json:"power,omitempty"`
	GrayscaleReport *bool           `json:"grayscale_report_enabled,omitempty"`
	LineFollow      *BehaviorUpdate `json:"line_follow,omitempty"`
	EdgeGuard       *BehaviorUpdate `json:"edge_guard,omitempty"`
	ManualOverride  *OverrideUpdate `json:"manual_override,omitempty"`
	ResetRequested  *bool           `json:"reset_requested,omitempty"`
	Diagnostics     *bool           `json:"diagnostics_enabled,omitempty"`
}

// HasDrive reports whether the command carries a drive intent.
func (c Command) HasDrive() bool {
	return c.Mode != nil || c.Power != nil
}

// Validate classifies a bad command: unknown mode or wheel is
// invalid_command, a bad power or threshold is invalid_configuration.
func (c Command) Validate() error {
	errFactory := errors.New()

	if c.Mode != nil {
		if _, err := motor.ParseMode(*c.Mode); err != nil {
			return errFactory.WithData(errors.ErrInvalidCommand, err.Error())
		}
	}
	if c.Power != nil && *c.Power < 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "power must not be negative")
	}
	for name, u := range map[string]*BehaviorUpdate{"line_follow": c.LineFollow, "edge_guard": c.EdgeGuard} {
		if u != nil && u.Threshold != nil && (*u.Threshold < 0 || *u.Threshold > grayscale.MaxValue) {
			return errFactory.WithMessage(errors.ErrInvalidConfig, name+" threshold out of range")
		}
	}
	if o := c.ManualOverride; o != nil && o.enabled() && !o.Wheel.Valid() {
		return errFactory.WithData(errors.ErrInvalidCommand, struct {
			Wheel int
		}{
			Wheel: int(o.Wheel),
		})
	}

	return nil
}

// DecodeCommand parses one inbound JSON message. Unknown fields are rejected.
func DecodeCommand(data []byte) (Command, error) {
	errFactory := errors.New()

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var cmd Command
	if err := dec.Decode(&cmd); err != nil {
		var typeErr *json.UnmarshalTypeError
		if stderrors.As(err, &typeErr) && isValueField(typeErr.Field) {
			return Command{}, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
		return Command{}, errFactory.Wrap(errors.ErrInvalidCommand, err)
	}

	return cmd, cmd.Validate()
}

func isValueField(field string) bool {
	return strings.HasSuffix(field, "power") || strings.HasSuffix(field, "threshold")
}
