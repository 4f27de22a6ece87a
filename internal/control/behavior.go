package control

import (
	"context"
	"time"

	"codeberg.org/mutker/picarctl/internal/classify"
	"codeberg.org/mutker/picarctl/internal/grayscale"
	"codeberg.org/mutker/picarctl/internal/motor"
	"codeberg.org/mutker/picarctl/internal/state"
)

// Behavior is one level of the loop's priority order. The first behavior
// whose Claim returns true acts for the tick; later ones are skipped. New
// behaviors must be slotted into that order, not run alongside it.
//
// An exclusive behavior runs as a Guard maneuver: operator commands cannot
// reach the wheels until it returns.
type Behavior interface {
	Name() string
	Exclusive() bool
	Claim(st state.State, r grayscale.Reading) bool
	Act(ctx context.Context, d Driver, st state.State, r grayscale.Reading) error
}

// LineLostPolicy decides what line following does when no channel sees the line.
type LineLostPolicy string

const (
	LineLostForward LineLostPolicy = "forward"
	LineLostStop    LineLostPolicy = "stop"
)

type edgeGuard struct {
	power    int
	duration time.Duration
	wait     func(ctx context.Context, d time.Duration) error
	current  func() state.State
}

func (edgeGuard) Name() string { return "edge_guard" }

func (edgeGuard) Exclusive() bool { return true }

func (edgeGuard) Claim(st state.State, r grayscale.Reading) bool {
	return st.EdgeGuard.Enabled && classify.IsEdge(st.EdgeGuard.Threshold, r)
}

// Act backs away from the edge, then stops. The manual override is
// preempted for the length of the maneuver and pinned again afterwards,
// using whatever override is current by then.
func (g edgeGuard) Act(ctx context.Context, d Driver, _ state.State, _ grayscale.Reading) error {
	if err := d.Drive(motor.Backward, g.power); err != nil {
		return err
	}
	if err := g.wait(ctx, g.duration); err != nil {
		return err
	}

	return drive(d, motor.Stop, 0, g.current().Override)
}

type lineFollow struct {
	lost LineLostPolicy
}

func (lineFollow) Name() string { return "line_follow" }

func (lineFollow) Exclusive() bool { return false }

func (lineFollow) Claim(st state.State, _ grayscale.Reading) bool {
	return st.LineFollow.Enabled
}

func (f lineFollow) Act(_ context.Context, d Driver, st state.State, r grayscale.Reading) error {
	return drive(d, f.steer(classify.Line(st.LineFollow.Threshold, r)), st.Power, st.Override)
}

func (f lineFollow) steer(status classify.LineStatus) motor.Mode {
	switch status {
	case classify.Center:
		return motor.Forward
	case classify.Left:
		return motor.TurnLeft
	case classify.Right:
		return motor.TurnRight
	default:
		if f.lost == LineLostStop {
			return motor.Stop
		}
		return motor.Forward
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
