package state_test

import (
	"sync"
	"testing"

	"codeberg.org/mutker/picarctl/internal/errors"
	"codeberg.org/mutker/picarctl/internal/motor"
	"codeberg.org/mutker/picarctl/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestDefaults(t *testing.T) {
	st := state.Defaults(150, 400, 110)

	assert.Equal(t, motor.Stop, st.Mode)
	assert.Equal(t, motor.MaxPower, st.Power)
	assert.Equal(t, state.Behavior{Threshold: 400}, st.LineFollow)
	assert.Equal(t, state.Behavior{Threshold: 110}, st.EdgeGuard)
	assert.Nil(t, st.Override)
}

func TestMergeOnlyPresentFields(t *testing.T) {
	store := state.NewStore(state.Defaults(50, 400, 110))

	st, err := store.Merge(state.Command{
		Mode:      ptr("forward"),
		EdgeGuard: &state.BehaviorUpdate{Enabled: ptr(true)},
	})
	require.NoError(t, err)

	assert.Equal(t, motor.Forward, st.Mode)
	assert.Equal(t, 50, st.Power)
	assert.Equal(t, state.Behavior{Enabled: true, Threshold: 110}, st.EdgeGuard)
	assert.Equal(t, st, store.Snapshot())
}

func TestMergeClampsPower(t *testing.T) {
	store := state.NewStore(state.Defaults(50, 400, 110))

	st, err := store.Merge(state.Command{Power: ptr(250)})
	require.NoError(t, err)
	assert.Equal(t, motor.MaxPower, st.Power)
}

func TestMergeRejectsKeepPriorState(t *testing.T) {
	store := state.NewStore(state.Defaults(50, 400, 110))
	before := store.Snapshot()

	_, err := store.Merge(state.Command{Power: ptr(-5), Mode: ptr("forward")})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))

	_, err = store.Merge(state.Command{LineFollow: &state.BehaviorUpdate{Threshold: ptr(-1)}})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))

	_, err = store.Merge(state.Command{ManualOverride: &state.OverrideUpdate{Wheel: 5, Power: 10}})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidCommand))

	_, err = store.Merge(state.Command{Mode: ptr("hover")})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidCommand))

	assert.Equal(t, before, store.Snapshot())
}

func TestOverrideSetAndClear(t *testing.T) {
	store := state.NewStore(state.Defaults(50, 400, 110))

	st, err := store.Merge(state.Command{ManualOverride: &state.OverrideUpdate{Wheel: motor.RearLeft, Power: -120}})
	require.NoError(t, err)
	require.NotNil(t, st.Override)
	assert.Equal(t, state.ManualOverride{Wheel: motor.RearLeft, Power: -motor.MaxPower}, *st.Override)

	st, err = store.Merge(state.Command{ManualOverride: &state.OverrideUpdate{Enabled: ptr(false)}})
	require.NoError(t, err)
	assert.Nil(t, st.Override)
}

func TestSnapshotIsACopy(t *testing.T) {
	store := state.NewStore(state.Defaults(50, 400, 110))
	_, err := store.Merge(state.Command{ManualOverride: &state.OverrideUpdate{Wheel: motor.FrontLeft, Power: 10}})
	require.NoError(t, err)

	snap := store.Snapshot()
	snap.Override.Power = 99

	assert.Equal(t, 10, store.Snapshot().Override.Power)
}

func TestTakeResetIsOneShot(t *testing.T) {
	store := state.NewStore(state.Defaults(50, 400, 110))
	assert.False(t, store.TakeReset())

	_, err := store.Merge(state.Command{ResetRequested: ptr(true)})
	require.NoError(t, err)

	assert.True(t, store.TakeReset())
	assert.False(t, store.TakeReset())
	assert.False(t, store.Snapshot().ResetRequested)
}

func TestConcurrentMergeNeverTorn(t *testing.T) {
	store := state.NewStore(state.Defaults(50, 400, 110))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			// Threshold always equals power in every command.
			_, _ = store.Merge(state.Command{
				Power:      ptr(i),
				LineFollow: &state.BehaviorUpdate{Threshold: ptr(i)},
			})
		}(i)
		go func() {
			defer wg.Done()
			st := store.Snapshot()
			if st.LineFollow.Threshold != 400 {
				assert.Equal(t, st.Power, st.LineFollow.Threshold)
			}
		}()
	}
	wg.Wait()
}

func TestDecodeCommand(t *testing.T) {
	cmd, err := state.DecodeCommand([]byte(`{"mode":"turn-left","power":30,"line_follow":{"enabled":true,"threshold":400},"manual_override":{"wheel_id":2,"power":-40}}`))
	require.NoError(t, err)

	require.NotNil(t, cmd.Mode)
	assert.Equal(t, "turn-left", *cmd.Mode)
	assert.Equal(t, 30, *cmd.Power)
	assert.True(t, *cmd.LineFollow.Enabled)
	assert.Equal(t, 400, *cmd.LineFollow.Threshold)
	assert.Equal(t, motor.FrontRight, cmd.ManualOverride.Wheel)
	assert.True(t, cmd.HasDrive())
	assert.Nil(t, cmd.EdgeGuard)
}

func TestDecodeCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		code errors.ErrorCode
	}{
		{"unknown field", `{"speed":10}`, errors.ErrInvalidCommand},
		{"malformed json", `{"mode":`, errors.ErrInvalidCommand},
		{"unknown wheel", `{"manual_override":{"wheel_id":0,"power":10}}`, errors.ErrInvalidCommand},
		{"string power", `{"power":"fast"}`, errors.ErrInvalidConfig},
		{"float threshold", `{"edge_guard":{"threshold":1.5}}`, errors.ErrInvalidConfig},
		{"negative power", `{"power":-1}`, errors.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := state.DecodeCommand([]byte(tt.data))
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}
