package telemetry_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/picarctl/internal/diagnostics"
	"codeberg.org/mutker/picarctl/internal/grayscale"
	"codeberg.org/mutker/picarctl/internal/logger"
	"codeberg.org/mutker/picarctl/internal/state"
	"codeberg.org/mutker/picarctl/internal/telemetry"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSpeed float64

func (s fixedSpeed) Speed() float64 { return float64(s) }

type fakeDiagnoser struct {
	calls int
}

func (d *fakeDiagnoser) Report() (diagnostics.Report, error) {
	d.calls++
	return diagnostics.Report{CPUTemperature: 51.2, CPUUsage: 12.5}, nil
}

type recordingSink struct {
	name string
	err  error

	mu     sync.Mutex
	frames []*telemetry.Frame
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, f *telemetry.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func ptr[T any](v T) *T { return &v }

type fixture struct {
	store  *state.Store
	latest *grayscale.Latest
	diag   *fakeDiagnoser
	pub    *telemetry.Publisher
}

func newFixture(t *testing.T, sinks ...telemetry.Sink) *fixture {
	t.Helper()

	f := &fixture{
		store:  state.NewStore(state.Defaults(50, 400, 110)),
		latest: &grayscale.Latest{},
		diag:   &fakeDiagnoser{},
	}
	clock := func() time.Time { return time.UnixMilli(1_700_000_000_250) }

	var err error
	f.pub, err = telemetry.NewPublisher(
		telemetry.DefaultConfig(), f.store, fixedSpeed(10), fixedSpeed(30), f.latest, logger.Default(),
		telemetry.WithDiagnoser(f.diag),
		telemetry.WithSinks(sinks...),
		telemetry.WithClock(clock),
	)
	require.NoError(t, err)

	return f
}

func decode(t *testing.T, frame *telemetry.Frame) map[string]any {
	t.Helper()
	data, err := frame.Encode()
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestFrameSpeedIsRearMean(t *testing.T) {
	f := newFixture(t)

	frame := f.pub.Build()
	assert.InDelta(t, 20.0, frame.Speed, 1e-9)
	assert.InDelta(t, 1_700_000_000.25, frame.Timestamp, 1e-6)
	assert.Equal(t, time.UnixMilli(1_700_000_000_250), frame.Time().Round(time.Millisecond))
}

func TestDisabledPartsAreAbsent(t *testing.T) {
	f := newFixture(t)
	f.latest.Store(grayscale.Reading{1, 2, 3})

	out := decode(t, f.pub.Build())

	assert.Contains(t, out, "speed")
	assert.Contains(t, out, "timestamp")
	assert.NotContains(t, out, "sensors")
	assert.NotContains(t, out, "diagnostics")
	assert.Zero(t, f.diag.calls)
}

func TestEnabledPartsArePresent(t *testing.T) {
	f := newFixture(t)
	f.latest.Store(grayscale.Reading{1, 2, 3})
	_, err := f.store.Merge(state.Command{GrayscaleReport: ptr(true), Diagnostics: ptr(true)})
	require.NoError(t, err)

	frame := f.pub.Build()
	require.NotNil(t, frame.Sensors)
	require.NotNil(t, frame.Diagnostics)
	assert.Equal(t, grayscale.Reading{1, 2, 3}, *frame.Sensors)

	out := decode(t, frame)
	want := map[string]any{
		"speed":     20.0,
		"timestamp": 1_700_000_000.25,
		"sensors":   []any{1.0, 2.0, 3.0},
		"diagnostics": map[string]any{
			"cpu_temperature": 51.2,
			"cpu_usage":       12.5,
			"ram":             map[string]any{"total": 0.0, "used": 0.0, "percent": 0.0},
			"disk":            map[string]any{"total": 0.0, "used": 0.0, "percent": 0.0},
		},
	}
	assert.Empty(t, cmp.Diff(want, out))
}

func TestSensorsOmittedBeforeFirstReading(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Merge(state.Command{GrayscaleReport: ptr(true)})
	require.NoError(t, err)

	assert.NotContains(t, decode(t, f.pub.Build()), "sensors")
}

func TestSinkFailureDoesNotStopOthers(t *testing.T) {
	broken := &recordingSink{name: "broken", err: stderrors.New("disconnected")}
	healthy := &recordingSink{name: "healthy"}
	f := newFixture(t, broken, healthy)

	f.pub.Publish(context.Background())
	f.pub.Publish(context.Background())

	assert.Equal(t, 2, broken.count())
	assert.Equal(t, 2, healthy.count())
}

func TestRunPublishesUntilCancelled(t *testing.T) {
	sink := &recordingSink{name: "rec"}
	f := newFixture(t, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.pub.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.count() >= 5 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop")
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, telemetry.DefaultConfig().Validate())
	assert.Error(t, telemetry.Config{}.Validate())
}
