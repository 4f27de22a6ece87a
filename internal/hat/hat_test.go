package hat_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"codeberg.org/mutker/picarctl/internal/errors"
	"codeberg.org/mutker/picarctl/internal/hat"
	"codeberg.org/mutker/picarctl/internal/motor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

type write struct {
	addr uint16
	data []byte
}

type fakeBus struct {
	mu     sync.Mutex
	writes []write
	err    error
}

func (b *fakeBus) Tx(addr uint16, w, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.writes = append(b.writes, write{addr: addr, data: append([]byte(nil), w...)})
	return nil
}

func (b *fakeBus) last() write {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes[len(b.writes)-1]
}

func (b *fakeBus) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = nil
}

// levelPin records every level written to it.
type levelPin struct {
	gpiotest.Pin
	levels []gpio.Level
}

func (p *levelPin) Out(l gpio.Level) error {
	p.levels = append(p.levels, l)
	return p.Pin.Out(l)
}

func TestPWMRegisters(t *testing.T) {
	b := &fakeBus{}
	p, err := hat.NewPWM(b, hat.DefaultAddress, 13)
	require.NoError(t, err)

	require.NoError(t, p.Period(4095))
	require.NoError(t, p.Prescaler(10))
	require.NoError(t, p.PulseWidthPercent(50))

	assert.Equal(t, []write{
		{addr: 0x14, data: []byte{0x44 + 3, 0x0F, 0xFF}},
		{addr: 0x14, data: []byte{0x40 + 3, 0x00, 0x0A}},
		{addr: 0x14, data: []byte{0x20 + 13, 0x07, 0xFF}},
	}, b.writes)
}

func TestPWMRejectsBadChannel(t *testing.T) {
	_, err := hat.NewPWM(&fakeBus{}, hat.DefaultAddress, 20)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
}

func TestPWMBusError(t *testing.T) {
	b := &fakeBus{err: stderrors.New("nack")}
	p, err := hat.NewPWM(b, hat.DefaultAddress, 0)
	require.NoError(t, err)

	assert.True(t, errors.HasCode(p.PulseWidth(1), errors.ErrBusIO))
}

func TestDuty(t *testing.T) {
	assert.Equal(t, 0, hat.Duty(0))
	assert.Equal(t, 50, hat.Duty(1))
	assert.Equal(t, 75, hat.Duty(50))
	assert.Equal(t, 100, hat.Duty(100))
	assert.Equal(t, 100, hat.Duty(250))
}

func newMotors(t *testing.T, b *fakeBus) (*hat.Motors, map[motor.Wheel]*gpiotest.Pin) {
	t.Helper()

	pins := make(map[motor.Wheel]*gpiotest.Pin)
	ports := make(map[motor.Wheel]hat.Port)
	for w, cfg := range hat.DefaultPorts() {
		pwm, err := hat.NewPWM(b, hat.DefaultAddress, cfg.PWMChannel)
		require.NoError(t, err)
		pins[w] = &gpiotest.Pin{N: cfg.DirPin}
		ports[w] = hat.Port{PWM: pwm, Dir: pins[w]}
	}

	m, err := hat.NewMotors(ports)
	require.NoError(t, err)

	return m, pins
}

func TestMotorsSetPower(t *testing.T) {
	b := &fakeBus{}
	m, pins := newMotors(t, b)
	b.reset()

	require.NoError(t, m.SetPower(motor.RearRight, -60))
	assert.Equal(t, gpio.Low, pins[motor.RearRight].Read())
	// 80% of 4095
	assert.Equal(t, write{addr: 0x14, data: []byte{0x20 + 9, 0x0C, 0xCC}}, b.last())

	require.NoError(t, m.SetPower(motor.RearRight, 0))
	assert.Equal(t, gpio.High, pins[motor.RearRight].Read())
	assert.Equal(t, write{addr: 0x14, data: []byte{0x20 + 9, 0x00, 0x00}}, b.last())
}

func TestMotorsRequireAllPorts(t *testing.T) {
	_, err := hat.NewMotors(map[motor.Wheel]hat.Port{})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
}

func TestMotorsDriveThroughArbiter(t *testing.T) {
	b := &fakeBus{}
	m, pins := newMotors(t, b)

	arb := motor.NewArbiter(m, motor.Reversal{motor.FrontLeft: true})
	require.NoError(t, arb.Drive(motor.Forward, 40))

	assert.Equal(t, gpio.Low, pins[motor.FrontLeft].Read(), "reversed wheel")
	assert.Equal(t, gpio.High, pins[motor.FrontRight].Read())
}

func TestResetPulsesLow(t *testing.T) {
	pin := &levelPin{Pin: gpiotest.Pin{N: "GPIO5"}}
	r := hat.NewResetter(pin)

	require.NoError(t, r.Reset(context.Background()))
	assert.Equal(t, []gpio.Level{gpio.Low, gpio.High}, pin.levels)
}

func TestResetReleasesLineOnCancel(t *testing.T) {
	pin := &levelPin{Pin: gpiotest.Pin{N: "GPIO5"}}
	r := hat.NewResetter(pin)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, r.Reset(ctx))
	assert.Equal(t, []gpio.Level{gpio.Low, gpio.High}, pin.levels)
}
