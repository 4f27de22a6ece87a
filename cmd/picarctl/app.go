package main

import (
	"context"
	"time"

	"codeberg.org/mutker/picarctl/internal/bus"
	"codeberg.org/mutker/picarctl/internal/config"
	"codeberg.org/mutker/picarctl/internal/control"
	"codeberg.org/mutker/picarctl/internal/diagnostics"
	"codeberg.org/mutker/picarctl/internal/errors"
	"codeberg.org/mutker/picarctl/internal/grayscale"
	"codeberg.org/mutker/picarctl/internal/hat"
	"codeberg.org/mutker/picarctl/internal/logger"
	"codeberg.org/mutker/picarctl/internal/metrics"
	"codeberg.org/mutker/picarctl/internal/motor"
	"codeberg.org/mutker/picarctl/internal/mqttlink"
	"codeberg.org/mutker/picarctl/internal/pid"
	"codeberg.org/mutker/picarctl/internal/speed"
	"codeberg.org/mutker/picarctl/internal/state"
	"codeberg.org/mutker/picarctl/internal/telemetry"
	"codeberg.org/mutker/picarctl/internal/transport"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
)

// app owns every long-lived component of one controller run.
type app struct {
	cfg       *config.Config
	log       logger.Logger
	bus       i2c.BusCloser
	arbiter   *motor.Arbiter
	loop      *control.Loop
	publisher *telemetry.Publisher
	server    *transport.Server
	history   metrics.Recorder
	link      *mqttlink.Link
	counters  []*speed.Counter
	runners   []func(ctx context.Context) error
}

// newApp builds the controller. On error the returned app holds whatever
// was opened so far and must still be cleaned up.
func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, log: logger.Default()}

	b, err := bus.Open(cfg.I2C.Bus)
	if err != nil {
		return a, err
	}
	a.bus = b
	shared := bus.NewLocked(b)

	addrs := make([]uint16, len(cfg.Grayscale.Addresses))
	for i, addr := range cfg.Grayscale.Addresses {
		addrs[i] = uint16(addr)
	}
	array, err := grayscale.NewArray(shared, cfg.Grayscale.Channels, addrs)
	if err != nil {
		return a, err
	}
	a.log.Info().
		Str("bus", shared.String()).
		Strs("channels", cfg.Grayscale.Channels).
		Msg("Grayscale array ready")

	motors, err := newMotors(shared, uint16(cfg.Motors.Address))
	if err != nil {
		return a, err
	}
	a.arbiter = motor.NewArbiter(motors, motor.Reversal{
		motor.FrontLeft:  cfg.Motors.LeftFrontReverse,
		motor.FrontRight: cfg.Motors.RightFrontReverse,
		motor.RearLeft:   cfg.Motors.LeftRearReverse,
		motor.RearRight:  cfg.Motors.RightRearReverse,
	})

	resetPin, err := lookupPin(cfg.Reset.Pin)
	if err != nil {
		return a, err
	}

	store := state.NewStore(initialState(cfg))
	latest := &grayscale.Latest{}

	guard := control.NewGuard(a.arbiter)
	ingest := control.NewIngest(store, guard, hat.NewResetter(resetPin), a.log)
	a.loop = control.NewLoop(store, array, guard, latest, loopConfig(cfg), a.log)

	if a.server, err = transport.NewServer(transport.Config{
		ControlAddr:   cfg.Server.ControlAddr,
		TelemetryAddr: cfg.Server.TelemetryAddr,
		WriteTimeout:  cfg.Server.WriteTimeout,
		SendQueue:     transport.DefaultConfig().SendQueue,
		MaxMessage:    transport.DefaultConfig().MaxMessage,
	}, ingest, a.log); err != nil {
		return a, err
	}
	listeners, err := a.server.Listen()
	if err != nil {
		return a, err
	}
	a.runners = append(a.runners, func(ctx context.Context) error {
		return a.server.Run(ctx, listeners)
	})
	sinks := []telemetry.Sink{a.server.Hub()}

	if cfg.MQTT.Enabled {
		if a.link, err = mqttlink.New(mqttlink.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			CommandTopic:   cfg.MQTT.CommandTopic,
			TelemetryTopic: cfg.MQTT.TelemetryTopic,
			QoS:            byte(cfg.MQTT.QoS),
			Timeout:        cfg.MQTT.Timeout,
			RetryInterval:  mqttlink.DefaultConfig().RetryInterval,
		}, ingest, a.log); err != nil {
			return a, err
		}
		a.runners = append(a.runners, a.link.Run)
		sinks = append(sinks, a.link)
	}

	if a.history, err = metrics.NewService(metrics.Config{
		DBPath:         cfg.Metrics.DBPath,
		BackupDir:      cfg.Metrics.BackupDir,
		Enabled:        cfg.Metrics.Enabled,
		BatchSize:      cfg.Metrics.BatchSize,
		BatchTimeout:   cfg.Metrics.BatchTimeout,
		SampleInterval: cfg.Metrics.SampleInterval,
	}, a.log); err != nil {
		return a, err
	}
	sinks = append(sinks, a.history)

	left, right, err := a.speedReaders()
	if err != nil {
		return a, err
	}

	diagCfg := diagnostics.DefaultConfig()
	diagCfg.Disk = cfg.Diagnostics.Disk
	diagCfg.Interval = cfg.Diagnostics.Interval
	diag := diagnostics.NewSampler(diagCfg)
	if report, err := diag.Report(); err == nil {
		a.log.Info().
			Float64("cpu_temperature", report.CPUTemperature).
			Str("ram", report.RAM.String()).
			Str("disk", report.Disk.String()).
			Msg("Host diagnostics")
	}

	a.publisher, err = telemetry.NewPublisher(
		telemetry.Config{Interval: cfg.Telemetry.Interval},
		store, left, right, latest, a.log,
		telemetry.WithDiagnoser(diag),
		telemetry.WithSinks(sinks...),
	)
	if err != nil {
		return a, err
	}

	return a, nil
}

func newMotors(b hat.Writer, addr uint16) (*hat.Motors, error) {
	ports := make(map[motor.Wheel]hat.Port)
	for w, pc := range hat.DefaultPorts() {
		pwm, err := hat.NewPWM(b, addr, pc.PWMChannel)
		if err != nil {
			return nil, err
		}
		dir, err := lookupPin(pc.DirPin)
		if err != nil {
			return nil, err
		}
		ports[w] = hat.Port{PWM: pwm, Dir: dir}
	}

	return hat.NewMotors(ports)
}

func lookupPin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.New().WithData(errors.ErrDeviceNotFound, struct {
			Pin string
		}{
			Pin: name,
		})
	}

	return p, nil
}

func (a *app) speedReaders() (telemetry.SpeedReader, telemetry.SpeedReader, error) {
	if !a.cfg.Speed.Enabled {
		return speed.Fixed(0), speed.Fixed(0), nil
	}

	cfg := speed.Config{
		Window:        a.cfg.Speed.Window,
		Slots:         a.cfg.Speed.Slots,
		WheelDiameter: a.cfg.Speed.WheelDiameter,
	}

	for _, w := range []struct{ name, pin string }{
		{motor.RearLeft.String(), a.cfg.Speed.LeftRearPin},
		{motor.RearRight.String(), a.cfg.Speed.RightRearPin},
	} {
		p, err := lookupPin(w.pin)
		if err != nil {
			return nil, nil, err
		}
		c, err := speed.NewCounter(w.name, p, cfg, a.log)
		if err != nil {
			return nil, nil, err
		}
		a.counters = append(a.counters, c)
		a.runners = append(a.runners, c.Run)
	}

	return a.counters[0], a.counters[1], nil
}

func initialState(cfg *config.Config) state.State {
	st := state.Defaults(cfg.Control.Power, cfg.Control.LineThreshold, cfg.Control.EdgeThreshold)
	st.LineFollow.Enabled = cfg.Control.LineFollow
	st.EdgeGuard.Enabled = cfg.Control.EdgeGuard
	st.GrayscaleReport = cfg.Telemetry.GrayscaleReport
	st.Diagnostics = cfg.Telemetry.Diagnostics

	return st
}

func loopConfig(cfg *config.Config) control.LoopConfig {
	return control.LoopConfig{
		EvadePower:    cfg.Evade.Power,
		EvadeDuration: cfg.Evade.Duration,
		LineLost:      control.LineLostPolicy(cfg.Control.LineLost),
		TickInterval:  cfg.Control.TickInterval,
		TickBudget:    cfg.Control.TickBudget,
		ErrorBackoff:  cfg.Control.ErrorBackoff,
	}
}

// run blocks until ctx is done or a component fails.
func (a *app) run(ctx context.Context) error {
	a.log.Info().
		Int("power", a.cfg.Control.Power).
		Bool("line_follow", a.cfg.Control.LineFollow).
		Bool("edge_guard", a.cfg.Control.EdgeGuard).
		Msg("picarctl started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.loop.Run(gctx) })
	g.Go(func() error { return a.publisher.Run(gctx) })
	for _, run := range a.runners {
		g.Go(func() error { return run(gctx) })
	}

	return g.Wait()
}

// cleanup zeroes the wheels as the terminal action, then releases storage,
// the bus and the PID file.
func (a *app) cleanup() {
	if a.arbiter != nil {
		if err := a.arbiter.Halt(); err != nil {
			logError(err, "Failed to stop motors")
		}
	}

	if a.history != nil {
		if err := a.history.Close(); err != nil {
			logError(err, "Failed to close telemetry history")
		}
	}

	if a.bus != nil {
		// Let in-flight HAT writes settle before the bus goes away.
		time.Sleep(10 * time.Millisecond)
		if err := a.bus.Close(); err != nil {
			logError(errors.New().Wrap(errors.ErrShutdownFailed, err), "Failed to close I2C bus")
		}
	}

	if err := pid.Remove(a.cfg.PIDDir); err != nil {
		logError(err, "Failed to remove PID file")
	}

	logger.Info().Msg("Exiting...")
}
