// Package mqttlink mirrors the command and telemetry channels onto an MQTT
// broker.
package mqttlink

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/picarctl/internal/errors"
	"codeberg.org/mutker/picarctl/internal/logger"
	"codeberg.org/mutker/picarctl/internal/telemetry"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	ErrInvalidConfig = errors.ErrorCode("mqtt_invalid_config")
	ErrConnect       = errors.ErrorCode("mqtt_connect_failed")
	ErrNotConnected  = errors.ErrorCode("mqtt_not_connected")
	ErrPublish       = errors.ErrorCode("mqtt_publish_failed")
	ErrSubscribe     = errors.ErrorCode("mqtt_subscribe_failed")
)

const (
	defaultBroker         = "tcp://localhost:1883"
	defaultClientID       = "picarctl"
	defaultCommandTopic   = "picar/picarctl/command"
	defaultTelemetryTopic = "picar/picarctl/telemetry"
	defaultTimeout        = time.Second
	defaultRetryInterval  = 5 * time.Second
	disconnectQuiesce     = 250 // ms
)

type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	CommandTopic   string
	TelemetryTopic string
	QoS            byte
	Timeout        time.Duration
	RetryInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Broker:         defaultBroker,
		ClientID:       defaultClientID,
		CommandTopic:   defaultCommandTopic,
		TelemetryTopic: defaultTelemetryTopic,
		Timeout:        defaultTimeout,
		RetryInterval:  defaultRetryInterval,
	}
}

func (c Config) Validate() error {
	if c.Broker == "" || c.CommandTopic == "" || c.TelemetryTopic == "" || c.QoS > 2 || c.Timeout <= 0 || c.RetryInterval <= 0 {
		return errors.New().WithData(ErrInvalidConfig, struct {
			Broker         string
			CommandTopic   string
			TelemetryTopic string
			QoS            byte
		}{
			Broker:         c.Broker,
			CommandTopic:   c.CommandTopic,
			TelemetryTopic: c.TelemetryTopic,
			QoS:            c.QoS,
		})
	}

	return nil
}

// Handler consumes one raw inbound command.
type Handler interface {
	HandleMessage(ctx context.Context, data []byte) error
}

// Link publishes telemetry frames and feeds command messages to a Handler.
// It implements telemetry.Sink.
type Link struct {
	cfg     Config
	client  mqtt.Client
	handler Handler
	logger  logger.Logger

	mu  sync.Mutex
	ctx context.Context
}

// New builds a Link with a paho client for cfg. It does not connect; Run does.
func New(cfg Config, handler Handler, log logger.Logger) (*Link, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Link{cfg: cfg, handler: handler, logger: log, ctx: context.Background()}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
		if err := l.subscribe(c); err != nil {
			log.Error().Err(err).Msg("Failed to subscribe to command topic")
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	l.client = mqtt.NewClient(opts)

	return l, nil
}

// NewWithClient builds a Link around an existing client. The caller is
// responsible for subscribing on reconnect.
func NewWithClient(cfg Config, client mqtt.Client, handler Handler, log logger.Logger) (*Link, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Link{cfg: cfg, client: client, handler: handler, logger: log, ctx: context.Background()}, nil
}

func (l *Link) Name() string {
	return "mqtt"
}

// Publish sends frame to the telemetry topic. It fails fast while the
// broker is unreachable.
func (l *Link) Publish(_ context.Context, frame *telemetry.Frame) error {
	errFactory := errors.New()

	if !l.client.IsConnectionOpen() {
		return errFactory.New(ErrNotConnected)
	}

	data, err := frame.Encode()
	if err != nil {
		return errFactory.Wrap(telemetry.ErrEncode, err)
	}

	token := l.client.Publish(l.cfg.TelemetryTopic, l.cfg.QoS, false, data)
	if !token.WaitTimeout(l.cfg.Timeout) {
		return errFactory.WithMessage(errors.ErrTimeout, "publish to "+l.cfg.TelemetryTopic)
	}
	if err := token.Error(); err != nil {
		return errFactory.Wrap(ErrPublish, err)
	}

	return nil
}

func (l *Link) subscribe(c mqtt.Client) error {
	token := c.Subscribe(l.cfg.CommandTopic, l.cfg.QoS, l.onMessage)
	if !token.WaitTimeout(l.cfg.Timeout) {
		return errors.New().WithMessage(errors.ErrTimeout, "subscribe to "+l.cfg.CommandTopic)
	}
	if err := token.Error(); err != nil {
		return errors.New().Wrap(ErrSubscribe, err)
	}
	l.logger.Debug().Str("topic", l.cfg.CommandTopic).Msg("Subscribed to command topic")

	return nil
}

func (l *Link) onMessage(_ mqtt.Client, msg mqtt.Message) {
	l.mu.Lock()
	ctx := l.ctx
	l.mu.Unlock()

	// Rejected commands are logged by the handler.
	_ = l.handler.HandleMessage(ctx, msg.Payload())
}

// Run connects, retrying until ctx is done, subscribes to the command topic
// and disconnects when ctx is done.
func (l *Link) Run(ctx context.Context) error {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()

	if l.connect(ctx) != nil {
		return nil
	}
	defer func() {
		l.client.Disconnect(disconnectQuiesce)
		l.logger.Info().Msg("MQTT disconnected")
	}()

	if err := l.subscribe(l.client); err != nil {
		l.logger.Error().Err(err).Msg("Failed to subscribe to command topic")
	}

	<-ctx.Done()

	return nil
}

func (l *Link) connect(ctx context.Context) error {
	for {
		token := l.client.Connect()
		if token.WaitTimeout(l.cfg.Timeout) && token.Error() == nil {
			return nil
		}

		err := token.Error()
		if err == nil {
			err = errors.New().WithMessage(errors.ErrTimeout, "connect to "+l.cfg.Broker)
		}
		l.logger.WarnWithCode(errors.New().Wrap(ErrConnect, err)).
			Dur("retry_in", l.cfg.RetryInterval).
			Msg("Failed to connect to MQTT broker")

		timer := time.NewTimer(l.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
