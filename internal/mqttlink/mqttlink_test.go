package mqttlink_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/picarctl/internal/errors"
	"codeberg.org/mutker/picarctl/internal/logger"
	"codeberg.org/mutker/picarctl/internal/mqttlink"
	"codeberg.org/mutker/picarctl/internal/telemetry"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type token struct {
	err  error
	done chan struct{}
}

func newToken(err error) *token {
	t := &token{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return t.done }
func (t *token) Error() error                   { return t.err }

type message struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m message) Topic() string   { return m.topic }
func (m message) Payload() []byte { return m.payload }

type published struct {
	topic   string
	payload []byte
}

// fakeClient implements the parts of mqtt.Client the link uses.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	connected    bool
	connectErrs  []error
	connects     int
	published    []published
	handlers     map[string]mqtt.MessageHandler
	disconnected bool
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		return newToken(err)
	}
	c.connected = true
	return newToken(nil)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, payload: payload.([]byte)})
	return newToken(nil)
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = make(map[string]mqtt.MessageHandler)
	}
	c.handlers[topic] = cb
	return newToken(nil)
}

func (c *fakeClient) deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	cb := c.handlers[topic]
	c.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(c, message{topic: topic, payload: payload})
	return true
}

type recordingHandler struct {
	mu   sync.Mutex
	msgs []string
}

func (h *recordingHandler) HandleMessage(_ context.Context, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, string(data))
	return nil
}

func testConfig() mqttlink.Config {
	cfg := mqttlink.DefaultConfig()
	cfg.RetryInterval = time.Millisecond
	return cfg
}

func TestPublishRequiresConnection(t *testing.T) {
	client := &fakeClient{}
	link, err := mqttlink.NewWithClient(testConfig(), client, &recordingHandler{}, logger.Default())
	require.NoError(t, err)

	err = link.Publish(context.Background(), &telemetry.Frame{})
	assert.True(t, errors.HasCode(err, mqttlink.ErrNotConnected))
	assert.Empty(t, client.published)
}

func TestPublishFrame(t *testing.T) {
	client := &fakeClient{connected: true}
	link, err := mqttlink.NewWithClient(testConfig(), client, &recordingHandler{}, logger.Default())
	require.NoError(t, err)

	require.NoError(t, link.Publish(context.Background(), &telemetry.Frame{Speed: 3, Timestamp: 2}))
	require.Len(t, client.published, 1)
	assert.Equal(t, "picar/picarctl/telemetry", client.published[0].topic)

	var out map[string]any
	require.NoError(t, json.Unmarshal(client.published[0].payload, &out))
	assert.Equal(t, map[string]any{"speed": 3.0, "timestamp": 2.0}, out)
}

func TestRunRetriesSubscribesAndDisconnects(t *testing.T) {
	client := &fakeClient{connectErrs: []error{stderrors.New("refused"), stderrors.New("refused")}}
	handler := &recordingHandler{}
	link, err := mqttlink.NewWithClient(testConfig(), client, handler, logger.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- link.Run(ctx) }()

	require.Eventually(t, func() bool {
		return client.deliver("picar/picarctl/command", []byte(`{"mode":"stop"}`))
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("link did not stop")
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, 3, client.connects)
	assert.True(t, client.disconnected)
	assert.Equal(t, []string{`{"mode":"stop"}`}, handler.msgs)
}

func TestRunStopsWhileRetrying(t *testing.T) {
	client := &fakeClient{connectErrs: []error{stderrors.New("refused")}}
	cfg := testConfig()
	cfg.RetryInterval = time.Hour
	link, err := mqttlink.NewWithClient(cfg, client, &recordingHandler{}, logger.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- link.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("link did not stop")
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, mqttlink.DefaultConfig().Validate())

	cfg := mqttlink.DefaultConfig()
	cfg.QoS = 3
	_, err := mqttlink.New(cfg, &recordingHandler{}, logger.Default())
	assert.True(t, errors.HasCode(err, mqttlink.ErrInvalidConfig))
}
