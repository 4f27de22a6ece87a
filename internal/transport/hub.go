package transport

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/picarctl/internal/errors"
	"codeberg.org/mutker/picarctl/internal/logger"
	"codeberg.org/mutker/picarctl/internal/telemetry"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// lagWarnEvery spaces out the warnings for a client that keeps missing frames.
const lagWarnEvery = 100

type client struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	// skipped counts consecutive frames lost to a full queue; guarded by Hub.mu.
	skipped int
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub broadcasts telemetry frames to every connected websocket client. It
// implements telemetry.Sink.
//
// The publisher itself never drops a cycle, but the hub will not let one
// slow reader stall it: a client whose send queue is full misses that
// frame. Each run of misses is logged as a warning on the first frame and
// every lagWarnEvery frames after, and once more when the client catches up.
type Hub struct {
	cfg     Config
	logger  logger.Logger
	mu      sync.Mutex
	clients map[uuid.UUID]*client
	closed  bool
}

func NewHub(cfg Config, log logger.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  log,
		clients: make(map[uuid.UUID]*client),
	}
}

func (h *Hub) Name() string {
	return "websocket"
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

// Publish queues frame for every client. A client whose queue is full
// misses this frame.
func (h *Hub) Publish(_ context.Context, frame *telemetry.Frame) error {
	data, err := frame.Encode()
	if err != nil {
		return errors.New().Wrap(ErrEncode, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.clients {
		select {
		case c.send <- data:
			if c.skipped > 0 {
				h.logger.Info().
					Str("client", c.id.String()).
					Int("skipped", c.skipped).
					Msg("Telemetry client caught up")
				c.skipped = 0
			}
		default:
			c.skipped++
			if c.skipped == 1 || c.skipped%lagWarnEvery == 0 {
				h.logger.Warn().
					Str("client", c.id.String()).
					Int("skipped", c.skipped).
					Msg("Telemetry client lagging, frames skipped")
			}
		}
	}

	return nil
}

// add registers conn and starts its writer. It returns nil when the hub is
// already closed.
func (h *Hub) add(conn *websocket.Conn) *client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	c := &client{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, h.cfg.SendQueue),
	}
	h.clients[c.id] = c
	go h.write(c)

	return c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		c.close()
	}
}

func (h *Hub) write(c *client) {
	defer c.conn.Close()

	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug().Err(err).Str("client", c.id.String()).Msg("Telemetry write failed")
			h.remove(c)
			break
		}
	}

	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(h.cfg.WriteTimeout),
	)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		c.close()
	}
}
