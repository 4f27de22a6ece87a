package transport

import "github.com/google/uuid"

// AddIdle registers a client with no writer, so its queue only drains
// through Drain.
func (h *Hub) AddIdle(queue int) uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &client{id: uuid.New(), send: make(chan []byte, queue)}
	h.clients[c.id] = c

	return c.id
}

// Drain empties an idle client's queue and returns what it held.
func (h *Hub) Drain(id uuid.UUID) int {
	h.mu.Lock()
	c := h.clients[id]
	h.mu.Unlock()

	n := 0
	for {
		select {
		case <-c.send:
			n++
		default:
			return n
		}
	}
}
