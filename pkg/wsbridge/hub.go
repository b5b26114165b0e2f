package wsbridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const hubLogPrefix = "wsbridge:hub"

// DefaultSendQueue is the per-socket outbound queue length.
const DefaultSendQueue = 256

type client struct {
	id     string
	remote string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub is the broadcast channel: every message reaches every connected
// socket. A socket whose queue is full misses the message.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	queue   int
	log     *slog.Logger
}

func newHub(queue int, log *slog.Logger) *Hub {
	if queue <= 0 {
		queue = DefaultSendQueue
	}
	return &Hub{
		clients: make(map[string]*client),
		queue:   queue,
		log:     log,
	}
}

func (h *Hub) add(conn *websocket.Conn) *client {
	c := &client{
		id:     uuid.NewString(),
		remote: conn.RemoteAddr().String(),
		conn:   conn,
		send:   make(chan []byte, h.queue),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.log.Debug(fmt.Sprintf("%s - client %s connected from %s", hubLogPrefix, c.id, c.remote))
	return c
}

// remove unregisters c and closes its queue, which ends its write pump.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()
	h.log.Debug(fmt.Sprintf("%s - client %s disconnected", hubLogPrefix, c.id))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}

// Len returns the number of connected sockets.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg on every connected socket without blocking.
func (h *Hub) Broadcast(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s - failed to encode message: %w", hubLogPrefix, err)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.enqueue(c, data)
	}
	return nil
}

// sendTo queues msg on a single socket, if it is still connected.
func (h *Hub) sendTo(c *client, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s - failed to encode message: %w", hubLogPrefix, err)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; ok {
		h.enqueue(c, data)
	}
	return nil
}

// enqueue must be called with mu held.
func (h *Hub) enqueue(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.log.Warn(fmt.Sprintf("%s - send queue full for client %s, dropping message", hubLogPrefix, c.id))
	}
}
