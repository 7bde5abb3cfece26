package relay

import (
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/gammazero/workerpool"
	"github.com/gorilla/websocket"

	"github.com/roomcall/roomcall/pkg/signaling"
)

// client is one websocket member of a room. Writes go through a single
// worker so they never overlap and keep their order.
type client struct {
	id     string
	userID signaling.ParticipantID
	conn   *websocket.Conn
	pool   *workerpool.WorkerPool

	writeTimeout time.Duration
}

func (c *client) write(b []byte) {
	c.pool.Submit(func() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			Logger.V(1).Info("write to client failed", "client_id", c.id, "err", err.Error())
		}
	})
}

func (c *client) close() {
	_ = c.conn.Close()
	c.pool.Stop()
}

type room struct {
	id string

	mu      sync.RWMutex
	clients map[string]*client
	reap    func(f func())
}

func newRoom(id string, reapDelay time.Duration) *room {
	return &room{
		id:      id,
		clients: make(map[string]*client),
		reap:    debounce.New(reapDelay),
	}
}

func (r *room) add(c *client) {
	r.mu.Lock()
	r.clients[c.id] = c
	r.mu.Unlock()
}

// remove drops c and reports whether the room is now empty.
func (r *room) remove(c *client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, c.id)
	return len(r.clients) == 0
}

func (r *room) empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients) == 0
}

func (r *room) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// broadcast queues b for every member, the sender included.
func (r *room) broadcast(b []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		c.write(b)
	}
}
