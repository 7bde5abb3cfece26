package call

import (
	"sync"

	"github.com/gammazero/deque"
)

// mailbox is an unbounded FIFO of session events. Producers never block.
type mailbox struct {
	mu     sync.Mutex
	q      deque.Deque
	closed bool
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) push(ev interface{}) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.q.PushBack(ev)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// pop blocks until an event is available. It returns false once the
// mailbox is closed and empty.
func (m *mailbox) pop() (interface{}, bool) {
	for {
		m.mu.Lock()
		if m.q.Len() > 0 {
			ev := m.q.PopFront()
			m.mu.Unlock()
			return ev, true
		}
		if m.closed {
			m.mu.Unlock()
			return nil, false
		}
		m.mu.Unlock()
		<-m.notify
	}
}

// close rejects further pushes and returns what was still queued.
func (m *mailbox) close() []interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	rest := make([]interface{}, 0, m.q.Len())
	for m.q.Len() > 0 {
		rest = append(rest, m.q.PopFront())
	}
	return rest
}
