package rpc

import "sync"

// inbox is an unbounded FIFO between the reader and the dispatcher. The
// reader must never block on a slow handler, or responses the handler is
// waiting for could not be routed.
type inbox struct {
	mu     sync.Mutex
	items  []*message
	signal chan struct{}
}

func newInbox() *inbox {
	return &inbox{signal: make(chan struct{}, 1)}
}

func (q *inbox) push(m *message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pop blocks until a message is queued or done is closed.
func (q *inbox) pop(done <-chan struct{}) (*message, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			m := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return m, true
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-done:
			return nil, false
		}
	}
}

func (q *inbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
