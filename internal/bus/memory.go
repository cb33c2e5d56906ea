package bus

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process queue implementing both Receiver and Sender,
// used by tests and by single-process deployments that loop a command queue
// back into the same worker.
type MemoryQueue struct {
	mu     sync.Mutex
	items  []Message
	closed bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Send(_ context.Context, key string, value []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, NewMessage([]byte(key), value))
	return nil
}

func (q *MemoryQueue) Fetch(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	deadline := time.Now().Add(wait)
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			n := max
			if n > len(q.items) {
				n = len(q.items)
			}
			batch := make([]Message, n)
			copy(batch, q.items[:n])
			q.items = q.items[n:]
			q.mu.Unlock()
			return batch, nil
		}
		q.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) Ack(context.Context, Message) error { return nil }

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Len reports the number of queued messages, for test assertions.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

var (
	_ Receiver = (*MemoryQueue)(nil)
	_ Sender   = (*MemoryQueue)(nil)
)
