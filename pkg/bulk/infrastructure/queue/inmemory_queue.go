package queue

import (
	"context"
	"sync"
	"time"

	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
)

// InMemoryWorkQueue implements ports.WorkQueue on a buffered channel, with the
// same attempt-counting semantics as the Redis queue.
type InMemoryWorkQueue struct {
	ready chan ports.BatchMessage

	mu   sync.Mutex
	dead []ports.BatchMessage
}

// NewInMemoryWorkQueue creates a queue with the given buffer capacity.
func NewInMemoryWorkQueue(capacity int) *InMemoryWorkQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InMemoryWorkQueue{ready: make(chan ports.BatchMessage, capacity)}
}

// Enqueue delivers the message to the ready channel.
func (q *InMemoryWorkQueue) Enqueue(ctx context.Context, msg ports.BatchMessage) error {
	msg.Attempt++
	select {
	case q.ready <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available or ctx is done.
func (q *InMemoryWorkQueue) Receive(ctx context.Context) (ports.BatchMessage, error) {
	select {
	case msg := <-q.ready:
		return msg, nil
	case <-ctx.Done():
		return ports.BatchMessage{}, ctx.Err()
	}
}

// Ack settles the message.
func (q *InMemoryWorkQueue) Ack(ctx context.Context, msg ports.BatchMessage) error {
	return nil
}

// Nack re-enqueues the message after the delay.
func (q *InMemoryWorkQueue) Nack(ctx context.Context, msg ports.BatchMessage, delay time.Duration) error {
	msg.Attempt++
	if delay <= 0 {
		select {
		case q.ready <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
	time.AfterFunc(delay, func() {
		q.ready <- msg
	})
	return nil
}

// DeadLetter retains the message for inspection.
func (q *InMemoryWorkQueue) DeadLetter(ctx context.Context, msg ports.BatchMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, msg)
	return nil
}

// DeadLetters returns the dead-lettered messages.
func (q *InMemoryWorkQueue) DeadLetters() []ports.BatchMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ports.BatchMessage, len(q.dead))
	copy(out, q.dead)
	return out
}

// Verify interfaces
var _ ports.WorkQueue = (*InMemoryWorkQueue)(nil)
