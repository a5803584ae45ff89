package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/browserq/browserq"
	"github.com/browserq/browserq/id"
)

// ChannelQueue is an in-process Dispatcher and Source backed by a buffered
// channel. It is safe for concurrent use by multiple producers and
// consumers.
type ChannelQueue struct {
	ch     chan *Delivery
	mu     sync.Mutex
	closed bool
}

var (
	_ Dispatcher = (*ChannelQueue)(nil)
	_ Source     = (*ChannelQueue)(nil)
)

// NewChannelQueue creates a ChannelQueue with the given buffer capacity.
// Dispatch blocks when the buffer is full.
func NewChannelQueue(capacity int) *ChannelQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &ChannelQueue{ch: make(chan *Delivery, capacity)}
}

// Dispatch enqueues the job id. It blocks while the buffer is full and
// returns the context error if ctx is cancelled first.
func (q *ChannelQueue) Dispatch(ctx context.Context, jobID id.JobID) error {
	var d *Delivery
	d = NewDelivery(jobID, time.Now().UTC(), nil, func(ctx context.Context) error {
		return q.push(ctx, d)
	})
	return q.push(ctx, d)
}

// push enqueues a delivery. Nack reuses it so a handed-back delivery
// goes to the end of the buffer instead of being dropped.
func (q *ChannelQueue) push(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("enqueue %s: %w", d.JobID, browserq.ErrQueueClosed)
	}
	q.mu.Unlock()

	select {
	case q.ch <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a delivery is available or ctx is cancelled.
func (q *ChannelQueue) Receive(ctx context.Context) (*Delivery, error) {
	select {
	case d, ok := <-q.ch:
		if !ok {
			return nil, browserq.ErrQueueClosed
		}
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the queue. Deliveries already buffered are still drained
// by Receive before it starts returning ErrQueueClosed.
func (q *ChannelQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.ch)
	return nil
}

// Len reports the number of buffered deliveries.
func (q *ChannelQueue) Len() int {
	return len(q.ch)
}
