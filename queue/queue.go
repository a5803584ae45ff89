package queue

import (
	"context"
	"time"

	"github.com/browserq/browserq/id"
)

// Delivery is a single dequeued job reference. Backends that support
// acknowledgement (SQS) remove the message on Ack and make it eligible
// for redelivery on Nack; the in-process backend re-enqueues on Nack
// and treats Ack as a no-op.
type Delivery struct {
	JobID      id.JobID
	EnqueuedAt time.Time

	ack  func(ctx context.Context) error
	nack func(ctx context.Context) error
}

// NewDelivery builds a Delivery with backend-specific ack hooks.
// Backends outside this package use it from their Receive implementations.
func NewDelivery(jobID id.JobID, enqueuedAt time.Time, ack, nack func(ctx context.Context) error) *Delivery {
	return &Delivery{JobID: jobID, EnqueuedAt: enqueuedAt, ack: ack, nack: nack}
}

// Ack marks the delivery as processed so the backend will not redeliver it.
func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Nack returns the delivery to the backend for redelivery.
func (d *Delivery) Nack(ctx context.Context) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(ctx)
}

// Dispatcher is the enqueue side of the transport.
type Dispatcher interface {
	// Dispatch enqueues a job id for pickup by a worker. It is called
	// only after the job record has been durably created.
	Dispatch(ctx context.Context, jobID id.JobID) error

	// Close stops the dispatcher. Dispatch calls after Close return
	// an error wrapping browserq.ErrQueueClosed.
	Close() error
}

// Source is the dequeue side of the transport. Receive blocks until a
// delivery is available, the context is cancelled, or the source is
// closed (in which case it returns an error wrapping
// browserq.ErrQueueClosed).
type Source interface {
	Receive(ctx context.Context) (*Delivery, error)
}
