// Package sqs provides an Amazon SQS queue backend for multi-process
// deployments where the intake gateway and the worker pool run in
// separate binaries.
package sqs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/browserq/browserq"
	"github.com/browserq/browserq/id"
	"github.com/browserq/browserq/queue"
)

// Client is the subset of the SQS API the queue uses. *sqs.Client from
// aws-sdk-go-v2 satisfies it.
type Client interface {
	SendMessage(ctx context.Context, params *awssqs.SendMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *awssqs.ReceiveMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *awssqs.DeleteMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *awssqs.ChangeMessageVisibilityInput, optFns ...func(*awssqs.Options)) (*awssqs.ChangeMessageVisibilityOutput, error)
}

// Queue is a Dispatcher and Source backed by a single SQS queue.
// Receive long-polls; Ack deletes the message and Nack resets its
// visibility so SQS redelivers it immediately.
type Queue struct {
	client   Client
	queueURL string
	codec    queue.Codec
	logger   *slog.Logger

	// WaitTime is the long-poll duration. Defaults to 20s.
	waitTime time.Duration
	// VisibilityTimeout is how long a received message stays hidden
	// before SQS redelivers it. Defaults to 5m, which must exceed the
	// worst-case scrape duration plus the terminal store write.
	visibilityTimeout time.Duration

	mu     sync.Mutex
	buf    []*queue.Delivery
	closed bool
}

var (
	_ queue.Dispatcher = (*Queue)(nil)
	_ queue.Source     = (*Queue)(nil)
)

// Option configures a Queue.
type Option func(*Queue)

// WithCodec sets the envelope codec. Defaults to queue.JSONCodec.
func WithCodec(c queue.Codec) Option {
	return func(q *Queue) { q.codec = c }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithWaitTime sets the long-poll duration (max 20s per SQS limits).
func WithWaitTime(d time.Duration) Option {
	return func(q *Queue) { q.waitTime = d }
}

// WithVisibilityTimeout sets how long received messages stay hidden.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) { q.visibilityTimeout = d }
}

// New creates an SQS-backed queue for the given queue URL.
func New(client Client, queueURL string, opts ...Option) *Queue {
	q := &Queue{
		client:            client,
		queueURL:          queueURL,
		codec:             queue.JSONCodec{},
		logger:            slog.Default(),
		waitTime:          20 * time.Second,
		visibilityTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Dispatch sends the job id to the SQS queue.
func (q *Queue) Dispatch(ctx context.Context, jobID id.JobID) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return fmt.Errorf("dispatch %s: %w", jobID, browserq.ErrQueueClosed)
	}

	body, err := q.codec.Encode(queue.Envelope{
		JobID:      jobID.String(),
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &awssqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Receive long-polls SQS until a delivery is available or ctx is
// cancelled. Batches up to 10 messages per poll and hands them out one
// at a time.
func (q *Queue) Receive(ctx context.Context) (*queue.Delivery, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, browserq.ErrQueueClosed
		}
		if len(q.buf) > 0 {
			d := q.buf[0]
			q.buf = q.buf[1:]
			q.mu.Unlock()
			return d, nil
		}
		q.mu.Unlock()

		out, err := q.client.ReceiveMessage(ctx, &awssqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     int32(q.waitTime / time.Second),
			VisibilityTimeout:   int32(q.visibilityTimeout / time.Second),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("receive message: %w", err)
		}

		var batch []*queue.Delivery
		for _, msg := range out.Messages {
			d, derr := q.toDelivery(aws.ToString(msg.Body), aws.ToString(msg.ReceiptHandle))
			if derr != nil {
				// Malformed payload stays on the queue until its
				// redrive policy moves it to the DLQ.
				q.logger.Warn("dropping malformed queue message",
					slog.String("error", derr.Error()),
				)
				continue
			}
			batch = append(batch, d)
		}
		if len(batch) == 0 {
			// Empty poll (or all malformed). Loop and poll again.
			continue
		}

		q.mu.Lock()
		q.buf = append(q.buf, batch...)
		d := q.buf[0]
		q.buf = q.buf[1:]
		q.mu.Unlock()
		return d, nil
	}
}

func (q *Queue) toDelivery(body, receiptHandle string) (*queue.Delivery, error) {
	env, err := q.codec.Decode([]byte(body))
	if err != nil {
		return nil, err
	}
	jobID, err := id.ParseJobID(env.JobID)
	if err != nil {
		return nil, fmt.Errorf("envelope job id: %w", err)
	}

	ack := func(ctx context.Context) error {
		_, err := q.client.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.queueURL),
			ReceiptHandle: aws.String(receiptHandle),
		})
		if err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		return nil
	}
	nack := func(ctx context.Context) error {
		_, err := q.client.ChangeMessageVisibility(ctx, &awssqs.ChangeMessageVisibilityInput{
			QueueUrl:          aws.String(q.queueURL),
			ReceiptHandle:     aws.String(receiptHandle),
			VisibilityTimeout: 0,
		})
		if err != nil {
			return fmt.Errorf("change message visibility: %w", err)
		}
		return nil
	}
	return queue.NewDelivery(jobID, env.EnqueuedAt, ack, nack), nil
}

// Close marks the queue closed. It does not drain buffered deliveries;
// unacked messages reappear on SQS after the visibility timeout.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
