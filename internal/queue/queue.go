// Package queue provides the durable message transport between the
// submission API and the recognition worker.
package queue

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by Publish and Consume once the broker
	// connection or channel has been closed.
	ErrClosed = errors.New("queue connection closed")

	ErrBadEncoding = errors.New("video payload is neither base64 nor hex")
)

// Transport is the broker abstraction. Messages published to a queue are
// durable: they survive a broker restart and are removed only after a
// consumer acknowledges them.
type Transport interface {
	// Publish enqueues body on the named durable queue. It returns only
	// after the broker has confirmed the message is persisted.
	Publish(ctx context.Context, queue string, body []byte) error

	// Consume starts delivering messages from the named queue. At most
	// prefetch messages are outstanding (delivered but unacknowledged) at a
	// time; this is the consumer's backpressure bound. The returned channel
	// is closed when the underlying connection drops or ctx is cancelled.
	Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error)

	Close() error
}

// Delivery is one consumed message. Exactly one of Ack or Nack must be
// called; Ack is the durability boundary that removes the message from the
// broker.
type Delivery interface {
	Body() []byte
	Ack() error
	Nack(requeue bool) error
}
