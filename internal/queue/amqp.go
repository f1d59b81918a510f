package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dialBackoffInitial = 1 * time.Second
	dialBackoffMax     = 30 * time.Second
	publishTimeout     = 10 * time.Second
)

// AMQPTransport implements Transport on a RabbitMQ connection.
type AMQPTransport struct {
	conn *amqp.Connection

	mu    sync.Mutex
	pubCh *amqp.Channel
}

// Dial connects to the broker at url.
func Dial(url string) (*AMQPTransport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	return &AMQPTransport{conn: conn}, nil
}

// DialWithBackoff keeps dialing the broker with exponential backoff until a
// connection is established or ctx is cancelled. Retries are unbounded: the
// callers are long-running daemons that must outlast broker restarts.
func DialWithBackoff(ctx context.Context, url string) (*AMQPTransport, error) {
	backoff := dialBackoffInitial
	for {
		t, err := Dial(url)
		if err == nil {
			return t, nil
		}

		slog.Warn("broker unreachable, retrying", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > dialBackoffMax {
			backoff = dialBackoffMax
		}
	}
}

func (t *AMQPTransport) Close() error {
	return t.conn.Close()
}

// Closed reports whether the underlying connection has been lost.
func (t *AMQPTransport) Closed() bool {
	return t.conn.IsClosed()
}

// publisherChannel lazily opens a confirm-mode channel shared by Publish
// calls.
func (t *AMQPTransport) publisherChannel() (*amqp.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pubCh != nil && !t.pubCh.IsClosed() {
		return t.pubCh, nil
	}

	ch, err := t.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", classifyError(err))
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	t.pubCh = ch
	return ch, nil
}

// Publish enqueues body on the named durable queue with persistent delivery
// and waits for the broker's publish confirmation.
func (t *AMQPTransport) Publish(ctx context.Context, queue string, body []byte) error {
	ch, err := t.publisherChannel()
	if err != nil {
		return err
	}

	if _, err := declareQueue(ch, queue); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		"",    // default exchange
		queue, // routing key = queue name
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, classifyError(err))
	}

	ok, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await publish confirm: %w", classifyError(err))
	}
	if !ok {
		return fmt.Errorf("publish to %s: broker rejected message", queue)
	}
	return nil
}

// Consume opens a dedicated channel with the given prefetch limit and
// forwards broker deliveries. The returned channel closes when the broker
// connection drops or ctx is cancelled; the caller is expected to reconnect.
func (t *AMQPTransport) Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	ch, err := t.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", classifyError(err))
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}

	if _, err := declareQueue(ch, queue); err != nil {
		_ = ch.Close()
		return nil, err
	}

	deliveries, err := ch.Consume(
		queue,
		"",    // consumer tag, broker-assigned
		false, // autoAck — acks are explicit
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume %s: %w", queue, classifyError(err))
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case out <- &amqpDelivery{d: d}:
				case <-ctx.Done():
					// Unacked delivery is requeued by the broker once the
					// channel closes.
					return
				}
			}
		}
	}()
	return out, nil
}

// classifyError maps the amqp client's closed-connection/channel error onto
// the package sentinel so callers can match it without importing amqp.
func classifyError(err error) error {
	if errors.Is(err, amqp.ErrClosed) {
		return ErrClosed
	}
	return err
}

func declareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("declare queue %s: %w", name, err)
	}
	return q, nil
}

type amqpDelivery struct {
	d amqp.Delivery
}

func (a *amqpDelivery) Body() []byte { return a.d.Body }

func (a *amqpDelivery) Ack() error { return a.d.Ack(false) }

func (a *amqpDelivery) Nack(requeue bool) error { return a.d.Nack(false, requeue) }

var _ Transport = (*AMQPTransport)(nil)
