package conversation

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type rabbitChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple bool, requeue bool) error
}

// RabbitQueue implements Queue on a durable RabbitMQ queue. Receive
// polls with basic.get so the worker loop stays identical to SQS.
type RabbitQueue struct {
	mu    sync.Mutex
	ch    rabbitChannel
	queue string
	poll  time.Duration
}

// NewRabbitQueue declares the queue and wraps the channel.
func NewRabbitQueue(ch rabbitChannel, queue string) (*RabbitQueue, error) {
	if ch == nil {
		panic("conversation: rabbitmq channel cannot be nil")
	}
	if queue == "" {
		panic("conversation: rabbitmq queue cannot be empty")
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("conversation: declare rabbitmq queue: %w", err)
	}
	return &RabbitQueue{ch: ch, queue: queue, poll: 200 * time.Millisecond}, nil
}

func (q *RabbitQueue) Send(ctx context.Context, body string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Body:         []byte(body),
	})
	if err != nil {
		return fmt.Errorf("conversation: failed to publish rabbitmq message: %w", err)
	}
	return nil
}

func (q *RabbitQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	deadline := time.Now().Add(time.Duration(waitSeconds) * time.Second)
	for {
		messages, err := q.drain(maxMessages)
		if err != nil || len(messages) > 0 {
			return messages, err
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.poll):
		}
	}
}

func (q *RabbitQueue) drain(max int) ([]queueMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var messages []queueMessage
	for len(messages) < max {
		d, ok, err := q.ch.Get(q.queue, false)
		if err != nil {
			return messages, fmt.Errorf("conversation: failed to receive rabbitmq message: %w", err)
		}
		if !ok {
			break
		}
		messages = append(messages, queueMessage{
			ID:            d.MessageId,
			Body:          string(d.Body),
			ReceiptHandle: strconv.FormatUint(d.DeliveryTag, 10),
		})
	}
	return messages, nil
}

func (q *RabbitQueue) Delete(_ context.Context, receiptHandle string) error {
	tag, err := strconv.ParseUint(receiptHandle, 10, 64)
	if err != nil {
		return fmt.Errorf("conversation: invalid rabbitmq receipt %q", receiptHandle)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ch.Ack(tag, false); err != nil {
		return fmt.Errorf("conversation: failed to ack rabbitmq message: %w", err)
	}
	return nil
}

func (q *RabbitQueue) Release(_ context.Context, receiptHandle string) error {
	tag, err := strconv.ParseUint(receiptHandle, 10, 64)
	if err != nil {
		return fmt.Errorf("conversation: invalid rabbitmq receipt %q", receiptHandle)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ch.Nack(tag, false, true); err != nil {
		return fmt.Errorf("conversation: failed to requeue rabbitmq message: %w", err)
	}
	return nil
}
