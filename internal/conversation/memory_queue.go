package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a Queue backed by an in-memory buffered channel. Released
// messages wait in a side list that Receive drains before the channel, so a
// release never blocks on a full buffer and never loses the message.
type MemoryQueue struct {
	ch       chan queueMessage
	released chan struct{}

	mu       sync.Mutex
	inflight map[string]queueMessage
	requeued []queueMessage
}

// NewMemoryQueue creates a MemoryQueue with the provided buffer capacity.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{
		ch:       make(chan queueMessage, buffer),
		released: make(chan struct{}, 1),
		inflight: make(map[string]queueMessage),
	}
}

// Send enqueues a payload or blocks until ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	return q.push(ctx, queueMessage{ID: uuid.NewString(), Body: body})
}

func (q *MemoryQueue) push(ctx context.Context, msg queueMessage) error {
	msg.ReceiptHandle = uuid.NewString()
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available, ctx is done, or waitSeconds elapses.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}

	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		if msg, ok := q.popRequeued(); ok {
			return q.collect(ctx, msg, maxMessages), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, nil
		case <-q.released:
		case msg := <-q.ch:
			return q.collect(ctx, msg, maxMessages), nil
		}
	}
}

// Delete forgets an in-flight message.
func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	delete(q.inflight, receiptHandle)
	q.mu.Unlock()
	return nil
}

// Release hands an in-flight message back. It is redelivered ahead of the
// messages still buffered in the channel.
func (q *MemoryQueue) Release(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	msg, ok := q.inflight[receiptHandle]
	delete(q.inflight, receiptHandle)
	if ok {
		msg.ReceiptHandle = uuid.NewString()
		q.requeued = append(q.requeued, msg)
	}
	q.mu.Unlock()
	if ok {
		q.signalReleased()
	}
	return nil
}

func (q *MemoryQueue) signalReleased() {
	select {
	case q.released <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) popRequeued() (queueMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.requeued) == 0 {
		return queueMessage{}, false
	}
	msg := q.requeued[0]
	q.requeued = q.requeued[1:]
	if len(q.requeued) > 0 {
		q.signalReleased()
	}
	return msg, true
}

func (q *MemoryQueue) collect(ctx context.Context, first queueMessage, max int) []queueMessage {
	messages := make([]queueMessage, 0, max)
	messages = append(messages, first)

	for len(messages) < max {
		if msg, ok := q.popRequeued(); ok {
			messages = append(messages, msg)
			continue
		}
		select {
		case <-ctx.Done():
			return q.track(messages)
		case msg := <-q.ch:
			messages = append(messages, msg)
		default:
			return q.track(messages)
		}
	}
	return q.track(messages)
}

func (q *MemoryQueue) track(messages []queueMessage) []queueMessage {
	q.mu.Lock()
	for _, m := range messages {
		q.inflight[m.ReceiptHandle] = m
	}
	q.mu.Unlock()
	return messages
}
