package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/messaging"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

func TestWorkerProcessesMessages(t *testing.T) {
	queue := newScriptedQueue()
	handler := &recordingHandler{}
	worker := NewWorker(handler, queue, logging.Default(), WithWorkerCount(1), WithReceiveBatchSize(1), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	queue.enqueue(queueMessage{ID: "msg-1", Body: inboundBody(t, "job-1", "hola"), ReceiptHandle: "rh-1"})

	waitFor(func() bool { return handler.count() > 0 }, time.Second, t)
	waitFor(func() bool { return queue.deletedCount() == 1 }, time.Second, t)
	cancel()
	worker.Wait()

	if handler.count() != 1 {
		t.Fatalf("expected 1 handle call, got %d", handler.count())
	}
	if got := handler.last().Body; got != "hola" {
		t.Fatalf("expected body hola, got %q", got)
	}
}

func TestWorkerDeletesAfterHandlerError(t *testing.T) {
	queue := newScriptedQueue()
	handler := &recordingHandler{err: errors.New("send failed")}
	worker := NewWorker(handler, queue, logging.Default(), WithWorkerCount(1), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	queue.enqueue(queueMessage{ID: "msg-err", Body: inboundBody(t, "job-err", "hola"), ReceiptHandle: "rh-err"})

	waitFor(func() bool { return queue.deletedCount() == 1 }, time.Second, t)
	cancel()
	worker.Wait()

	if queue.releasedCount() != 0 {
		t.Fatalf("expected no release, got %d", queue.releasedCount())
	}
}

func TestWorkerReleasesOnLockContention(t *testing.T) {
	queue := newScriptedQueue()
	handler := &recordingHandler{err: ErrLockNotAcquired}
	worker := NewWorker(handler, queue, logging.Default(), WithWorkerCount(1), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	queue.enqueue(queueMessage{ID: "msg-busy", Body: inboundBody(t, "job-busy", "hola"), ReceiptHandle: "rh-busy"})

	waitFor(func() bool { return queue.releasedCount() == 1 }, time.Second, t)
	cancel()
	worker.Wait()

	if queue.deletedCount() != 0 {
		t.Fatalf("expected message to stay on the queue, deleted %d", queue.deletedCount())
	}
}

func TestWorkerSkipsMalformedPayload(t *testing.T) {
	queue := newScriptedQueue()
	handler := &recordingHandler{}
	worker := NewWorker(handler, queue, logging.Default(), WithWorkerCount(1), WithReceiveBatchSize(1), WithReceiveWaitSeconds(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	queue.enqueue(queueMessage{ID: "bad", Body: "{", ReceiptHandle: "rh-bad"})

	waitFor(func() bool { return queue.deletedCount() == 1 }, time.Second, t)
	cancel()
	worker.Wait()

	if handler.count() != 0 {
		t.Fatalf("expected no handler calls for malformed body")
	}
}

func TestWorkerConfigOptions(t *testing.T) {
	worker := NewWorker(
		&recordingHandler{},
		newScriptedQueue(),
		logging.Default(),
		WithWorkerCount(3),
		WithReceiveBatchSize(20),
		WithReceiveWaitSeconds(30),
		WithHandleTimeout(5*time.Second),
	)

	if worker.cfg.workers != 3 {
		t.Fatalf("expected worker count override, got %d", worker.cfg.workers)
	}
	if worker.cfg.receiveBatchSize != maxReceiveBatchSize {
		t.Fatalf("expected batch size capped at %d, got %d", maxReceiveBatchSize, worker.cfg.receiveBatchSize)
	}
	if worker.cfg.receiveWaitSecs != maxWaitSeconds {
		t.Fatalf("expected wait seconds capped at %d, got %d", maxWaitSeconds, worker.cfg.receiveWaitSecs)
	}
	if worker.cfg.handleTimeout != 5*time.Second {
		t.Fatalf("expected handle timeout override, got %s", worker.cfg.handleTimeout)
	}
}

func TestMemoryQueueRoundTrip(t *testing.T) {
	queue := NewMemoryQueue(4)
	ctx := context.Background()

	if err := queue.Send(ctx, "a"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := queue.Send(ctx, "b"); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs, err := queue.Receive(ctx, 5, 1)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Body != "a" || msgs[1].Body != "b" {
		t.Fatalf("unexpected messages %#v", msgs)
	}

	if err := queue.Release(ctx, msgs[0].ReceiptHandle); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := queue.Delete(ctx, msgs[1].ReceiptHandle); err != nil {
		t.Fatalf("delete: %v", err)
	}
	again, err := queue.Receive(ctx, 5, 1)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(again) != 1 || again[0].Body != "a" {
		t.Fatalf("expected released message redelivered, got %#v", again)
	}
}

func TestMemoryQueueReleaseOnFullBuffer(t *testing.T) {
	queue := NewMemoryQueue(1)
	ctx := context.Background()

	if err := queue.Send(ctx, "a"); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs, err := queue.Receive(ctx, 1, 1)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("receive: %#v, %v", msgs, err)
	}
	if err := queue.Send(ctx, "b"); err != nil {
		t.Fatalf("send: %v", err)
	}

	expired, cancel := context.WithCancel(ctx)
	cancel()
	if err := queue.Release(expired, msgs[0].ReceiptHandle); err != nil {
		t.Fatalf("release: %v", err)
	}

	first, err := queue.Receive(ctx, 1, 1)
	if err != nil || len(first) != 1 || first[0].Body != "a" {
		t.Fatalf("expected released message first, got %#v, %v", first, err)
	}
	second, err := queue.Receive(ctx, 1, 1)
	if err != nil || len(second) != 1 || second[0].Body != "b" {
		t.Fatalf("expected buffered message next, got %#v, %v", second, err)
	}
}

func TestMemoryQueueReleaseWakesReceiver(t *testing.T) {
	queue := NewMemoryQueue(1)
	ctx := context.Background()

	if err := queue.Send(ctx, "a"); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs, err := queue.Receive(ctx, 1, 1)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("receive: %#v, %v", msgs, err)
	}

	got := make(chan []queueMessage, 1)
	go func() {
		again, _ := queue.Receive(ctx, 1, 10)
		got <- again
	}()
	time.Sleep(20 * time.Millisecond)
	if err := queue.Release(ctx, msgs[0].ReceiptHandle); err != nil {
		t.Fatalf("release: %v", err)
	}

	select {
	case again := <-got:
		if len(again) != 1 || again[0].Body != "a" {
			t.Fatalf("unexpected redelivery %#v", again)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("receiver was not woken by release")
	}
}

func TestMemoryQueueReceiveTimesOut(t *testing.T) {
	queue := NewMemoryQueue(1)
	msgs, err := queue.Receive(context.Background(), 1, 1)
	if err != nil || msgs != nil {
		t.Fatalf("expected empty receive, got %#v, %v", msgs, err)
	}
}

func inboundBody(t *testing.T, id, text string) string {
	t.Helper()
	body, err := json.Marshal(queuePayload{
		ID:      id,
		Message: messaging.InboundMessage{MessageID: id, NumberID: "100", From: "34600111222", Body: text},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return string(body)
}

type recordingHandler struct {
	mu    sync.Mutex
	calls []messaging.InboundMessage
	err   error
}

func (r *recordingHandler) HandleInbound(ctx context.Context, msg messaging.InboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, msg)
	return r.err
}

func (r *recordingHandler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recordingHandler) last() messaging.InboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

type scriptedQueue struct {
	ch       chan queueMessage
	mu       sync.Mutex
	deleted  int
	released int
}

func newScriptedQueue() *scriptedQueue {
	return &scriptedQueue{ch: make(chan queueMessage, 10)}
}

func (s *scriptedQueue) enqueue(msg queueMessage) {
	s.ch <- msg
}

func (s *scriptedQueue) Send(ctx context.Context, body string) error {
	return nil
}

func (s *scriptedQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-s.ch:
		return []queueMessage{msg}, nil
	case <-time.After(50 * time.Millisecond):
		return nil, nil
	}
}

func (s *scriptedQueue) Delete(ctx context.Context, receiptHandle string) error {
	s.mu.Lock()
	s.deleted++
	s.mu.Unlock()
	return nil
}

func (s *scriptedQueue) Release(ctx context.Context, receiptHandle string) error {
	s.mu.Lock()
	s.released++
	s.mu.Unlock()
	return nil
}

func (s *scriptedQueue) deletedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted
}

func (s *scriptedQueue) releasedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func waitFor(cond func() bool, timeout time.Duration, t *testing.T) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
