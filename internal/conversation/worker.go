package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/messaging"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

// InboundHandler processes one inbound message. Engine implements it.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg messaging.InboundMessage) error
}

// Worker consumes inbound messages from the queue and hands them to the engine.
type Worker struct {
	handler InboundHandler
	queue   Queue
	logger  *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	handleTimeout    time.Duration
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	defaultHandleTimeout = 60 * time.Second
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithHandleTimeout bounds the processing of a single message.
func WithHandleTimeout(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d > 0 {
			cfg.handleTimeout = d
		}
	}
}

func NewWorker(handler InboundHandler, queue Queue, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if handler == nil {
		panic("conversation: handler cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		handleTimeout:    defaultHandleTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{handler: handler, queue: queue, logger: logger, cfg: cfg}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("conversation worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("conversation worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive inbound messages", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

// handleMessage acknowledges everything except lock contention, which is
// handed back for redelivery. Redelivery may reorder a sender's messages: SQS
// and RabbitMQ requeue at the back, the memory queue at the front.
func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode inbound message", "error", err, "msg_id", msg.ID)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	handleCtx, cancel := context.WithTimeout(ctx, w.cfg.handleTimeout)
	err := w.handler.HandleInbound(handleCtx, payload.Message)
	cancel()

	switch {
	case errors.Is(err, ErrLockNotAcquired):
		w.logger.Warn("conversation busy, releasing message", "job_id", payload.ID, "from", logging.MaskPhone(payload.Message.From))
		w.releaseMessage(context.Background(), msg.ReceiptHandle)
		return
	case err != nil:
		w.logger.Error("inbound message failed", "error", err, "job_id", payload.ID, "from", logging.MaskPhone(payload.Message.From))
	default:
		w.logger.Debug("inbound message processed", "job_id", payload.ID)
	}
	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete inbound message", "error", err)
	}
}

func (w *Worker) releaseMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	releaseCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Release(releaseCtx, receiptHandle); err != nil {
		w.logger.Error("failed to release inbound message", "error", err)
	}
}
