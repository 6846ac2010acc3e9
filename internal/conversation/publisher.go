package conversation

import (
	"context"
	"fmt"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/messaging"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

// Publisher enqueues inbound messages for the conversation workers.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

var _ messaging.InboundPublisher = (*Publisher)(nil)

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// EnqueueInbound publishes one inbound WhatsApp message.
func (p *Publisher) EnqueueInbound(ctx context.Context, msg messaging.InboundMessage) error {
	payload, body, err := encodePayload(queuePayload{ID: msg.MessageID, Message: msg})
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("conversation: failed to enqueue message: %w", err)
	}
	p.logger.Debug("inbound message enqueued", "job_id", payload.ID, "from", logging.MaskPhone(msg.From))
	return nil
}
