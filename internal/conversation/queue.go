package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/messaging"
)

// Queue carries inbound messages from the webhook to the workers.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	// Delete acknowledges a processed message.
	Delete(ctx context.Context, receiptHandle string) error
	// Release hands a message back for redelivery.
	Release(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type queuePayload struct {
	ID      string                   `json:"id"`
	Message messaging.InboundMessage `json:"message"`
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("conversation: failed to encode payload: %w", err)
	}
	return payload, string(body), nil
}
