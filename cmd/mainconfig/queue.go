package mainconfig

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/conversation"
)

const memoryQueueBuffer = 256

// NewQueue opens the inbound-message queue named by QUEUE_BACKEND. The
// returned close function releases broker connections.
func (a *App) NewQueue() (conversation.Queue, func(), error) {
	noop := func() {}
	switch a.Config.QueueBackend {
	case "", "memory":
		return conversation.NewMemoryQueue(memoryQueueBuffer), noop, nil
	case "sqs":
		if a.Config.SQSQueueURL == "" {
			return nil, noop, fmt.Errorf("mainconfig: SQS_QUEUE_URL is required for the sqs queue")
		}
		return conversation.NewSQSQueue(sqs.NewFromConfig(a.AWS), a.Config.SQSQueueURL), noop, nil
	case "rabbitmq":
		if a.Config.RabbitMQURL == "" {
			return nil, noop, fmt.Errorf("mainconfig: RABBITMQ_URL is required for the rabbitmq queue")
		}
		conn, err := amqp.Dial(a.Config.RabbitMQURL)
		if err != nil {
			return nil, noop, fmt.Errorf("mainconfig: dial rabbitmq: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, noop, fmt.Errorf("mainconfig: open rabbitmq channel: %w", err)
		}
		queue, err := conversation.NewRabbitQueue(ch, a.Config.RabbitMQQueue)
		if err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, noop, err
		}
		return queue, func() {
			_ = ch.Close()
			_ = conn.Close()
		}, nil
	default:
		return nil, noop, fmt.Errorf("mainconfig: unknown QUEUE_BACKEND %q", a.Config.QueueBackend)
	}
}
