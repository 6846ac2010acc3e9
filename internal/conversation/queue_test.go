package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	sent       []string
	deleted    []string
	visibility []string
	inbox      []sqstypes.Message
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	out := f.inbox
	f.inbox = nil
	return &sqs.ReceiveMessageOutput{Messages: out}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	if in.VisibilityTimeout != 0 {
		return nil, errors.New("expected zero visibility")
	}
	f.visibility = append(f.visibility, aws.ToString(in.ReceiptHandle))
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func TestSQSQueue(t *testing.T) {
	client := &fakeSQS{inbox: []sqstypes.Message{{
		MessageId:     aws.String("m-1"),
		Body:          aws.String(`{"id":"x"}`),
		ReceiptHandle: aws.String("rh-1"),
	}}}
	q := NewSQSQueue(client, "https://sqs.local/queue")
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "payload"))
	assert.Equal(t, []string{"payload"}, client.sent)

	msgs, err := q.Receive(ctx, 5, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m-1", msgs[0].ID)
	assert.Equal(t, "rh-1", msgs[0].ReceiptHandle)

	require.NoError(t, q.Delete(ctx, "rh-1"))
	require.NoError(t, q.Release(ctx, "rh-2"))
	require.NoError(t, q.Delete(ctx, ""))
	assert.Equal(t, []string{"rh-1"}, client.deleted)
	assert.Equal(t, []string{"rh-2"}, client.visibility)
}

type fakeRabbit struct {
	declared  []string
	published []amqp.Publishing
	pending   []amqp.Delivery
	acked     []uint64
	nacked    []uint64
}

func (f *fakeRabbit) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeRabbit) PublishWithContext(_ context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.published = append(f.published, msg)
	f.pending = append(f.pending, amqp.Delivery{
		MessageId:   msg.MessageId,
		Body:        msg.Body,
		DeliveryTag: uint64(len(f.published)),
	})
	return nil
}

func (f *fakeRabbit) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	if autoAck {
		return amqp.Delivery{}, false, errors.New("auto ack not expected")
	}
	if len(f.pending) == 0 {
		return amqp.Delivery{}, false, nil
	}
	d := f.pending[0]
	f.pending = f.pending[1:]
	return d, true, nil
}

func (f *fakeRabbit) Ack(tag uint64, multiple bool) error {
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeRabbit) Nack(tag uint64, multiple bool, requeue bool) error {
	if !requeue {
		return errors.New("expected requeue")
	}
	f.nacked = append(f.nacked, tag)
	return nil
}

func TestRabbitQueue(t *testing.T) {
	ch := &fakeRabbit{}
	q, err := NewRabbitQueue(ch, "clinicai.inbound")
	require.NoError(t, err)
	assert.Equal(t, []string{"clinicai.inbound"}, ch.declared)

	ctx := context.Background()
	require.NoError(t, q.Send(ctx, "one"))
	require.NoError(t, q.Send(ctx, "two"))
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)

	msgs, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Body)
	assert.Equal(t, "1", msgs[0].ReceiptHandle)

	require.NoError(t, q.Delete(ctx, msgs[0].ReceiptHandle))
	require.NoError(t, q.Release(ctx, msgs[1].ReceiptHandle))
	assert.Equal(t, []uint64{1}, ch.acked)
	assert.Equal(t, []uint64{2}, ch.nacked)

	assert.Error(t, q.Delete(ctx, "not-a-tag"))

	empty, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
