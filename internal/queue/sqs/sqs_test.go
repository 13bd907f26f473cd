package sqsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/domain"
	"courier/internal/queue"
)

type fakeSQS struct {
	mu       sync.Mutex
	sent     []types.SendMessageBatchRequestEntry
	received []types.Message
	deleted  []string
	failSend bool
}

func (f *fakeSQS) SendMessageBatch(_ context.Context, in *sqs.SendMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(in.Entries) > maxBatch {
		return nil, errors.New("too many entries")
	}
	if f.failSend {
		return &sqs.SendMessageBatchOutput{Failed: []types.BatchResultErrorEntry{{Id: in.Entries[0].Id, Code: aws.String("Throttled")}}}, nil
	}
	f.sent = append(f.sent, in.Entries...)
	return &sqs.SendMessageBatchOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.received
	f.received = nil
	return &sqs.ReceiveMessageOutput{Messages: out}, nil
}

func (f *fakeSQS) DeleteMessageBatch(_ context.Context, in *sqs.DeleteMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range in.Entries {
		f.deleted = append(f.deleted, aws.ToString(e.ReceiptHandle))
	}
	return &sqs.DeleteMessageBatchOutput{}, nil
}

func envelope(t *testing.T, et domain.EventType, entity string, payload any) queue.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return queue.Envelope{ID: "evt_" + entity, EntityID: entity, EventType: et, Payload: raw, Actor: "system", CreatedAt: time.Now().UTC()}
}

func TestProducerChunksAndSetsFifoFields(t *testing.T) {
	fake := &fakeSQS{}
	p := &Producer{SQS: fake, QueueURL: "q.fifo"}

	batch := make([]queue.Envelope, 0, 23)
	for i := range 23 {
		batch = append(batch, envelope(t, domain.EventMessageCreated, uuid.NewString(), map[string]int{"n": i}))
	}
	require.NoError(t, p.Publish(context.Background(), batch))

	require.Len(t, fake.sent, 23)
	first := fake.sent[0]
	assert.Equal(t, batch[0].EntityID, aws.ToString(first.MessageGroupId))
	assert.Equal(t, batch[0].ID, aws.ToString(first.MessageDeduplicationId))
	assert.Equal(t, "message_created", aws.ToString(first.MessageAttributes[queue.AttrEventType].StringValue))

	got, err := queue.Decode([]byte(aws.ToString(first.MessageBody)))
	require.NoError(t, err)
	assert.Equal(t, batch[0].ID, got.ID)
}

func TestProducerReportsFailedEntries(t *testing.T) {
	p := &Producer{SQS: &fakeSQS{failSend: true}, QueueURL: "q.fifo"}
	err := p.Publish(context.Background(), []queue.Envelope{envelope(t, domain.EventMessageCreated, "m1", nil)})
	assert.ErrorContains(t, err, "Throttled")
}

func sqsMessage(t *testing.T, receipt string, env queue.Envelope) types.Message {
	t.Helper()
	body, err := env.Marshal()
	require.NoError(t, err)
	return types.Message{MessageId: aws.String(receipt), ReceiptHandle: aws.String(receipt), Body: aws.String(string(body))}
}

func TestConsumerDeletesCompletedAndPoisonMessages(t *testing.T) {
	ok, failing := uuid.New(), uuid.New()
	fake := &fakeSQS{received: []types.Message{
		sqsMessage(t, "r-ok", envelope(t, domain.EventMessageCreated, ok.String(), domain.MessageCreatedPayload{MessageID: ok.String()})),
		sqsMessage(t, "r-fail", envelope(t, domain.EventMessageCreated, failing.String(), domain.MessageCreatedPayload{MessageID: failing.String()})),
		sqsMessage(t, "r-other", envelope(t, domain.EventSchemaCreated, uuid.NewString(), map[string]string{})),
		{MessageId: aws.String("r-garbage"), ReceiptHandle: aws.String("r-garbage"), Body: aws.String("{not json")},
	}}
	c := &Consumer{SQS: fake, QueueURL: "q", MaxMessages: 10}

	var (
		mu      sync.Mutex
		handled []uuid.UUID
	)
	err := c.PollOnce(context.Background(), func(_ context.Context, id uuid.UUID) error {
		mu.Lock()
		handled = append(handled, id)
		mu.Unlock()
		if id == failing {
			return errors.New("db down")
		}
		return nil
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []uuid.UUID{ok, failing}, handled)
	sort.Strings(fake.deleted)
	assert.Equal(t, []string{"r-garbage", "r-ok", "r-other"}, fake.deleted)
}

func TestConsumerFallsBackToEntityID(t *testing.T) {
	id := uuid.New()
	fake := &fakeSQS{received: []types.Message{
		sqsMessage(t, "r1", envelope(t, domain.EventMessageCreated, id.String(), map[string]string{})),
	}}
	c := &Consumer{SQS: fake, QueueURL: "q"}

	var got uuid.UUID
	require.NoError(t, c.PollOnce(context.Background(), func(_ context.Context, mid uuid.UUID) error {
		got = mid
		return nil
	}))
	assert.Equal(t, id, got)
	assert.Equal(t, []string{"r1"}, fake.deleted)
}

func TestPollStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &Consumer{SQS: &fakeSQS{}, QueueURL: "q"}
	assert.ErrorIs(t, c.Poll(ctx, func(context.Context, uuid.UUID) error { return nil }), context.Canceled)
}
