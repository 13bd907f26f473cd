package snsqueue

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/queue"
)

type fakeSNS struct {
	calls [][]types.PublishBatchRequestEntry
	err   error
}

func (f *fakeSNS) PublishBatch(_ context.Context, in *sns.PublishBatchInput, _ ...func(*sns.Options)) (*sns.PublishBatchOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, in.PublishBatchRequestEntries)
	return &sns.PublishBatchOutput{}, nil
}

func TestPublishInChunksOfTen(t *testing.T) {
	fake := &fakeSNS{}
	p := &Publisher{SNS: fake, TopicARN: "arn:aws:sns:eu-west-1:000000000000:courier.fifo"}

	batch := make([]queue.Envelope, 25)
	for i := range batch {
		batch[i] = queue.Envelope{ID: "evt_" + string(rune('a'+i)), EntityID: "m1", EventType: "message_created"}
	}
	require.NoError(t, p.Publish(context.Background(), batch))

	require.Len(t, fake.calls, 3)
	assert.Len(t, fake.calls[0], 10)
	assert.Len(t, fake.calls[2], 5)
	e := fake.calls[1][0]
	assert.Equal(t, "0", aws.ToString(e.Id))
	assert.Equal(t, "evt_k", aws.ToString(e.MessageDeduplicationId))
	assert.Equal(t, "m1", aws.ToString(e.MessageGroupId))
	assert.Equal(t, "message_created", aws.ToString(e.MessageAttributes[queue.AttrEventType].StringValue))
}

func TestPublishErrorIsWrapped(t *testing.T) {
	boom := errors.New("throttled")
	p := &Publisher{SNS: &fakeSNS{err: boom}, TopicARN: "arn"}
	err := p.Publish(context.Background(), []queue.Envelope{{ID: "evt_1", EntityID: "m1", EventType: "message_created"}})
	assert.ErrorIs(t, err, boom)
}
