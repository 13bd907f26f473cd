package sqsqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"courier/internal/queue"
)

// API is the part of the SQS client courier uses.
type API interface {
	SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, in *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// maxBatch is the SQS limit for batch calls.
const maxBatch = 10

// Producer publishes outbox envelopes to a FIFO queue. Events of one entity
// share a message group; the event id is the deduplication id.
type Producer struct {
	SQS      API
	QueueURL string
}

func (p *Producer) Publish(ctx context.Context, batch []queue.Envelope) error {
	for _, chunk := range queue.Chunks(batch, maxBatch) {
		entries := make([]types.SendMessageBatchRequestEntry, 0, len(chunk))
		for i, env := range chunk {
			body, err := env.Marshal()
			if err != nil {
				return err
			}
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:                     aws.String(strconv.Itoa(i)),
				MessageBody:            aws.String(string(body)),
				MessageGroupId:         aws.String(env.EntityID),
				MessageDeduplicationId: aws.String(env.ID),
				MessageAttributes: map[string]types.MessageAttributeValue{
					queue.AttrEventType: {DataType: aws.String("String"), StringValue: aws.String(string(env.EventType))},
				},
			})
		}
		out, err := p.SQS.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: &p.QueueURL,
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("sqs send batch: %w", err)
		}
		if len(out.Failed) > 0 {
			errs := make([]error, 0, len(out.Failed))
			for _, f := range out.Failed {
				errs = append(errs, fmt.Errorf("entry %s: %s %s", aws.ToString(f.Id), aws.ToString(f.Code), aws.ToString(f.Message)))
			}
			return fmt.Errorf("sqs send batch: %w", errors.Join(errs...))
		}
	}
	return nil
}
