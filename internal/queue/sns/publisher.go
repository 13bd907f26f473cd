// Package snsqueue publishes outbox envelopes to an SNS FIFO topic.
package snsqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"courier/internal/queue"
)

// API is the part of the SNS client courier uses.
type API interface {
	PublishBatch(ctx context.Context, in *sns.PublishBatchInput, optFns ...func(*sns.Options)) (*sns.PublishBatchOutput, error)
}

const maxBatch = 10

type Publisher struct {
	SNS      API
	TopicARN string
}

func (p *Publisher) Publish(ctx context.Context, batch []queue.Envelope) error {
	for _, chunk := range queue.Chunks(batch, maxBatch) {
		entries := make([]types.PublishBatchRequestEntry, 0, len(chunk))
		for i, env := range chunk {
			body, err := env.Marshal()
			if err != nil {
				return err
			}
			entries = append(entries, types.PublishBatchRequestEntry{
				Id:                     aws.String(strconv.Itoa(i)),
				Message:                aws.String(string(body)),
				MessageGroupId:         aws.String(env.EntityID),
				MessageDeduplicationId: aws.String(env.ID),
				MessageAttributes: map[string]types.MessageAttributeValue{
					queue.AttrEventType: {DataType: aws.String("String"), StringValue: aws.String(string(env.EventType))},
				},
			})
		}
		out, err := p.SNS.PublishBatch(ctx, &sns.PublishBatchInput{
			TopicArn:                   &p.TopicARN,
			PublishBatchRequestEntries: entries,
		})
		if err != nil {
			return fmt.Errorf("sns publish batch: %w", err)
		}
		if len(out.Failed) > 0 {
			errs := make([]error, 0, len(out.Failed))
			for _, f := range out.Failed {
				errs = append(errs, fmt.Errorf("entry %s: %s %s", aws.ToString(f.Id), aws.ToString(f.Code), aws.ToString(f.Message)))
			}
			return fmt.Errorf("sns publish batch: %w", errors.Join(errs...))
		}
	}
	return nil
}
