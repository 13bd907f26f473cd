package sqsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"courier/internal/domain"
	"courier/internal/logging"
	"courier/internal/observability"
	"courier/internal/queue"
)

const pollerName = "message_created"

// Consumer long-polls the queue fed by message_created events.
type Consumer struct {
	SQS      API
	QueueURL string

	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32
}

// Handler processes one message. A nil error deletes the queue message;
// otherwise it is left for redelivery.
type Handler func(ctx context.Context, messageID uuid.UUID) error

// Poll runs cycles until ctx is cancelled.
func (c *Consumer) Poll(ctx context.Context, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.PollOnce(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.From(ctx).Error("sqs poll cycle failed", "err", err)
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// PollOnce receives one batch, handles every message concurrently, waits for
// all of them and deletes the ones that completed or can never succeed.
func (c *Consumer) PollOnce(ctx context.Context, handler Handler) error {
	out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &c.QueueURL,
		MaxNumberOfMessages: c.MaxMessages,
		WaitTimeSeconds:     c.WaitTimeSeconds,
		VisibilityTimeout:   c.VisibilityTimeout,
	})
	if err != nil {
		observability.PollCycles.WithLabelValues(pollerName, "error").Inc()
		return fmt.Errorf("sqs receive: %w", err)
	}
	if len(out.Messages) == 0 {
		observability.PollCycles.WithLabelValues(pollerName, "empty").Inc()
		return nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done []types.Message
	)
	for _, m := range out.Messages {
		id, ok := c.decode(ctx, m)
		if !ok {
			// Poison bodies would otherwise loop until the DLQ.
			mu.Lock()
			done = append(done, m)
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := handler(ctx, id); err != nil {
				observability.QueueMessages.WithLabelValues("error").Inc()
				logging.From(ctx).Error("message processing failed", "message_id", id.String(), "err", err)
				return
			}
			observability.QueueMessages.WithLabelValues("ok").Inc()
			mu.Lock()
			done = append(done, m)
			mu.Unlock()
		}()
	}
	wg.Wait()

	observability.PollCycles.WithLabelValues(pollerName, "ok").Inc()
	return c.delete(ctx, done)
}

func (c *Consumer) decode(ctx context.Context, m types.Message) (uuid.UUID, bool) {
	log := logging.From(ctx).With("sqs_message_id", aws.ToString(m.MessageId))
	if m.Body == nil {
		observability.QueueMessages.WithLabelValues("invalid").Inc()
		log.Warn("empty queue message")
		return uuid.Nil, false
	}
	env, err := queue.Decode([]byte(*m.Body))
	if err != nil {
		observability.QueueMessages.WithLabelValues("invalid").Inc()
		log.Warn("undecodable queue message", "err", err)
		return uuid.Nil, false
	}
	if env.EventType != domain.EventMessageCreated {
		observability.QueueMessages.WithLabelValues("ignored").Inc()
		log.Info("ignoring event", "event_type", env.EventType)
		return uuid.Nil, false
	}
	var p domain.MessageCreatedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.MessageID == "" {
		p.MessageID = env.EntityID
	}
	id, err := uuid.Parse(p.MessageID)
	if err != nil {
		observability.QueueMessages.WithLabelValues("invalid").Inc()
		log.Warn("message_created without a message id", "err", err)
		return uuid.Nil, false
	}
	return id, true
}

func (c *Consumer) delete(ctx context.Context, msgs []types.Message) error {
	for start := 0; start < len(msgs); start += maxBatch {
		chunk := msgs[start:min(start+maxBatch, len(msgs))]
		entries := make([]types.DeleteMessageBatchRequestEntry, 0, len(chunk))
		for i, m := range chunk {
			entries = append(entries, types.DeleteMessageBatchRequestEntry{
				Id:            aws.String(strconv.Itoa(i)),
				ReceiptHandle: m.ReceiptHandle,
			})
		}
		out, err := c.SQS.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: &c.QueueURL,
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("sqs delete batch: %w", err)
		}
		for _, f := range out.Failed {
			logging.From(ctx).Warn("sqs delete failed", "entry", aws.ToString(f.Id), "code", aws.ToString(f.Code))
		}
	}
	return nil
}
