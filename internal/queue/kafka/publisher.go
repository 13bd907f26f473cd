// Package kafkaqueue publishes outbox envelopes to a Kafka topic. The entity
// id is the record key, so events of one entity stay ordered on a partition.
package kafkaqueue

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"courier/internal/queue"
)

// NewSyncProducer returns an idempotent producer that waits for all in-sync
// replicas.
func NewSyncProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return prod, nil
}

type Publisher struct {
	Producer sarama.SyncProducer
	Topic    string
}

func (p *Publisher) Publish(ctx context.Context, batch []queue.Envelope) error {
	if len(batch) == 0 {
		return nil
	}
	msgs := make([]*sarama.ProducerMessage, 0, len(batch))
	for _, env := range batch {
		body, err := env.Marshal()
		if err != nil {
			return err
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.Topic,
			Key:   sarama.StringEncoder(env.EntityID),
			Value: sarama.ByteEncoder(body),
			Headers: []sarama.RecordHeader{
				{Key: []byte(queue.AttrEventType), Value: []byte(env.EventType)},
				{Key: []byte("event_id"), Value: []byte(env.ID)},
			},
		})
	}

	// SendMessages does not take a context; give up waiting when ctx ends.
	done := make(chan error, 1)
	go func() { done <- p.Producer.SendMessages(msgs) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("kafka send: %w", err)
		}
		return nil
	}
}

func (p *Publisher) Close() error { return p.Producer.Close() }
