package kafkaqueue

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/queue"
)

func testConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	return cfg
}

func TestPublishSendsOneRecordPerEnvelope(t *testing.T) {
	prod := mocks.NewSyncProducer(t, testConfig())
	p := &Publisher{Producer: prod, Topic: "courier.events"}

	batch := []queue.Envelope{
		{ID: "evt_1", EntityID: "m1", EventType: "message_created"},
		{ID: "evt_2", EntityID: "m2", EventType: "message_distributed"},
	}
	for _, env := range batch {
		want := env.ID
		prod.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			got, err := queue.Decode(val)
			if err != nil {
				return err
			}
			if got.ID != want {
				return errors.New("unexpected envelope " + got.ID)
			}
			return nil
		})
	}

	require.NoError(t, p.Publish(context.Background(), batch))
	require.NoError(t, p.Close())
}

func TestPublishSurfacesBrokerErrors(t *testing.T) {
	prod := mocks.NewSyncProducer(t, testConfig())
	p := &Publisher{Producer: prod, Topic: "courier.events"}
	prod.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	err := p.Publish(context.Background(), []queue.Envelope{{ID: "evt_1", EntityID: "m1", EventType: "message_created"}})
	assert.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)
	require.NoError(t, p.Close())
}

func TestPublishEmptyBatchIsNoop(t *testing.T) {
	prod := mocks.NewSyncProducer(t, testConfig())
	p := &Publisher{Producer: prod, Topic: "courier.events"}
	assert.NoError(t, p.Publish(context.Background(), nil))
	require.NoError(t, p.Close())
}
