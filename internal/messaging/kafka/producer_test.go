package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer)

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, TopicOrderEvents, msg.Topic)
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "order-123", string(key))
		require.Len(t, msg.Headers, 1)
		assert.Equal(t, HeaderEventType, string(msg.Headers[0].Key))
		return nil
	})

	err := producer.PublishEvent(context.Background(), TopicOrderEvents, "order-123",
		map[string]string{"order_id": "order-123"},
		Header{Key: HeaderEventType, Value: "order.placed"},
	)
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer)

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.PublishEvent(context.Background(), TopicOrderEvents, "order-123", map[string]string{})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishEvent_CanceledContext(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := producer.PublishEvent(ctx, TopicOrderEvents, "order-123", map[string]string{})
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := newProducer(mockProducer)

	err := producer.PublishEvent(context.Background(), TopicOrderEvents, "k", map[string]any{"bad": make(chan int)})
	var jsonErr *json.UnsupportedTypeError
	require.ErrorAs(t, err, &jsonErr)
	require.NoError(t, mockProducer.Close())
}
