package broadcast_test

import (
	"context"
	"testing"

	"delivery-dispatch/pkg/broadcast"
	"delivery-dispatch/pkg/events"
	"delivery-dispatch/pkg/kafka"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureProducer struct {
	single  []kafka.EventMessage
	batches [][]kafka.EventMessage
}

func (p *captureProducer) PublishEvent(ctx context.Context, msg kafka.EventMessage) error {
	p.single = append(p.single, msg)
	return nil
}

func (p *captureProducer) PublishMultipleEvents(ctx context.Context, msgs []kafka.EventMessage) error {
	p.batches = append(p.batches, msgs)
	return nil
}

func TestKafkaNotifier_MirrorsOntoEventsTopic(t *testing.T) {
	producer := &captureProducer{}
	notifier := &broadcast.KafkaNotifier{Producer: producer, Topic: kafka.TopicDispatchEvents}

	evt := events.EventOrderAssigned{
		Metadata: events.NewMetadata(events.EvtTypeOrderAssigned, "order-1", "rider-1", events.ProducerAssignmentEngine),
	}
	require.NoError(t, notifier.Notify(context.Background(), evt))

	require.Len(t, producer.single, 1)
	assert.Empty(t, producer.batches)
	assert.Equal(t, kafka.TopicDispatchEvents, producer.single[0].Topic)
	assert.Equal(t, "order-1", producer.single[0].Key)
}

func TestKafkaNotifier_AlertsFanOutToNotifications(t *testing.T) {
	producer := &captureProducer{}
	notifier := &broadcast.KafkaNotifier{Producer: producer, Topic: kafka.TopicDispatchEvents}

	for _, evtType := range []events.EventType{
		events.EvtTypeAlertRaised,
		events.EvtTypeAlertAcknowledged,
		events.EvtTypeSlaBreachRaised,
		events.EvtTypeSlaBreachEscalated,
	} {
		evt := events.EventAlert{
			Metadata: events.NewMetadata(evtType, "order-1", "", events.ProducerAlertStore),
		}
		require.NoError(t, notifier.Notify(context.Background(), evt))
	}

	assert.Empty(t, producer.single)
	require.Len(t, producer.batches, 4)
	for _, batch := range producer.batches {
		require.Len(t, batch, 2)
		assert.Equal(t, kafka.TopicDispatchEvents, batch[0].Topic)
		assert.Equal(t, kafka.TopicNotifications, batch[1].Topic)
	}
}
