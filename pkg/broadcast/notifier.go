package broadcast

import (
	"context"

	"delivery-dispatch/pkg/events"
	"delivery-dispatch/pkg/kafka"
)

// EventPublisher is the kafka producer surface the notifier needs.
type EventPublisher interface {
	PublishEvent(ctx context.Context, msg kafka.EventMessage) error
	PublishMultipleEvents(ctx context.Context, msgs []kafka.EventMessage) error
}

// KafkaNotifier mirrors every broadcast event onto the events topic so
// external collaborators (push delivery, read models) can consume them.
// Alert lifecycle and breach events additionally go to the notifications
// topic, which feeds the operator paging pipeline.
type KafkaNotifier struct {
	Producer EventPublisher
	Topic    string
}

func NewKafkaNotifier(producer *kafka.Producer) *KafkaNotifier {
	return &KafkaNotifier{
		Producer: producer,
		Topic:    kafka.TopicDispatchEvents,
	}
}

func (n *KafkaNotifier) Notify(ctx context.Context, evt events.DomainEvent) error {
	md := evt.GetMetadata()
	msg := kafka.EventMessage{
		Topic: n.Topic,
		Key:   md.OrderId,
		Event: evt,
	}
	if !notifiable(md.Type) {
		return n.Producer.PublishEvent(ctx, msg)
	}
	return n.Producer.PublishMultipleEvents(ctx, []kafka.EventMessage{
		msg,
		{Topic: kafka.TopicNotifications, Key: md.OrderId, Event: evt},
	})
}

func notifiable(t events.EventType) bool {
	switch t {
	case events.EvtTypeAlertRaised,
		events.EvtTypeAlertAcknowledged,
		events.EvtTypeSlaBreachRaised,
		events.EvtTypeSlaBreachEscalated:
		return true
	default:
		return false
	}
}
