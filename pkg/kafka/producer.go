package kafka

import (
	"context"
	"encoding/json"
	"time"

	svcerror "delivery-dispatch/pkg/error"

	"github.com/segmentio/kafka-go"
)

type Producer struct {
	Writer *kafka.Writer
}

type ProducerConfig struct {
	Brokers []string
}

type EventMessage struct {
	Topic string
	Key   string
	Event any
}

func NewProducer(conf ProducerConfig) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(conf.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		Async:                  false,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
	}

	return &Producer{
		Writer: writer,
	}
}

func (p *Producer) PublishEvent(ctx context.Context, evtMessage EventMessage) error {
	value, err := json.Marshal(evtMessage.Event)
	if err != nil {
		return svcerror.New(
			svcerror.ErrInternalError,
			svcerror.WithOp("Producer.PublishEvent"),
			svcerror.WithMsg("marshal event"),
			svcerror.WithCause(err),
			svcerror.WithTime(time.Now().UTC()),
		)
	}

	msg := kafka.Message{
		Topic: evtMessage.Topic,
		Key:   []byte(evtMessage.Key),
		Value: value,
		Time:  time.Now(),
	}

	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		return svcerror.New(
			svcerror.ErrPublishError,
			svcerror.WithOp("Producer.PublishEvent"),
			svcerror.WithMsg("failed to publish event"),
			svcerror.WithCause(err),
			svcerror.WithTime(time.Now().UTC()),
		)
	}

	return nil
}

func (p *Producer) PublishMultipleEvents(ctx context.Context, events []EventMessage) error {
	messages := make([]kafka.Message, 0, len(events))

	for _, event := range events {
		value, err := json.Marshal(event.Event)
		if err != nil {
			return svcerror.New(
				svcerror.ErrInternalError,
				svcerror.WithOp("Producer.PublishMultipleEvents"),
				svcerror.WithMsg("marshal event"),
				svcerror.WithCause(err),
				svcerror.WithTime(time.Now().UTC()),
			)
		}
		messages = append(messages, kafka.Message{
			Topic: event.Topic,
			Key:   []byte(event.Key),
			Value: value,
			Time:  time.Now(),
		})
	}

	if err := p.Writer.WriteMessages(ctx, messages...); err != nil {
		return svcerror.New(
			svcerror.ErrPublishError,
			svcerror.WithOp("Producer.PublishMultipleEvents"),
			svcerror.WithMsg("failed to publish events"),
			svcerror.WithCause(err),
			svcerror.WithTime(time.Now().UTC()),
		)
	}

	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
