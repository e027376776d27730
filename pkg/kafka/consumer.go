package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	svcerror "delivery-dispatch/pkg/error"
	"delivery-dispatch/pkg/events"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	reader   *kafka.Reader
	producer *Producer
}

type ConsumerConfig struct {
	Brokers []string
	Topics  []string
	GroupId string
}

// NewConsumer builds a group consumer. Non-business handler failures go
// to the dead-letter topic through producer; pass nil to drop them.
func NewConsumer(conf ConsumerConfig, producer *Producer) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        conf.Brokers,
		GroupTopics:    conf.Topics,
		GroupID:        conf.GroupId,
		MinBytes:       1,
		MaxBytes:       10 * 1024 * 1024, //	10MB
		StartOffset:    kafka.LastOffset,
		CommitInterval: 0,
	})

	return &Consumer{
		reader:   reader,
		producer: producer,
	}
}

type Message kafka.Message
type MessageHandler func(ctx context.Context, message Message) error

// ConsumeMessages fans messages out to one worker per partition so
// ordering holds within a partition while partitions proceed in
// parallel.
func (c *Consumer) ConsumeMessages(ctx context.Context, handler MessageHandler) error {
	partChannels := make(map[int]chan kafka.Message)
	var mu sync.Mutex
	var wg sync.WaitGroup

	defer func() {
		mu.Lock()
		for _, ch := range partChannels {
			close(ch)
		}
		mu.Unlock()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return ctx.Err()
				}
				log.Printf("Failed to fetch message: %v", err)
				continue
			}

			partition := msg.Partition

			mu.Lock()
			ch, ok := partChannels[partition]
			if !ok {
				ch = make(chan kafka.Message, 1024)
				partChannels[partition] = ch
				wg.Add(1)
				go func() {
					defer wg.Done()
					c.runWorker(ctx, handler, ch)
				}()
			}
			mu.Unlock()

			select {
			case ch <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (c *Consumer) runWorker(ctx context.Context, handler MessageHandler, messageChannel <-chan kafka.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messageChannel:
			if !ok {
				return
			}

			if err := handler(ctx, Message(msg)); err != nil {
				c.handleMessageError(ctx, err, msg)
				continue
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				log.Printf("Failed to commit message: %v", err)
			}
		}
	}
}

func (c *Consumer) handleMessageError(ctx context.Context, err error, msg kafka.Message) {
	var ed *svcerror.ErrorDetails
	if !errors.As(err, &ed) {
		log.Printf("Failed to handle message: %v", err)
		return
	}

	switch ed.Code {
	case svcerror.ErrBusinessError, svcerror.ErrNotFound, svcerror.ErrNoRiderAvailable:
		log.Printf("Failed to handle message: %+v", err)
	default:
		if c.producer == nil {
			log.Printf("Dropping message after failure (no DLQ producer): %+v", err)
			return
		}

		var env events.EventEnvelope
		_ = json.Unmarshal(msg.Value, &env)

		dlqEvent := events.EventDLQ{
			ErrorDetails: err,
			Payload:      msg.Value,
			Metadata: events.Metadata{
				MessageId: uuid.NewString(),
				Type:      events.EvtTypeDeadLetterQueue,
				OrderId:   env.Metadata.OrderId,
				RiderId:   env.Metadata.RiderId,
				Timestamp: time.Now().UTC(),
				Producer:  env.Metadata.Producer,
			},
		}
		if err := c.producer.PublishEvent(ctx, EventMessage{
			Topic: TopicDeadLetterQueue,
			Key:   env.Metadata.OrderId,
			Event: dlqEvent,
		}); err != nil {
			log.Printf("Failed to publish to DLQ: %v", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
