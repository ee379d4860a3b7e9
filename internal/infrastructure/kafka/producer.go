package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/marketplace/internal/events"
)

const eventTypeHeader = "event-type"

// Producer publishes marketplace events to one topic. It satisfies
// events.Publisher.
type Producer struct {
	writer *kafka.Writer
}

var _ events.Publisher = (*Producer)(nil)

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{writer: writer}
}

// Publish writes event keyed by the aggregate id so events of one order or
// payment land on the same partition.
func (p *Producer) Publish(ctx context.Context, key string, event any) error {
	msg, err := newMessage(key, event, time.Now())
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.writer.Topic, err)
	}
	return nil
}

func newMessage(key string, event any, at time.Time) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  at,
	}
	if ev, ok := event.(events.Event); ok {
		msg.Headers = []kafka.Header{{Key: eventTypeHeader, Value: []byte(ev.EventType)}}
	}
	return msg, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
