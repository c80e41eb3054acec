// Package events publishes recorded history events to kafka for
// downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"imagevault/internal/models"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer messageWriter
}

func NewPublisher(broker, topic string) *Publisher {
	return &Publisher{writer: kafka.NewWriter(kafka.WriterConfig{
		Brokers: []string{broker},
		Topic:   topic,
	})}
}

// Publish writes event as JSON keyed by its image id, so all events of one
// image land on the same partition in order.
func (p *Publisher) Publish(ctx context.Context, event *models.HistoryEvent) error {
	const op = "events.Publish"

	msg, err := encode(event)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func encode(event *models.HistoryEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(event.ImageID.String()),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(event.Action)},
		},
	}, nil
}
