package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// NotificationPublisher publishes client notifications to Kafka.
type NotificationPublisher struct {
	writer messageWriter
}

// NewNotificationPublisher constructs a publisher for the given topic.
func NewNotificationPublisher(k *Kafka, topic string) *NotificationPublisher {
	return &NotificationPublisher{writer: k.NewWriter(topic)}
}

// PublishNotification writes the notification keyed by its source.
func (p *NotificationPublisher) PublishNotification(ctx context.Context, msg NotificationMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notification publisher: marshal message: %w", err)
	}

	record := kafka.Message{
		Key:   []byte(msg.Source),
		Value: value,
		Time:  msg.OccurredAt,
	}
	if record.Time.IsZero() {
		record.Time = time.Now().UTC()
	}

	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("notification publisher: write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *NotificationPublisher) Close() error {
	return p.writer.Close()
}
