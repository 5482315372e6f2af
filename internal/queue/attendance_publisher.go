package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// AttendancePublisher publishes accepted attendance records.
type AttendancePublisher struct {
	writer messageWriter
}

// NewAttendancePublisher constructs a publisher for the given topic.
func NewAttendancePublisher(k *Kafka, topic string) *AttendancePublisher {
	return &AttendancePublisher{writer: k.NewWriter(topic)}
}

// PublishAttendance emits the event keyed by worker so a worker's records stay
// ordered within a partition.
func (p *AttendancePublisher) PublishAttendance(ctx context.Context, evt AttendanceEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("attendance publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   []byte(evt.Worker),
		Value: value,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "idempotency-key", Value: []byte(evt.IdempotencyKey)},
		},
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("attendance publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *AttendancePublisher) Close() error {
	return p.writer.Close()
}
