package queue

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceEvent announces an accepted attendance record.
type AttendanceEvent struct {
	RecordID       uuid.UUID `json:"record_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	DeviceID       string    `json:"device_id"`
	Receipt        string    `json:"receipt"`
	Supervisor     string    `json:"supervisor"`
	Worker         string    `json:"worker"`
	Location       string    `json:"location"`
	Presence       string    `json:"presence"`
	HasPhoto       bool      `json:"has_photo"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// NotificationMessage is a user-facing notice raised by a client.
type NotificationMessage struct {
	ID         uuid.UUID `json:"id"`
	Source     string    `json:"source"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}
