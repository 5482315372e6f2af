package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/acme/attendance-dispatch/pkg/errors"
)

// RequestType selects the operation carried by an Envelope.
type RequestType string

const (
	RequestRoster   RequestType = "getData"
	RequestRecent   RequestType = "getThreeDays"
	RequestSubmit   RequestType = "addTRX"
	RequestValidate RequestType = "validate"
)

// Valid reports whether t is a known request type.
func (t RequestType) Valid() bool {
	switch t {
	case RequestRoster, RequestRecent, RequestSubmit, RequestValidate:
		return true
	}
	return false
}

// Presence is the attendance state recorded for a worker.
type Presence string

const (
	PresencePresent Presence = "present"
	PresenceSick    Presence = "sick"
	PresenceLeave   Presence = "leave"
	PresenceAbsent  Presence = "absent"
)

// Valid reports whether p is a known presence state.
func (p Presence) Valid() bool {
	switch p {
	case PresencePresent, PresenceSick, PresenceLeave, PresenceAbsent:
		return true
	}
	return false
}

// Device identifies the submitting handset.
type Device struct {
	ID       string     `json:"id"`
	Name     string     `json:"name,omitempty"`
	Email    string     `json:"email,omitempty"`
	Token    string     `json:"token,omitempty"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// Envelope is the body of every request the field client sends.
type Envelope struct {
	Type   RequestType     `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
	Device *Device         `json:"device,omitempty"`
}

// DeviceID returns the device id or "" when the envelope is anonymous.
func (e Envelope) DeviceID() string {
	if e.Device == nil {
		return ""
	}
	return strings.TrimSpace(e.Device.ID)
}

// Reply is the body of every intake response. Confirm=false is a refusal of
// the request itself and is not worth retrying.
type Reply struct {
	Confirm bool            `json:"confirm"`
	Status  string          `json:"status,omitempty"`
	Msg     string          `json:"msg,omitempty"`
	Icon    string          `json:"icon,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Attachment is a base64 encoded file carried inside a submission.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Data        string `json:"data"`
}

// Submission is the data of an addTRX envelope.
type Submission struct {
	Receipt     string      `json:"receipt"`
	Kind        string      `json:"kind"`
	Supervisor  string      `json:"supervisor"`
	Worker      string      `json:"worker"`
	Location    string      `json:"location"`
	Coordinates string      `json:"coordinates,omitempty"`
	Note        string      `json:"note,omitempty"`
	Presence    Presence    `json:"presence"`
	Photo       *Attachment `json:"photo,omitempty"`
}

// Validate checks required fields. A present worker needs a photo; any other
// presence needs a note explaining it.
func (s Submission) Validate() error {
	required := map[string]string{
		"receipt":    s.Receipt,
		"kind":       s.Kind,
		"supervisor": s.Supervisor,
		"worker":     s.Worker,
		"location":   s.Location,
	}
	for _, field := range []string{"receipt", "kind", "supervisor", "worker", "location"} {
		if strings.TrimSpace(required[field]) == "" {
			return fmt.Errorf("%w: %s is required", apperrors.ErrValidation, field)
		}
	}
	if !s.Presence.Valid() {
		return fmt.Errorf("%w: unknown presence %q", apperrors.ErrValidation, s.Presence)
	}
	if s.Presence == PresencePresent {
		if s.Photo == nil || s.Photo.Name == "" || s.Photo.Data == "" {
			return fmt.Errorf("%w: photo is required when present", apperrors.ErrValidation)
		}
		return nil
	}
	if strings.TrimSpace(s.Note) == "" {
		return fmt.Errorf("%w: note is required when %s", apperrors.ErrValidation, s.Presence)
	}
	return nil
}

// Record is a stored attendance entry.
type Record struct {
	ID             uuid.UUID
	IdempotencyKey string
	DeviceID       string
	Receipt        string
	Kind           string
	Supervisor     string
	Worker         string
	Location       string
	Coordinates    string
	Note           string
	Presence       Presence
	PhotoName      string
	PhotoType      string
	Photo          []byte
	RecordedAt     time.Time
}

// Roster lists the workers each supervisor is responsible for.
type Roster struct {
	Supervisors []string            `json:"supervisors"`
	Workers     map[string][]string `json:"workers"`
}

// RecentEntry is one worker check-in inside Recent.
type RecentEntry struct {
	Worker    string    `json:"worker"`
	Presence  Presence  `json:"presence"`
	Timestamp time.Time `json:"timestamp"`
}

// Recent groups the last days of records by supervisor, date and location.
type Recent struct {
	Supervisors []string                                       `json:"supervisors"`
	Data        map[string]map[string]map[string][]RecentEntry `json:"data"`
}

// Add files an entry under supervisor, date and location.
func (r *Recent) Add(supervisor, date, location string, entry RecentEntry) {
	if r.Data == nil {
		r.Data = make(map[string]map[string]map[string][]RecentEntry)
	}
	byDate, ok := r.Data[supervisor]
	if !ok {
		byDate = make(map[string]map[string][]RecentEntry)
		r.Data[supervisor] = byDate
		r.Supervisors = append(r.Supervisors, supervisor)
	}
	byLocation, ok := byDate[date]
	if !ok {
		byLocation = make(map[string][]RecentEntry)
		byDate[date] = byLocation
	}
	byLocation[location] = append(byLocation[location], entry)
}

// Receipt is the ledger entry written for every intake attempt.
type Receipt struct {
	IdempotencyKey string
	DeviceID       string
	Type           RequestType
	StatusCode     int
	Replayed       bool
	ReceivedAt     time.Time
}
