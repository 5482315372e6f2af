package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/attendance-dispatch/internal/domain"
	"github.com/acme/attendance-dispatch/internal/queue"
	"github.com/acme/attendance-dispatch/internal/repository"
	"github.com/acme/attendance-dispatch/internal/service/common"
	apperrors "github.com/acme/attendance-dispatch/pkg/errors"
	"github.com/acme/attendance-dispatch/pkg/logger"
)

const (
	recentDays = 3
	dateLayout = "2006-01-02"

	statusOK       = "OK"
	statusRecorded = "Attendance recorded"
	statusRejected = "Rejected"
)

// Publisher announces accepted records.
type Publisher interface {
	PublishAttendance(ctx context.Context, evt queue.AttendanceEvent) error
}

// Service answers attendance envelopes.
type Service struct {
	records   repository.AttendanceRepository
	devices   repository.DeviceRepository
	publisher Publisher
	logger    *logger.Logger
	location  *time.Location
	now       func() time.Time
}

// NewService builds the intake service. loc is the time zone days are counted in.
func NewService(records repository.AttendanceRepository, devices repository.DeviceRepository, publisher Publisher, loc *time.Location, log *logger.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		records:   records,
		devices:   devices,
		publisher: publisher,
		logger:    log.Component("intake"),
		location:  loc,
		now:       time.Now,
	}
}

// Handle routes env by type. Refusals come back as a Reply with Confirm=false;
// an error means the envelope itself was malformed or a dependency failed.
func (s *Service) Handle(ctx context.Context, idempotencyKey string, env domain.Envelope) (domain.Reply, error) {
	switch env.Type {
	case domain.RequestRoster:
		return s.roster(ctx)
	case domain.RequestRecent:
		return s.recent(ctx)
	case domain.RequestSubmit:
		return s.submit(ctx, idempotencyKey, env)
	case domain.RequestValidate:
		return s.validate(ctx, env)
	default:
		return domain.Reply{}, fmt.Errorf("%w: unknown request type %q", apperrors.ErrValidation, env.Type)
	}
}

func (s *Service) roster(ctx context.Context) (domain.Reply, error) {
	roster, err := s.records.Roster(ctx)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("intake service: load roster: %w", err)
	}
	return confirmed(statusOK, "", roster)
}

func (s *Service) recent(ctx context.Context) (domain.Reply, error) {
	now := s.now().In(s.location)
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location).AddDate(0, 0, -(recentDays - 1))

	records, err := s.records.Since(ctx, since, 0)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("intake service: load recent: %w", err)
	}
	return confirmed(statusOK, "", groupRecent(records, s.location))
}

func groupRecent(records []domain.Record, loc *time.Location) domain.Recent {
	sorted := make([]domain.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RecordedAt.After(sorted[j].RecordedAt)
	})

	recent := domain.Recent{Supervisors: []string{}, Data: map[string]map[string]map[string][]domain.RecentEntry{}}
	for _, r := range sorted {
		at := r.RecordedAt.In(loc)
		recent.Add(r.Supervisor, at.Format(dateLayout), r.Location, domain.RecentEntry{
			Worker:    r.Worker,
			Presence:  r.Presence,
			Timestamp: at,
		})
	}
	sort.Strings(recent.Supervisors)
	return recent
}

func (s *Service) submit(ctx context.Context, idempotencyKey string, env domain.Envelope) (domain.Reply, error) {
	if env.DeviceID() == "" {
		return domain.Reply{}, fmt.Errorf("%w: device is required", apperrors.ErrValidation)
	}
	var sub domain.Submission
	if err := json.Unmarshal(env.Data, &sub); err != nil {
		return domain.Reply{}, fmt.Errorf("%w: submission data: %v", apperrors.ErrValidation, err)
	}
	if err := sub.Validate(); err != nil {
		return refused(statusRejected, strings.TrimPrefix(err.Error(), apperrors.ErrValidation.Error()+": ")), nil
	}

	onRoster, err := s.records.OnRoster(ctx, sub.Supervisor, sub.Worker)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("intake service: check roster: %w", err)
	}
	if !onRoster {
		return refused(statusRejected, fmt.Sprintf("%s is not on %s's roster", sub.Worker, sub.Supervisor)), nil
	}

	now := s.now().In(s.location)
	exists, err := s.records.ExistsForDay(ctx, sub.Worker, sub.Kind, now)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("intake service: check duplicate: %w", err)
	}
	if exists {
		return refused(statusRejected, fmt.Sprintf("%s already has a %s record today", sub.Worker, sub.Kind)), nil
	}

	record := &domain.Record{
		ID:             uuid.New(),
		IdempotencyKey: idempotencyKey,
		DeviceID:       env.DeviceID(),
		Receipt:        sub.Receipt,
		Kind:           sub.Kind,
		Supervisor:     sub.Supervisor,
		Worker:         sub.Worker,
		Location:       sub.Location,
		Coordinates:    sub.Coordinates,
		Note:           sub.Note,
		Presence:       sub.Presence,
		RecordedAt:     now.UTC(),
	}
	if record.IdempotencyKey == "" {
		record.IdempotencyKey = record.ID.String()
	}
	if sub.Photo != nil {
		data, contentType, err := common.DecodeBase64(sub.Photo.Data)
		if err != nil {
			return refused(statusRejected, "photo could not be read"), nil
		}
		record.Photo = data
		record.PhotoName = sub.Photo.Name
		record.PhotoType = sub.Photo.ContentType
		if record.PhotoType == "" {
			record.PhotoType = contentType
		}
	}

	if err := s.records.Insert(ctx, record); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			s.logger.Info("submission already stored", zap.String("idempotency_key", idempotencyKey))
			return confirmed(statusRecorded, fmt.Sprintf("%s already recorded", sub.Worker), nil)
		}
		return domain.Reply{}, fmt.Errorf("intake service: store record: %w", err)
	}

	evt := queue.AttendanceEvent{
		RecordID:       record.ID,
		IdempotencyKey: record.IdempotencyKey,
		DeviceID:       record.DeviceID,
		Receipt:        record.Receipt,
		Supervisor:     record.Supervisor,
		Worker:         record.Worker,
		Location:       record.Location,
		Presence:       string(record.Presence),
		HasPhoto:       len(record.Photo) > 0,
		RecordedAt:     record.RecordedAt,
	}
	if err := s.publisher.PublishAttendance(ctx, evt); err != nil {
		s.logger.Warn("publish attendance event failed", zap.String("record_id", record.ID.String()), zap.Error(err))
	}

	return confirmed(statusRecorded, fmt.Sprintf("%s recorded as %s", sub.Worker, sub.Presence), nil)
}

func (s *Service) validate(ctx context.Context, env domain.Envelope) (domain.Reply, error) {
	if env.DeviceID() == "" {
		return domain.Reply{}, fmt.Errorf("%w: device is required", apperrors.ErrValidation)
	}
	device, err := s.devices.Upsert(ctx, *env.Device)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("intake service: register device: %w", err)
	}
	return confirmed(statusOK, "", device)
}

func confirmed(status, msg string, data any) (domain.Reply, error) {
	reply := domain.Reply{Confirm: true, Status: status, Msg: msg}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return domain.Reply{}, fmt.Errorf("intake service: encode reply: %w", err)
		}
		reply.Data = raw
	}
	return reply, nil
}

func refused(status, msg string) domain.Reply {
	return domain.Reply{Confirm: false, Status: status, Msg: msg}
}
