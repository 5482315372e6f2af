package repository

import (
	"context"
	"time"

	"github.com/acme/attendance-dispatch/internal/domain"
	apperrors "github.com/acme/attendance-dispatch/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// AttendanceRepository persists attendance records and the roster they are
// checked against.
type AttendanceRepository interface {
	Insert(ctx context.Context, record *domain.Record) error
	ExistsForDay(ctx context.Context, worker, kind string, day time.Time) (bool, error)
	OnRoster(ctx context.Context, supervisor, worker string) (bool, error)
	Roster(ctx context.Context) (*domain.Roster, error)
	Since(ctx context.Context, since time.Time, limit int) ([]domain.Record, error)
	Ping(ctx context.Context) error
}

// DeviceRepository stores registered devices.
type DeviceRepository interface {
	Upsert(ctx context.Context, device domain.Device) (*domain.Device, error)
}

// ReceiptLedger keeps an append-only log of intake attempts.
type ReceiptLedger interface {
	Append(ctx context.Context, receipt domain.Receipt) error
	ListByDay(ctx context.Context, day time.Time, limit int, pagingState []byte) ([]domain.Receipt, []byte, error)
	Ping(ctx context.Context) error
}
