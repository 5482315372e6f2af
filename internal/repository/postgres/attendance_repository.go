package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/acme/attendance-dispatch/internal/domain"
	"github.com/acme/attendance-dispatch/internal/repository"
)

const uniqueViolation = "23505"

// AttendanceRepository implements repository.AttendanceRepository using PostgreSQL.
type AttendanceRepository struct {
	db *sqlx.DB
}

var _ repository.AttendanceRepository = (*AttendanceRepository)(nil)

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Insert stores a record and stamps the roster entry it belongs to.
func (r *AttendanceRepository) Insert(ctx context.Context, record *domain.Record) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}

	q := `INSERT INTO attendance_records (
		id, idempotency_key, device_id, receipt, kind, supervisor, worker, location,
		coordinates, note, presence, photo_name, photo_type, photo, recorded_at
	) VALUES (
		:id, :idempotency_key, :device_id, :receipt, :kind, :supervisor, :worker, :location,
		:coordinates, :note, :presence, :photo_name, :photo_type, :photo, :recorded_at
	)`

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, q, toRow(record)); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("attendance repo: insert: %w", repository.ErrConflict)
			}
			return fmt.Errorf("attendance repo: insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE roster SET last_recorded_at = $1 WHERE supervisor = $2 AND worker = $3`,
			record.RecordedAt, record.Supervisor, record.Worker); err != nil {
			return fmt.Errorf("attendance repo: stamp roster: %w", err)
		}
		return nil
	})
}

// ExistsForDay reports whether worker already has a record of kind on day.
func (r *AttendanceRepository) ExistsForDay(ctx context.Context, worker, kind string, day time.Time) (bool, error) {
	start := dayStart(day)
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (
		SELECT 1 FROM attendance_records
		 WHERE worker = $1 AND kind = $2 AND recorded_at >= $3 AND recorded_at < $4
	)`, worker, kind, start, start.Add(24*time.Hour))
	if err != nil {
		return false, fmt.Errorf("attendance repo: exists for day: %w", err)
	}
	return exists, nil
}

// OnRoster reports whether worker is an active member of supervisor's roster.
func (r *AttendanceRepository) OnRoster(ctx context.Context, supervisor, worker string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (
		SELECT 1 FROM roster WHERE supervisor = $1 AND worker = $2 AND active
	)`, supervisor, worker)
	if err != nil {
		return false, fmt.Errorf("attendance repo: on roster: %w", err)
	}
	return exists, nil
}

// Roster returns the active roster grouped by supervisor.
func (r *AttendanceRepository) Roster(ctx context.Context) (*domain.Roster, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT supervisor, worker FROM roster WHERE active ORDER BY supervisor, worker`)
	if err != nil {
		return nil, fmt.Errorf("attendance repo: roster: %w", err)
	}
	defer rows.Close()

	roster := &domain.Roster{Workers: make(map[string][]string)}
	for rows.Next() {
		var entry rosterRow
		if err := rows.StructScan(&entry); err != nil {
			return nil, fmt.Errorf("attendance repo: roster scan: %w", err)
		}
		if _, ok := roster.Workers[entry.Supervisor]; !ok {
			roster.Supervisors = append(roster.Supervisors, entry.Supervisor)
		}
		roster.Workers[entry.Supervisor] = append(roster.Workers[entry.Supervisor], entry.Worker)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("attendance repo: roster rows err: %w", err)
	}
	return roster, nil
}

// Since lists records at or after since, newest first. Photos are not loaded.
func (r *AttendanceRepository) Since(ctx context.Context, since time.Time, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT id, idempotency_key, device_id, receipt, kind, supervisor, worker, location,
		       coordinates, note, presence, photo_name, photo_type, recorded_at
		  FROM attendance_records
		 WHERE recorded_at >= $1
		 ORDER BY recorded_at DESC
		 LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("attendance repo: since: %w", err)
	}
	defer rows.Close()

	var results []domain.Record
	for rows.Next() {
		var rec recordRow
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("attendance repo: scan: %w", err)
		}
		results = append(results, rec.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("attendance repo: rows err: %w", err)
	}
	return results, nil
}

// Ping checks the connection.
func (r *AttendanceRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type rosterRow struct {
	Supervisor string `db:"supervisor"`
	Worker     string `db:"worker"`
}

type recordRow struct {
	ID             uuid.UUID      `db:"id"`
	IdempotencyKey string         `db:"idempotency_key"`
	DeviceID       string         `db:"device_id"`
	Receipt        string         `db:"receipt"`
	Kind           string         `db:"kind"`
	Supervisor     string         `db:"supervisor"`
	Worker         string         `db:"worker"`
	Location       string         `db:"location"`
	Coordinates    sql.NullString `db:"coordinates"`
	Note           sql.NullString `db:"note"`
	Presence       string         `db:"presence"`
	PhotoName      sql.NullString `db:"photo_name"`
	PhotoType      sql.NullString `db:"photo_type"`
	RecordedAt     time.Time      `db:"recorded_at"`
}

func (r recordRow) toDomain() domain.Record {
	return domain.Record{
		ID:             r.ID,
		IdempotencyKey: r.IdempotencyKey,
		DeviceID:       r.DeviceID,
		Receipt:        r.Receipt,
		Kind:           r.Kind,
		Supervisor:     r.Supervisor,
		Worker:         r.Worker,
		Location:       r.Location,
		Coordinates:    r.Coordinates.String,
		Note:           r.Note.String,
		Presence:       domain.Presence(r.Presence),
		PhotoName:      r.PhotoName.String,
		PhotoType:      r.PhotoType.String,
		RecordedAt:     r.RecordedAt,
	}
}

func toRow(record *domain.Record) map[string]any {
	return map[string]any{
		"id":              record.ID,
		"idempotency_key": record.IdempotencyKey,
		"device_id":       record.DeviceID,
		"receipt":         record.Receipt,
		"kind":            record.Kind,
		"supervisor":      record.Supervisor,
		"worker":          record.Worker,
		"location":        record.Location,
		"coordinates":     nullString(record.Coordinates),
		"note":            nullString(record.Note),
		"presence":        string(record.Presence),
		"photo_name":      nullString(record.PhotoName),
		"photo_type":      nullString(record.PhotoType),
		"photo":           record.Photo,
		"recorded_at":     record.RecordedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
