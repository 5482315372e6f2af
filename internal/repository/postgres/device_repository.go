package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acme/attendance-dispatch/internal/domain"
	"github.com/acme/attendance-dispatch/internal/repository"
)

// DeviceRepository implements repository.DeviceRepository using PostgreSQL.
type DeviceRepository struct {
	db *sqlx.DB
}

var _ repository.DeviceRepository = (*DeviceRepository)(nil)

// NewDeviceRepository constructs the repository.
func NewDeviceRepository(db *sqlx.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Upsert registers the device or refreshes it. Empty fields never overwrite
// stored values.
func (r *DeviceRepository) Upsert(ctx context.Context, device domain.Device) (*domain.Device, error) {
	q := `INSERT INTO devices (id, name, email, token, last_seen_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		name = COALESCE(NULLIF(EXCLUDED.name, ''), devices.name),
		email = COALESCE(NULLIF(EXCLUDED.email, ''), devices.email),
		token = COALESCE(NULLIF(EXCLUDED.token, ''), devices.token),
		last_seen_at = EXCLUDED.last_seen_at
	RETURNING id, name, email, token, last_seen_at`

	var row deviceRow
	if err := r.db.QueryRowxContext(ctx, q, device.ID, device.Name, device.Email, device.Token, time.Now().UTC()).StructScan(&row); err != nil {
		return nil, fmt.Errorf("device repo: upsert: %w", err)
	}
	out := row.toDomain()
	return &out, nil
}

type deviceRow struct {
	ID       string         `db:"id"`
	Name     sql.NullString `db:"name"`
	Email    sql.NullString `db:"email"`
	Token    sql.NullString `db:"token"`
	LastSeen sql.NullTime   `db:"last_seen_at"`
}

func (r deviceRow) toDomain() domain.Device {
	d := domain.Device{ID: r.ID, Name: r.Name.String, Email: r.Email.String, Token: r.Token.String}
	if r.LastSeen.Valid {
		t := r.LastSeen.Time
		d.LastSeen = &t
	}
	return d
}
