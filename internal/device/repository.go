package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Info, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Info, error)

	// Upsert inserts a device or replaces the existing row with the same id.
	Upsert(ctx context.Context, info *Info) error

	// UpdateStatus updates only the status and timestamp columns.
	// This is optimised for frequent updates from the connection manager.
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error

	// Delete removes a device by ID.
	// Returns ErrNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// schema is the device catalogue table. Created idempotently on startup;
// the catalogue is a single table so versioned migrations are not needed.
const schema = `
CREATE TABLE IF NOT EXISTS devices (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	type          TEXT NOT NULL,
	transport     TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'disconnected',
	last_seen     TIMESTAMP,
	battery_level INTEGER,
	address       TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_devices_transport ON devices(transport);
`

// NewSQLiteRepository creates a new SQLite-backed repository and ensures
// the devices table exists.
func NewSQLiteRepository(ctx context.Context, db *sql.DB) (*SQLiteRepository, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating devices table: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Info, error) {
	query := `
		SELECT id, name, type, transport, status, last_seen, battery_level,
			address, created_at, updated_at
		FROM devices
		WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	info, err := scanInfo(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return info, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Info, error) {
	query := `
		SELECT id, name, type, transport, status, last_seen, battery_level,
			address, created_at, updated_at
		FROM devices`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Info
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		devices = append(devices, *info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}
	return devices, nil
}

// Upsert inserts a device or replaces the existing row with the same id.
func (r *SQLiteRepository) Upsert(ctx context.Context, info *Info) error {
	query := `
		INSERT INTO devices (id, name, type, transport, status, last_seen,
			battery_level, address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			transport = excluded.transport,
			status = excluded.status,
			last_seen = excluded.last_seen,
			battery_level = excluded.battery_level,
			address = excluded.address,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		info.ID, info.Name, string(info.Type), string(info.Transport),
		string(info.Status), info.LastSeen, info.BatteryLevel, info.Address,
		info.CreatedAt, info.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}
	return nil
}

// UpdateStatus updates only the status and timestamp columns.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error {
	query := `
		UPDATE devices
		SET status = ?, updated_at = ?,
			last_seen = CASE WHEN ? = 'connected' THEN ? ELSE last_seen END
		WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query, string(status), at, string(status), at, id)
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanInfo.
type scanner interface {
	Scan(dest ...any) error
}

// scanInfo reads one device row into an Info.
func scanInfo(s scanner) (*Info, error) {
	var (
		info         Info
		typeStr      string
		transportStr string
		statusStr    string
		lastSeen     sql.NullTime
		battery      sql.NullInt64
	)

	err := s.Scan(&info.ID, &info.Name, &typeStr, &transportStr, &statusStr,
		&lastSeen, &battery, &info.Address, &info.CreatedAt, &info.UpdatedAt)
	if err != nil {
		return nil, err
	}

	info.Type = Type(typeStr)
	info.Transport = Transport(transportStr)
	info.Status = Status(statusStr)
	if lastSeen.Valid {
		ls := lastSeen.Time
		info.LastSeen = &ls
	}
	if battery.Valid {
		bl := int(battery.Int64)
		info.BatteryLevel = &bl
	}

	return &info, nil
}
