// Package postgres keeps the sensor registry and its update history in
// PostgreSQL. Devices are a TEXT[] column bound through pq.Array.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

type Registry struct {
	db  *sql.DB
	now func() time.Time
}

func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Registry) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sensors (
	sensor_id TEXT PRIMARY KEY,
	devices TEXT[] NOT NULL DEFAULT '{}',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS sensor_update_history (
	history_id TEXT PRIMARY KEY,
	sensor_id TEXT NOT NULL REFERENCES sensors (sensor_id),
	ts TIMESTAMPTZ NOT NULL,
	old_data JSONB NOT NULL,
	updated_fields JSONB NOT NULL
)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sensors: %w", err)
		}
	}
	return nil
}

func (r *Registry) ExistsActive(ctx context.Context, sensorID string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM sensors WHERE sensor_id = $1 AND active)", sensorID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("lookup sensor: %w", err)
	}
	return ok, nil
}

// Register inserts s or reactivates a deactivated row with the same id.
func (r *Registry) Register(ctx context.Context, s domain.Sensor) (domain.Sensor, error) {
	now := r.now()
	if s.Devices == nil {
		s.Devices = []string{}
	}
	const q = `INSERT INTO sensors (sensor_id, devices, active, created_at, updated_at)
VALUES ($1, $2, TRUE, $3, $3)
ON CONFLICT (sensor_id) DO UPDATE SET devices = EXCLUDED.devices, active = TRUE, updated_at = EXCLUDED.updated_at
WHERE sensors.active = FALSE
RETURNING created_at`
	err := r.db.QueryRowContext(ctx, q, s.SensorID, pq.Array(s.Devices), now).Scan(&s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Sensor{}, domain.ErrAlreadyExists
	}
	if err != nil {
		return domain.Sensor{}, fmt.Errorf("insert sensor: %w", err)
	}
	s.Active = true
	s.UpdatedAt = now
	return s, nil
}

func (r *Registry) Get(ctx context.Context, sensorID string) (domain.Sensor, error) {
	s := domain.Sensor{SensorID: sensorID, Active: true}
	err := r.db.QueryRowContext(ctx,
		"SELECT devices, created_at, updated_at FROM sensors WHERE sensor_id = $1 AND active",
		sensorID,
	).Scan(pq.Array(&s.Devices), &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Sensor{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Sensor{}, fmt.Errorf("select sensor: %w", err)
	}
	return s, nil
}

// UpdateDevices replaces the device list and records the previous one.
func (r *Registry) UpdateDevices(ctx context.Context, sensorID string, devices []string) (domain.Sensor, error) {
	if devices == nil {
		devices = []string{}
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Sensor{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	s := domain.Sensor{SensorID: sensorID, Active: true}
	var old []string
	err = tx.QueryRowContext(ctx,
		"SELECT devices, created_at, updated_at FROM sensors WHERE sensor_id = $1 AND active FOR UPDATE",
		sensorID,
	).Scan(pq.Array(&old), &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Sensor{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Sensor{}, fmt.Errorf("select sensor: %w", err)
	}

	now := r.now()
	oldData, err := json.Marshal(map[string]any{"devices": old, "updated_at": s.UpdatedAt})
	if err != nil {
		return domain.Sensor{}, err
	}
	updated, err := json.Marshal(map[string]any{"devices": devices})
	if err != nil {
		return domain.Sensor{}, err
	}

	if _, err := tx.ExecContext(ctx, "UPDATE sensors SET devices = $2, updated_at = $3 WHERE sensor_id = $1", sensorID, pq.Array(devices), now); err != nil {
		return domain.Sensor{}, fmt.Errorf("update sensor: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO sensor_update_history (history_id, sensor_id, ts, old_data, updated_fields) VALUES ($1,$2,$3,$4,$5)",
		uuid.NewString(), sensorID, now, oldData, updated,
	); err != nil {
		return domain.Sensor{}, fmt.Errorf("insert history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Sensor{}, fmt.Errorf("commit: %w", err)
	}

	s.Devices = devices
	s.UpdatedAt = now
	return s, nil
}

func (r *Registry) Deactivate(ctx context.Context, sensorID string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE sensors SET active = FALSE, updated_at = $2 WHERE sensor_id = $1 AND active", sensorID, r.now())
	if err != nil {
		return fmt.Errorf("deactivate sensor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Registry) History(ctx context.Context, sensorID string) ([]domain.SensorUpdate, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT history_id, sensor_id, ts, old_data, updated_fields FROM sensor_update_history WHERE sensor_id = $1 ORDER BY ts ASC",
		sensorID,
	)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	var out []domain.SensorUpdate
	for rows.Next() {
		var (
			u             domain.SensorUpdate
			oldRaw, upRaw []byte
		)
		if err := rows.Scan(&u.HistoryID, &u.SensorID, &u.Timestamp, &oldRaw, &upRaw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(oldRaw, &u.OldData); err != nil {
			return nil, fmt.Errorf("decode history %s: %w", u.HistoryID, err)
		}
		if err := json.Unmarshal(upRaw, &u.UpdatedFields); err != nil {
			return nil, fmt.Errorf("decode history %s: %w", u.HistoryID, err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

var _ ports.SensorRegistry = (*Registry)(nil)
