// Package postgres stores batches in a PostgreSQL table through database/sql
// and lib/pq. Readings are kept as one JSONB document per batch.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/lib/pq"

	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

const DefaultTable = "sensor_batches"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Store struct {
	db    *sql.DB
	table string
}

func NewStore(db *sql.DB, table string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres store: db is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("postgres store: invalid table name %q", table)
	}
	return &Store{db: db, table: table}, nil
}

// Open connects with the lib/pq driver and pings once.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

func (s *Store) Name() string { return "postgres" }

// Migrate creates the batch table and its latest-lookup index.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	sensor_id TEXT NOT NULL,
	device_id TEXT NOT NULL DEFAULT '',
	captured_at TIMESTAMPTZ NOT NULL,
	readings JSONB NOT NULL
)`, s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_sensor_captured_idx ON %s (sensor_id, captured_at DESC)", s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.table, err)
		}
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, sensorID string) (*domain.Batch, error) {
	q := fmt.Sprintf("SELECT id, sensor_id, device_id, captured_at, readings FROM %s WHERE sensor_id = $1 ORDER BY captured_at DESC LIMIT 1", s.table)
	b, err := scanBatch(s.db.QueryRowContext(ctx, q, sensorID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select latest: %w", err)
	}
	return b, nil
}

// Put inserts b; a replayed id is ignored.
func (s *Store) Put(ctx context.Context, b *domain.Batch) error {
	readings, err := json.Marshal(b.Channels)
	if err != nil {
		return fmt.Errorf("marshal readings: %w", err)
	}
	q := fmt.Sprintf("INSERT INTO %s (id, sensor_id, device_id, captured_at, readings) VALUES ($1,$2,$3,$4,$5) ON CONFLICT (id) DO NOTHING", s.table)
	if _, err := s.db.ExecContext(ctx, q, b.ID, b.SensorID, b.DeviceID, b.CapturedAt, readings); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (s *Store) Find(ctx context.Context, f ports.ReadingFilter) ([]domain.Batch, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.SensorID != "" {
		add("sensor_id = $%d", f.SensorID)
	}
	if f.DeviceID != "" {
		add("device_id = $%d", f.DeviceID)
	}
	if !f.From.IsZero() {
		add("captured_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("captured_at < $%d", f.To)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT id, sensor_id, device_id, captured_at, readings FROM %s", s.table)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY captured_at ASC")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select batches: %w", err)
	}
	defer rows.Close()

	var out []domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		if nb, ok := f.Narrow(*b); ok {
			out = append(out, nb)
		}
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (*domain.Batch, error) {
	var (
		b        domain.Batch
		readings []byte
	)
	if err := row.Scan(&b.ID, &b.SensorID, &b.DeviceID, &b.CapturedAt, &readings); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(readings, &b.Channels); err != nil {
		return nil, fmt.Errorf("decode readings of batch %s: %w", b.ID, err)
	}
	b.CapturedAt = b.CapturedAt.UTC()
	return &b, nil
}

var (
	_ ports.ReadingStore   = (*Store)(nil)
	_ ports.ReadingQuerier = (*Store)(nil)
)
