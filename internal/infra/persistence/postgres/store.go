// Package postgres provides a Postgres-backed persistent store that mirrors
// the in-memory semantics for deployments where the store lives out of process.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"liveline/internal/infra/persistence/memory"
	"liveline/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/liveline?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		class TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tracks (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL REFERENCES devices(id),
		number INTEGER NOT NULL,
		name TEXT NOT NULL,
		default_muted BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS parameters (
		id TEXT PRIMARY KEY,
		track_id TEXT NOT NULL REFERENCES tracks(id),
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		pointee_id TEXT NOT NULL,
		host_id INTEGER NOT NULL,
		is_mute BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS automation_points (
		id TEXT PRIMARY KEY,
		parameter_id TEXT NOT NULL REFERENCES parameters(id),
		time DOUBLE PRECISION NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS mute_transitions (
		id TEXT PRIMARY KEY,
		track_id TEXT NOT NULL REFERENCES tracks(id),
		parameter_id TEXT NOT NULL,
		time DOUBLE PRECISION NOT NULL,
		is_muted BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS edit_history (
		id TEXT PRIMARY KEY,
		entity TEXT NOT NULL,
		action TEXT NOT NULL,
		payload BYTEA,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_points_parameter_time ON automation_points(parameter_id, time)`,
	`CREATE INDEX IF NOT EXISTS idx_transitions_track_time ON mute_transitions(track_id, time)`,
}

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to
// a localhost default). It applies the schema, then hydrates the in-memory
// store from any existing rows.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	mem := memory.NewStore(engine)
	s := &Store{Store: mem, db: db}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// RunInTransaction applies fn via the in-memory store, then snapshots to Postgres.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Store) load(ctx context.Context) error {
	snapshot := memory.Snapshot{
		Devices:     map[string]domain.Device{},
		Tracks:      map[string]domain.Track{},
		Parameters:  map[string]domain.Parameter{},
		Points:      map[string]domain.AutomationPoint{},
		Transitions: map[string]domain.MuteTransition{},
	}

	if err := s.scanRows(ctx, `SELECT id, name, class, created_at, updated_at FROM devices`, func(rows *sql.Rows) error {
		var d domain.Device
		if err := rows.Scan(&d.ID, &d.Name, &d.Class, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return err
		}
		snapshot.Devices[d.ID] = d
		return nil
	}); err != nil {
		return fmt.Errorf("load devices: %w", err)
	}
	if err := s.scanRows(ctx, `SELECT id, device_id, number, name, default_muted, created_at, updated_at FROM tracks`, func(rows *sql.Rows) error {
		var t domain.Track
		if err := rows.Scan(&t.ID, &t.DeviceID, &t.Number, &t.Name, &t.DefaultMuted, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return err
		}
		snapshot.Tracks[t.ID] = t
		return nil
	}); err != nil {
		return fmt.Errorf("load tracks: %w", err)
	}
	if err := s.scanRows(ctx, `SELECT id, track_id, name, path, pointee_id, host_id, is_mute, created_at, updated_at FROM parameters`, func(rows *sql.Rows) error {
		var p domain.Parameter
		if err := rows.Scan(&p.ID, &p.TrackID, &p.Name, &p.Path, &p.PointeeID, &p.HostID, &p.IsMute, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return err
		}
		snapshot.Parameters[p.ID] = p
		return nil
	}); err != nil {
		return fmt.Errorf("load parameters: %w", err)
	}
	if err := s.scanRows(ctx, `SELECT id, parameter_id, time, value, created_at, updated_at FROM automation_points`, func(rows *sql.Rows) error {
		var p domain.AutomationPoint
		if err := rows.Scan(&p.ID, &p.ParameterID, &p.Time, &p.Value, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return err
		}
		snapshot.Points[p.ID] = p
		return nil
	}); err != nil {
		return fmt.Errorf("load automation points: %w", err)
	}
	if err := s.scanRows(ctx, `SELECT id, track_id, parameter_id, time, is_muted, created_at, updated_at FROM mute_transitions`, func(rows *sql.Rows) error {
		var t domain.MuteTransition
		if err := rows.Scan(&t.ID, &t.TrackID, &t.ParameterID, &t.Time, &t.IsMuted, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return err
		}
		snapshot.Transitions[t.ID] = t
		return nil
	}); err != nil {
		return fmt.Errorf("load mute transitions: %w", err)
	}

	s.ImportState(snapshot)
	return nil
}

func (s *Store) scanRows(ctx context.Context, query string, scan func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, table := range []string{"automation_points", "mute_transitions", "parameters", "tracks", "devices"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for _, d := range snapshot.Devices {
		if _, err := tx.ExecContext(ctx, `INSERT INTO devices (id, name, class, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
			d.ID, d.Name, d.Class, utc(d.CreatedAt), utc(d.UpdatedAt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert device: %w", err)
		}
	}
	for _, t := range snapshot.Tracks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tracks (id, device_id, number, name, default_muted, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			t.ID, t.DeviceID, t.Number, t.Name, t.DefaultMuted, utc(t.CreatedAt), utc(t.UpdatedAt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert track: %w", err)
		}
	}
	for _, p := range snapshot.Parameters {
		if _, err := tx.ExecContext(ctx, `INSERT INTO parameters (id, track_id, name, path, pointee_id, host_id, is_mute, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			p.ID, p.TrackID, p.Name, p.Path, p.PointeeID, p.HostID, p.IsMute, utc(p.CreatedAt), utc(p.UpdatedAt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert parameter: %w", err)
		}
	}
	for _, p := range snapshot.Points {
		if _, err := tx.ExecContext(ctx, `INSERT INTO automation_points (id, parameter_id, time, value, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			p.ID, p.ParameterID, p.Time, p.Value, utc(p.CreatedAt), utc(p.UpdatedAt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert automation point: %w", err)
		}
	}
	for _, t := range snapshot.Transitions {
		if _, err := tx.ExecContext(ctx, `INSERT INTO mute_transitions (id, track_id, parameter_id, time, is_muted, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			t.ID, t.TrackID, t.ParameterID, t.Time, t.IsMuted, utc(t.CreatedAt), utc(t.UpdatedAt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert mute transition: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func utc(t time.Time) time.Time { return t.UTC() }
