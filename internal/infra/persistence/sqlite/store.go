// Package sqlite provides an embedded SQLite-backed persistent store. It
// reuses the in-memory implementation for transaction semantics and persists
// the full snapshot into a thin relational schema after every successful
// transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"liveline/internal/infra/persistence/memory"
	"liveline/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "liveline.db"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		class TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tracks (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL REFERENCES devices(id),
		number INTEGER NOT NULL,
		name TEXT NOT NULL,
		default_muted INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS parameters (
		id TEXT PRIMARY KEY,
		track_id TEXT NOT NULL REFERENCES tracks(id),
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		pointee_id TEXT NOT NULL,
		host_id INTEGER NOT NULL,
		is_mute INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS automation_points (
		id TEXT PRIMARY KEY,
		parameter_id TEXT NOT NULL REFERENCES parameters(id),
		time REAL NOT NULL,
		value REAL NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS mute_transitions (
		id TEXT PRIMARY KEY,
		track_id TEXT NOT NULL REFERENCES tracks(id),
		parameter_id TEXT NOT NULL,
		time REAL NOT NULL,
		is_muted INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	// Placeholder table only; no code path writes edit history yet.
	`CREATE TABLE IF NOT EXISTS edit_history (
		id TEXT PRIMARY KEY,
		entity TEXT NOT NULL,
		action TEXT NOT NULL,
		payload BLOB,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_points_parameter_time ON automation_points(parameter_id, time)`,
	`CREATE INDEX IF NOT EXISTS idx_transitions_track_time ON mute_transitions(track_id, time)`,
}

// Store persists the in-memory state to SQLite after every successful transaction.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore constructs a snapshotting SQLite-backed persistent store.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	ms := memory.NewStore(engine)
	s := &Store{Store: ms, db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the database file path backing the store.
func (s *Store) Path() string { return s.path }

// Close flushes nothing further and closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// RunInTransaction applies fn via the in-memory store, then snapshots to disk.
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

func (s *Store) load() error {
	snapshot := memory.Snapshot{
		Devices:     map[string]domain.Device{},
		Tracks:      map[string]domain.Track{},
		Parameters:  map[string]domain.Parameter{},
		Points:      map[string]domain.AutomationPoint{},
		Transitions: map[string]domain.MuteTransition{},
	}

	rows, err := s.db.Query(`SELECT id, name, class, created_at, updated_at FROM devices`)
	if err != nil {
		return fmt.Errorf("select devices: %w", err)
	}
	for rows.Next() {
		var d domain.Device
		var created, updated string
		if err := rows.Scan(&d.ID, &d.Name, &d.Class, &created, &updated); err != nil {
			closeRows(rows)
			return fmt.Errorf("scan device: %w", err)
		}
		d.CreatedAt, d.UpdatedAt = parseTimes(created, updated)
		snapshot.Devices[d.ID] = d
	}
	closeRows(rows)

	rows, err = s.db.Query(`SELECT id, device_id, number, name, default_muted, created_at, updated_at FROM tracks`)
	if err != nil {
		return fmt.Errorf("select tracks: %w", err)
	}
	for rows.Next() {
		var t domain.Track
		var created, updated string
		if err := rows.Scan(&t.ID, &t.DeviceID, &t.Number, &t.Name, &t.DefaultMuted, &created, &updated); err != nil {
			closeRows(rows)
			return fmt.Errorf("scan track: %w", err)
		}
		t.CreatedAt, t.UpdatedAt = parseTimes(created, updated)
		snapshot.Tracks[t.ID] = t
	}
	closeRows(rows)

	rows, err = s.db.Query(`SELECT id, track_id, name, path, pointee_id, host_id, is_mute, created_at, updated_at FROM parameters`)
	if err != nil {
		return fmt.Errorf("select parameters: %w", err)
	}
	for rows.Next() {
		var p domain.Parameter
		var created, updated string
		if err := rows.Scan(&p.ID, &p.TrackID, &p.Name, &p.Path, &p.PointeeID, &p.HostID, &p.IsMute, &created, &updated); err != nil {
			closeRows(rows)
			return fmt.Errorf("scan parameter: %w", err)
		}
		p.CreatedAt, p.UpdatedAt = parseTimes(created, updated)
		snapshot.Parameters[p.ID] = p
	}
	closeRows(rows)

	rows, err = s.db.Query(`SELECT id, parameter_id, time, value, created_at, updated_at FROM automation_points`)
	if err != nil {
		return fmt.Errorf("select automation points: %w", err)
	}
	for rows.Next() {
		var p domain.AutomationPoint
		var created, updated string
		if err := rows.Scan(&p.ID, &p.ParameterID, &p.Time, &p.Value, &created, &updated); err != nil {
			closeRows(rows)
			return fmt.Errorf("scan automation point: %w", err)
		}
		p.CreatedAt, p.UpdatedAt = parseTimes(created, updated)
		snapshot.Points[p.ID] = p
	}
	closeRows(rows)

	rows, err = s.db.Query(`SELECT id, track_id, parameter_id, time, is_muted, created_at, updated_at FROM mute_transitions`)
	if err != nil {
		return fmt.Errorf("select mute transitions: %w", err)
	}
	for rows.Next() {
		var t domain.MuteTransition
		var created, updated string
		if err := rows.Scan(&t.ID, &t.TrackID, &t.ParameterID, &t.Time, &t.IsMuted, &created, &updated); err != nil {
			closeRows(rows)
			return fmt.Errorf("scan mute transition: %w", err)
		}
		t.CreatedAt, t.UpdatedAt = parseTimes(created, updated)
		snapshot.Transitions[t.ID] = t
	}
	closeRows(rows)

	s.ImportState(snapshot)
	return nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	// Children before parents to respect foreign keys.
	for _, table := range []string{"automation_points", "mute_transitions", "parameters", "tracks", "devices"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for _, d := range snapshot.Devices {
		if _, err := tx.Exec(`INSERT INTO devices (id, name, class, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			d.ID, d.Name, d.Class, formatTime(d.CreatedAt), formatTime(d.UpdatedAt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert device: %w", err)
		}
	}
	for _, t := range snapshot.Tracks {
		if _, err := tx.Exec(`INSERT INTO tracks (id, device_id, number, name, default_muted, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.DeviceID, t.Number, t.Name, t.DefaultMuted, formatTime(t.CreatedAt), formatTime(t.UpdatedAt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert track: %w", err)
		}
	}
	for _, p := range snapshot.Parameters {
		if _, err := tx.Exec(`INSERT INTO parameters (id, track_id, name, path, pointee_id, host_id, is_mute, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.TrackID, p.Name, p.Path, p.PointeeID, p.HostID, p.IsMute, formatTime(p.CreatedAt), formatTime(p.UpdatedAt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert parameter: %w", err)
		}
	}
	for _, p := range snapshot.Points {
		if _, err := tx.Exec(`INSERT INTO automation_points (id, parameter_id, time, value, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			p.ID, p.ParameterID, p.Time, p.Value, formatTime(p.CreatedAt), formatTime(p.UpdatedAt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert automation point: %w", err)
		}
	}
	for _, t := range snapshot.Transitions {
		if _, err := tx.Exec(`INSERT INTO mute_transitions (id, track_id, parameter_id, time, is_muted, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.TrackID, t.ParameterID, t.Time, t.IsMuted, formatTime(t.CreatedAt), formatTime(t.UpdatedAt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert mute transition: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func closeRows(rows *sql.Rows) {
	_ = rows.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimes(created, updated string) (time.Time, time.Time) {
	c, _ := time.Parse(time.RFC3339Nano, created)
	u, _ := time.Parse(time.RFC3339Nano, updated)
	return c, u
}
