package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions in a single SQLite database. Sessions are
// stored as their JSON snapshot with the expiry denormalized for reaping.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath with WAL mode enabled.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("session: create database directory: %w", err)
	}
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("session: open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("session: ping database: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("session: initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT,
		data TEXT NOT NULL,
		expires_at INTEGER,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at) WHERE expires_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS input_queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		input TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_queue_session ON input_queue(session_id, seq);
	`
	_, err := s.db.Exec(query)
	return err
}

// Create implements Store. Upsert keeps retries idempotent.
func (s *SQLiteStore) Create(ctx context.Context, sess *Session) error {
	return s.Update(ctx, sess)
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, sess *Session) error {
	data, err := sess.MarshalJSON()
	if err != nil {
		return err
	}
	var expires any
	if at := sess.ExpiresAt(); !at.IsZero() {
		expires = at.Unix()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, tenant_id, data, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			data = excluded.data,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		sess.ID(), sess.TenantID(), string(data), expires, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("session: upsert: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	var (
		data    string
		expires sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, expires_at FROM sessions WHERE id = ?`, id).Scan(&data, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: query: %w", err)
	}
	if expires.Valid && time.Now().Unix() > expires.Int64 {
		return nil, ErrExpired
	}
	restored := &Session{}
	if err := restored.UnmarshalJSON([]byte(data)); err != nil {
		return nil, err
	}
	return restored, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM input_queue WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("session: delete queue: %w", err)
	}
	return nil
}

// Enqueue implements Store.
func (s *SQLiteStore) Enqueue(ctx context.Context, sessionID, input string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO input_queue (session_id, input, created_at) VALUES (?, ?, ?)`,
		sessionID, input, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("session: enqueue: %w", err)
	}
	return nil
}

// Dequeue implements Store.
func (s *SQLiteStore) Dequeue(ctx context.Context, sessionID string) (string, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("session: begin dequeue: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var (
		seq   int64
		input string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT seq, input FROM input_queue WHERE session_id = ? ORDER BY seq LIMIT 1`,
		sessionID).Scan(&seq, &input)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("session: dequeue: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM input_queue WHERE seq = ?`, seq); err != nil {
		return "", false, fmt.Errorf("session: dequeue delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("session: dequeue commit: %w", err)
	}
	return input, true, nil
}

// ListExpired implements Store.
func (s *SQLiteStore) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE expires_at IS NOT NULL AND expires_at < ?`, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("session: list expired: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
