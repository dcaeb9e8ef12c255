package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps contexts in a local SQLite file. It is meant for
// development machines where no Postgres is available.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

func OpenSQLite(path string, ttl time.Duration) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db, ttl: ttl, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS session_contexts (
			call_id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_contexts_expires ON session_contexts(expires_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, callID string, sc Context) error {
	if callID == "" {
		return errors.New("session: empty call id")
	}
	payload, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx, `INSERT INTO session_contexts(call_id, payload, expires_at, updated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(call_id) DO UPDATE SET payload=excluded.payload, expires_at=excluded.expires_at, updated_at=excluded.updated_at`,
		callID, string(payload), now.Add(s.ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("put session %s: %w", callID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, callID string) (Context, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM session_contexts WHERE call_id = ? AND expires_at > ?`,
		callID, s.now().UnixMilli()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Context{}, ErrNotFound
	}
	if err != nil {
		return Context{}, fmt.Errorf("get session %s: %w", callID, err)
	}
	var sc Context
	if err := json.Unmarshal([]byte(payload), &sc); err != nil {
		return Context{}, fmt.Errorf("decode session %s: %w", callID, err)
	}
	return sc, nil
}

func (s *SQLiteStore) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_contexts WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
