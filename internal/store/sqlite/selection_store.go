// Package sqlite keeps the viewer's pool selections in an embedded SQLite
// file, for single-host runs without Redis.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

const schema = `
	CREATE TABLE IF NOT EXISTS selections (
		key        TEXT PRIMARY KEY,
		choice     INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`

// SelectionStore implements domain.SelectionStore on SQLite.
type SelectionStore struct {
	db *sql.DB
}

// Open opens or creates the database at path in WAL mode.
func Open(path string) (*SelectionStore, error) {
	dsn := path
	if path != ":memory:" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("sqlite: resolve %s: %w", path, err)
		}
		dsn = abs
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One writer; also keeps a :memory: database alive across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &SelectionStore{db: db}, nil
}

// Close closes the database.
func (s *SelectionStore) Close() error {
	return s.db.Close()
}

// Get returns the stored choice or domain.ErrNotFound.
func (s *SelectionStore) Get(ctx context.Context, key string) (domain.Choice, error) {
	var raw int64
	err := s.db.QueryRowContext(ctx, `SELECT choice FROM selections WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChoiceNone, domain.ErrNotFound
	}
	if err != nil {
		return domain.ChoiceNone, fmt.Errorf("sqlite: get selection %s: %w", key, err)
	}
	c := domain.Choice(raw)
	if raw < 0 || raw > 255 || !c.Valid() {
		return domain.ChoiceNone, domain.ErrNotFound
	}
	return c, nil
}

// Set stores choice under key.
func (s *SelectionStore) Set(ctx context.Context, key string, choice domain.Choice) error {
	const query = `
		INSERT INTO selections (key, choice, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET choice = excluded.choice, updated_at = CURRENT_TIMESTAMP`
	if _, err := s.db.ExecContext(ctx, query, key, int64(choice)); err != nil {
		return fmt.Errorf("sqlite: set selection %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SelectionStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM selections WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite: delete selection %s: %w", key, err)
	}
	return nil
}

var _ domain.SelectionStore = (*SelectionStore)(nil)
