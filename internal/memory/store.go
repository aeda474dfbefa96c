package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Store.Get for an unknown key.
var ErrNotFound = errors.New("memory not found")

// Entry is one key/value memory.
type Entry struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Store is the long-term key/value memory backed by the memories table.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database that has been migrated.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save upserts key.
func (s *Store) Save(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("memory key is empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save memory %s: %w", key, err)
	}
	return nil
}

// Get returns the entry for key or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, value, updated_at FROM memories WHERE key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// List returns entries whose key starts with prefix, most recent first.
func (s *Store) List(ctx context.Context, prefix string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, updated_at FROM memories
		WHERE substr(key, 1, length(?)) = ?
		ORDER BY updated_at DESC LIMIT ?`, prefix, prefix, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// Search matches query against keys and values.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, updated_at FROM memories
		WHERE key LIKE ? OR value LIKE ?
		ORDER BY updated_at DESC LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// Take returns the entry for key and deletes it, or ErrNotFound.
func (s *Store) Take(ctx context.Context, key string) (Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, err
	}
	defer tx.Rollback()

	e, err := scanEntry(tx.QueryRowContext(ctx, `SELECT key, value, updated_at FROM memories WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE key = ?`, key); err != nil {
		return Entry{}, err
	}
	return e, tx.Commit()
}

// Count returns the number of stored memories
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var updated string
	if err := row.Scan(&e.Key, &e.Value, &updated); err != nil {
		return Entry{}, err
	}
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
