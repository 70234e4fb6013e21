// Package sqlitekv persists mirror entries in a SQLite database.
package sqlitekv

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/syntrixbase/bizdata/internal/mirror"
)

// KV implements mirror.KV on a single table.
type KV struct {
	db *sql.DB
}

var _ mirror.KV = (*KV)(nil)

// Open opens or creates the database at path. ":memory:" keeps the data in a
// single private connection.
func Open(path string) (*KV, error) {
	memory := path == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if memory {
		// Each new connection would get its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS mirror (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &KV{db: db}, nil
}

func (k *KV) Get(key string) (string, bool, error) {
	var value string
	err := k.db.QueryRow(`SELECT value FROM mirror WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, translate(err)
	}
	return value, true, nil
}

func (k *KV) Set(key, value string) error {
	_, err := k.db.Exec(`INSERT INTO mirror (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, key, value)
	return translate(err)
}

func (k *KV) Delete(key string) error {
	_, err := k.db.Exec(`DELETE FROM mirror WHERE key = ?`, key)
	return translate(err)
}

func (k *KV) Close() error {
	return k.db.Close()
}

func translate(err error) error {
	if err != nil && err.Error() == "sql: database is closed" {
		return mirror.ErrClosed
	}
	return err
}
