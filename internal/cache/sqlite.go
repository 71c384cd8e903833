// ABOUTME: SQLite persistence backend for the normalized cache using modernc.org/sqlite.
// ABOUTME: Mirrors cache contents so cold starts render before the network confirms.

package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/remindful/sync-engine/internal/entity"
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	kind            TEXT NOT NULL,
	id              TEXT NOT NULL,
	version         INTEGER NOT NULL DEFAULT 0,
	payload         TEXT NOT NULL,
	last_written_at TIMESTAMP NOT NULL,
	PRIMARY KEY (kind, id)
);
CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
`

// SQLiteBackend persists cache entries to a local database file.
type SQLiteBackend struct {
	db     *sql.DB
	logger *slog.Logger
}

// Loaded is one persisted entry returned by LoadAll.
type Loaded struct {
	Entity        entity.Entity
	LastWrittenAt time.Time
}

// NewSQLiteBackend opens (or creates) the cache database at path. Parent
// directories are created if needed. WAL mode keeps concurrent readers
// cheap.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	logger := slog.Default().With("component", "cache-db")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}

	return &SQLiteBackend{db: db, logger: logger}, nil
}

// Save upserts a batch of entities in one transaction.
func (b *SQLiteBackend) Save(entities []entity.Entity, writtenAt time.Time) error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO entities (kind, id, version, payload, last_written_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			version = excluded.version,
			payload = excluded.payload,
			last_written_at = excluded.last_written_at`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entities {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encoding %s/%s: %w", e.EntityKind(), e.EntityID(), err)
		}
		if _, err := stmt.Exec(string(e.EntityKind()), e.EntityID(), e.EntityVersion(), string(payload), writtenAt); err != nil {
			return fmt.Errorf("upserting %s/%s: %w", e.EntityKind(), e.EntityID(), err)
		}
	}

	return tx.Commit()
}

// Delete removes one entry. Deleting an absent row is not an error.
func (b *SQLiteBackend) Delete(kind entity.Kind, id string) error {
	if _, err := b.db.Exec("DELETE FROM entities WHERE kind = ? AND id = ?", string(kind), id); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", kind, id, err)
	}
	return nil
}

// LoadAll reads every persisted entry. Rows that no longer decode (schema
// drift across app versions) are skipped with a warning rather than
// failing the warm start.
func (b *SQLiteBackend) LoadAll() ([]Loaded, error) {
	rows, err := b.db.Query("SELECT kind, id, payload, last_written_at FROM entities")
	if err != nil {
		return nil, fmt.Errorf("loading cache: %w", err)
	}
	defer rows.Close()

	var out []Loaded
	for rows.Next() {
		var kind, id, payload string
		var writtenAt time.Time
		if err := rows.Scan(&kind, &id, &payload, &writtenAt); err != nil {
			return nil, fmt.Errorf("scanning cache row: %w", err)
		}

		e, err := entity.NewOfKind(entity.Kind(kind))
		if err != nil {
			b.logger.Warn("skipping cached entity of unknown kind", "kind", kind, "id", id)
			continue
		}
		if err := json.Unmarshal([]byte(payload), e); err != nil {
			b.logger.Warn("skipping undecodable cached entity", "kind", kind, "id", id, "error", err)
			continue
		}
		out = append(out, Loaded{Entity: e, LastWrittenAt: writtenAt})
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
