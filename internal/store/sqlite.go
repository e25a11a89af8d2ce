package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilupskalvis/restsync/internal/query"
)

// SQLite is the default LocalStore implementation.
type SQLite struct {
	db *sql.DB
}

// Open creates a store connection and ensures the schema exists.
func Open(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initialize() error {
	schema := `
	-- Locally persisted entities, one row per (type, identity)
	CREATE TABLE IF NOT EXISTS entities (
		entity_type TEXT NOT NULL,
		id TEXT NOT NULL,
		attributes JSON NOT NULL,
		last_modified INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (entity_type, id)
	);

	-- Store metadata (schema version, per-type sync bookkeeping)
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_entities_modified ON entities(entity_type, last_modified);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return &Error{Op: "initialize", Err: err}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Find returns the record for an identity, or nil when absent.
func (s *SQLite) Find(ctx context.Context, typeName, id string) (*Record, error) {
	var (
		raw      []byte
		modified int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT attributes, last_modified FROM entities WHERE entity_type = ? AND id = ?",
		typeName, id,
	).Scan(&raw, &modified)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Op: "find " + typeName + "/" + id, Err: err}
	}

	attrs := make(map[string]any)
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, &Error{Op: "decode " + typeName + "/" + id, Err: err}
	}

	return &Record{ID: id, Attributes: attrs, LastModified: time.UnixMilli(modified).UTC()}, nil
}

// Query loads all rows of a type and applies the descriptor's filters,
// sorts, and pagination in memory. Local datasets are expected to be modest;
// callers needing more push filtering to the remote side.
func (s *SQLite) Query(ctx context.Context, typeName string, d *query.Descriptor) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, attributes, last_modified FROM entities WHERE entity_type = ? ORDER BY id",
		typeName,
	)
	if err != nil {
		return nil, &Error{Op: "query " + typeName, Err: err}
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var (
			id       string
			raw      []byte
			modified int64
		)
		if err := rows.Scan(&id, &raw, &modified); err != nil {
			return nil, &Error{Op: "scan " + typeName, Err: err}
		}
		attrs := make(map[string]any)
		if err := json.Unmarshal(raw, &attrs); err != nil {
			return nil, &Error{Op: "decode " + typeName + "/" + id, Err: err}
		}
		rec := &Record{ID: id, Attributes: attrs, LastModified: time.UnixMilli(modified).UTC()}
		if Matches(rec.Attributes, d) {
			records = append(records, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "query " + typeName, Err: err}
	}

	SortRecords(records, d.Sorts)
	return Paginate(records, d), nil
}

// Upsert writes a record, replacing any prior row for the identity.
func (s *SQLite) Upsert(ctx context.Context, typeName, id string, attrs map[string]any, modified time.Time) error {
	raw, err := json.Marshal(attrs)
	if err != nil {
		return &Error{Op: "encode " + typeName + "/" + id, Err: err}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (entity_type, id, attributes, last_modified)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET attributes = ?, last_modified = ?`,
		typeName, id, raw, modified.UnixMilli(), raw, modified.UnixMilli(),
	)
	if err != nil {
		return &Error{Op: "upsert " + typeName + "/" + id, Err: err}
	}
	return nil
}

// Delete removes a record.
func (s *SQLite) Delete(ctx context.Context, typeName, id string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM entities WHERE entity_type = ? AND id = ?", typeName, id)
	if err != nil {
		return &Error{Op: "delete " + typeName + "/" + id, Err: err}
	}
	return nil
}

// GetValue gets a value from the key-value metadata table.
func (s *SQLite) GetValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", &Error{Op: "get " + key, Err: err}
	}
	return value, nil
}

// SetValue sets a value in the key-value metadata table.
func (s *SQLite) SetValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = ?",
		key, value, value,
	)
	if err != nil {
		return &Error{Op: "set " + key, Err: err}
	}
	return nil
}

// LastSync returns the recorded last-sync time for an entity type, used by
// the bidirectional reconciler to skip unchanged rows.
func (s *SQLite) LastSync(ctx context.Context, typeName string) (time.Time, error) {
	v, err := s.GetValue(ctx, "last_sync:"+typeName)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

// SetLastSync records the last-sync time for an entity type.
func (s *SQLite) SetLastSync(ctx context.Context, typeName string, t time.Time) error {
	return s.SetValue(ctx, "last_sync:"+typeName, t.UTC().Format(time.RFC3339Nano))
}
