package localcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/surrealdb/canvassync/internal/codec"
)

// SQLiteCache keeps records in a single sqlite database.
type SQLiteCache struct {
	db    *sql.DB
	codec codec.CBOR
}

func NewSQLiteCache(dbPath string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("localcache: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	c := &SQLiteCache{db: db}
	if err := c.init(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLiteCache) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS canvas_cache (
		key TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		payload BLOB NOT NULL
	);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("localcache: create schema: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Load(ctx context.Context, key string) (Record, bool, error) {
	var (
		version int
		payload []byte
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT version, payload FROM canvas_cache WHERE key = ?`, key,
	).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("localcache: load %q: %w", key, err)
	}

	var r Record
	if version != RecordVersion || c.codec.Unmarshal(payload, &r) != nil {
		_ = c.Delete(ctx, key)
		return Record{}, false, nil
	}
	return r, true, nil
}

func (c *SQLiteCache) Save(ctx context.Context, key string, r Record) error {
	r.Version = RecordVersion
	payload, err := c.codec.Marshal(r)
	if err != nil {
		return fmt.Errorf("localcache: encode %q: %w", key, err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO canvas_cache (key, version, updated_at, payload) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at, payload = excluded.payload
	`, key, r.Version, r.UpdatedAt, payload)
	if err != nil {
		return fmt.Errorf("localcache: save %q: %w", key, err)
	}
	return nil
}

func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM canvas_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("localcache: delete %q: %w", key, err)
	}
	return nil
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
