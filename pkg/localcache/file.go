package localcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/surrealdb/canvassync/internal/codec"
)

// FileCache keeps one CBOR file per key in a directory. Saves go through a
// temporary file and a rename, so a crash never leaves a torn record.
type FileCache struct {
	dir   string
	mu    sync.Mutex
	codec codec.CBOR
}

func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("localcache: create %s: %w", dir, err)
	}
	return &FileCache{dir: dir}, nil
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, url.PathEscape(key)+".cbor")
}

func (c *FileCache) Load(_ context.Context, key string) (Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := os.ReadFile(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("localcache: read %q: %w", key, err)
	}

	var r Record
	if err := c.codec.Unmarshal(b, &r); err != nil || r.Version != RecordVersion {
		_ = os.Remove(c.path(key))
		return Record{}, false, nil
	}
	return r, true, nil
}

func (c *FileCache) Save(_ context.Context, key string, r Record) error {
	r.Version = RecordVersion
	b, err := c.codec.Marshal(r)
	if err != nil {
		return fmt.Errorf("localcache: encode %q: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tmp, err := os.CreateTemp(c.dir, ".record-*")
	if err != nil {
		return fmt.Errorf("localcache: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("localcache: write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("localcache: write %q: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		return fmt.Errorf("localcache: commit %q: %w", key, err)
	}
	return nil
}

func (c *FileCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("localcache: delete %q: %w", key, err)
	}
	return nil
}

func (c *FileCache) Close() error {
	return nil
}
