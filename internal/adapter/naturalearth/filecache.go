package naturalearth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
)

// FileCache stores downloaded datasets on disk. Entries older than the TTL
// are stale but still readable, so a failed refresh can fall back to them.
type FileCache struct {
	dir   string
	ttl   time.Duration
	clock clockwork.Clock
}

// NewFileCache creates a cache rooted at dir. The directory is created on the
// first write.
func NewFileCache(dir string, ttl time.Duration, clock clockwork.Clock) *FileCache {
	return &FileCache{dir: dir, ttl: ttl, clock: clock}
}

// Get returns the cached bytes for name and whether they are still fresh.
// A missing entry returns nil data and no error.
func (c *FileCache) Get(name string) (data []byte, fresh bool, err error) {
	path := filepath.Join(c.dir, name)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("stat cache entry: %w", err)
	}

	data, err = os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}
	return data, c.clock.Since(info.ModTime()) < c.ttl, nil
}

// Put replaces the entry for name. The write goes through a temporary file
// so readers never see a partial dataset.
func (c *FileCache) Put(name string, data []byte) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache entry: %w", err)
	}

	path := filepath.Join(c.dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename cache entry: %w", err)
	}
	now := c.clock.Now()
	return os.Chtimes(path, now, now)
}
