package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"SignalDesk/internal/service/cache"
)

// FileCache keeps one atomically replaced file per key under dir. Entries
// never expire; readers judge staleness from the payload itself.
type FileCache struct {
	dir string
}

func NewFileCache(dir string) *FileCache {
	return &FileCache{dir: dir}
}

func (c *FileCache) path(key string) string {
	name := strings.NewReplacer(":", "-", "/", "-", "\\", "-").Replace(key)
	return filepath.Join(c.dir, name+".json")
}

func (c *FileCache) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(c.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read state %s: %w", key, err)
	}
	return b, true, nil
}

func (c *FileCache) SetBytes(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeFileAtomic(c.path(key), value)
}

var _ cache.BytesCache = (*FileCache)(nil)
