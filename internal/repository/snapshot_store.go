package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"SignalDesk/internal/domain/models"
	domrepo "SignalDesk/internal/domain/repository"
	"SignalDesk/internal/service/cache"
	applogger "SignalDesk/pkg/logger"
)

// FileSnapshotStore keeps {dataDir}/state/{strategy}.json. Writers never
// leave a partial file behind: the new content goes to a temp file which
// is synced and renamed over the old one.
type FileSnapshotStore struct {
	dir       string
	mirror    cache.BytesCache
	mirrorTTL time.Duration
	l         *applogger.Logger
}

func NewFileSnapshotStore(dataDir string) *FileSnapshotStore {
	return &FileSnapshotStore{dir: filepath.Join(dataDir, "state")}
}

func (s *FileSnapshotStore) SetLogger(l *applogger.Logger) { s.l = l }

// SetMirror copies every saved snapshot into c under "strategy:{id}".
func (s *FileSnapshotStore) SetMirror(c cache.BytesCache, ttl time.Duration) {
	s.mirror = c
	s.mirrorTTL = ttl
}

func (s *FileSnapshotStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func mirrorKey(id string) string { return "strategy:" + id }

func (s *FileSnapshotStore) Load(ctx context.Context, strategy string) (models.StrategySnapshot, error) {
	if !ValidStrategyID(strategy) {
		return models.StrategySnapshot{}, fmt.Errorf("invalid strategy id %q: %w", strategy, models.ErrNotFound)
	}
	var snap models.StrategySnapshot
	b, err := os.ReadFile(s.path(strategy))
	if err == nil {
		if err := json.Unmarshal(b, &snap); err != nil {
			return models.StrategySnapshot{}, fmt.Errorf("decode snapshot %s: %w", strategy, err)
		}
		return snap, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return models.StrategySnapshot{}, fmt.Errorf("read snapshot %s: %w", strategy, err)
	}
	if s.mirror != nil {
		ok, merr := cache.GetJSON(ctx, s.mirror, mirrorKey(strategy), &snap)
		if merr == nil && ok {
			return snap, nil
		}
	}
	return models.StrategySnapshot{}, models.ErrNotFound
}

func (s *FileSnapshotStore) Save(ctx context.Context, snap models.StrategySnapshot) error {
	if !ValidStrategyID(snap.ID) {
		return fmt.Errorf("invalid strategy id %q", snap.ID)
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := writeFileAtomic(s.path(snap.ID), b); err != nil {
		return err
	}
	if s.mirror != nil {
		if err := s.mirror.SetBytes(ctx, mirrorKey(snap.ID), b, s.mirrorTTL); err != nil && s.l != nil {
			s.l.Warn("snapshot mirror write failed", applogger.String("strategy", snap.ID), applogger.Error(err))
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot temp: %w", err)
	}
	name := tmp.Name()
	cleanup := func() { _ = os.Remove(name) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("snapshot write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("snapshot sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("snapshot close: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		cleanup()
		return fmt.Errorf("snapshot rename: %w", err)
	}
	return nil
}

var _ domrepo.SnapshotStore = (*FileSnapshotStore)(nil)
