package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"RegimeDuel/internal/domain/models"
	"RegimeDuel/internal/domain/repository"
	pkgcache "RegimeDuel/pkg/cache"
)

// ErrSnapshotLocked is returned when another writer holds the snapshot lock.
var ErrSnapshotLocked = errors.New("snapshot: locked by another writer")

// CacheSnapshotStore keeps the engine snapshot as a JSON document in the cache
// (Redis in production). Writers serialise on a short-lived lock key.
type CacheSnapshotStore struct {
	cache   pkgcache.Service
	key     string
	lockTTL time.Duration
}

func NewCacheSnapshotStore(cache pkgcache.Service, key string, lockTTL time.Duration) repository.SnapshotStore {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &CacheSnapshotStore{cache: cache, key: key, lockTTL: lockTTL}
}

// Load returns nil without error when no snapshot was ever saved.
func (s *CacheSnapshotStore) Load(ctx context.Context) (*models.Snapshot, error) {
	var raw string
	if err := s.cache.Get(ctx, s.key, &raw); err != nil {
		if errors.Is(err, pkgcache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %v: %w", err, models.ErrSnapshotMismatch)
	}
	return &snap, nil
}

func (s *CacheSnapshotStore) Save(ctx context.Context, snap *models.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("save snapshot: nil: %w", models.ErrInvalidInput)
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	lockKey := s.key + ":lock"
	ok, err := s.cache.TryLock(ctx, lockKey, s.lockTTL)
	if err != nil {
		return fmt.Errorf("snapshot lock: %w", err)
	}
	if !ok {
		return ErrSnapshotLocked
	}
	defer func() { _ = s.cache.Unlock(context.Background(), lockKey) }()

	if err := s.cache.Set(ctx, s.key, string(b), 0); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
