package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryItem struct {
	data       []byte
	expiration time.Time
	lastAccess time.Time
}

func (m *memoryItem) expired(now time.Time) bool {
	return !m.expiration.IsZero() && now.After(m.expiration)
}

// MemoryCache is an in-process Service used when Redis is disabled and in tests.
type MemoryCache struct {
	mu      sync.Mutex
	items   map[string]*memoryItem
	maxSize int
	owner   string
	stopCh  chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewMemoryCache creates a memory cache with a background expiry sweep.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := defaultMemoryConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		items:   make(map[string]*memoryItem),
		maxSize: cfg.MaxSize,
		owner:   uuid.NewString(),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	if cfg.CleanupInterval > 0 {
		go mc.sweep(cfg.CleanupInterval)
	}
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.setLocked(key, data, expiration)
	return nil
}

func (mc *MemoryCache) setLocked(key string, data []byte, expiration time.Duration) {
	now := mc.now()
	if _, ok := mc.items[key]; !ok && mc.maxSize > 0 && len(mc.items) >= mc.maxSize {
		mc.evictLocked()
	}
	it := &memoryItem{data: data, lastAccess: now}
	if expiration > 0 {
		it.expiration = now.Add(expiration)
	}
	mc.items[key] = it
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	it, ok := mc.items[key]
	now := mc.now()
	if !ok || it.expired(now) {
		if ok {
			delete(mc.items, key)
		}
		mc.mu.Unlock()
		return ErrCacheMiss
	}
	it.lastAccess = now
	data := it.data
	mc.mu.Unlock()
	return decode(data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, k := range keys {
		delete(mc.items, k)
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	now := mc.now()
	for _, k := range keys {
		if it, ok := mc.items[k]; !ok || it.expired(now) {
			return false, nil
		}
	}
	return len(keys) > 0, nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if it, ok := mc.items[key]; ok && !it.expired(mc.now()) {
		return false, nil
	}
	mc.setLocked(key, []byte(mc.owner), ttl)
	return true, nil
}

func (mc *MemoryCache) Unlock(_ context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	it, ok := mc.items[key]
	if !ok || it.expired(mc.now()) {
		return ErrCacheMiss
	}
	if string(it.data) != mc.owner {
		return ErrNotOwner
	}
	delete(mc.items, key)
	return nil
}

// evictLocked drops the least recently used entry.
func (mc *MemoryCache) evictLocked() {
	var oldestKey string
	var oldest time.Time
	for k, it := range mc.items {
		if oldestKey == "" || it.lastAccess.Before(oldest) {
			oldestKey, oldest = k, it.lastAccess
		}
	}
	if oldestKey != "" {
		delete(mc.items, oldestKey)
	}
}

func (mc *MemoryCache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-mc.stopCh:
			return
		case <-ticker.C:
			mc.mu.Lock()
			now := mc.now()
			for k, it := range mc.items {
				if it.expired(now) {
					delete(mc.items, k)
				}
			}
			mc.mu.Unlock()
		}
	}
}

// Close stops the sweep goroutine.
func (mc *MemoryCache) Close() error {
	mc.once.Do(func() { close(mc.stopCh) })
	return nil
}

var _ Service = (*MemoryCache)(nil)
