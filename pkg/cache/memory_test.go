package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type doc struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()

	if err := mc.Set(ctx, "raw", "hello", 0); err != nil {
		t.Fatalf("set raw: %v", err)
	}
	var s string
	if err := mc.Get(ctx, "raw", &s); err != nil || s != "hello" {
		t.Fatalf("get raw: %q %v", s, err)
	}

	if err := mc.Set(ctx, "doc", doc{Name: "x", Value: 1.5}, 0); err != nil {
		t.Fatalf("set doc: %v", err)
	}
	var d doc
	if err := mc.Get(ctx, "doc", &d); err != nil || d.Name != "x" || d.Value != 1.5 {
		t.Fatalf("get doc: %+v %v", d, err)
	}

	if err := mc.Get(ctx, "missing", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if ok, _ := mc.Exists(ctx, "raw", "doc"); !ok {
		t.Fatalf("expected both keys to exist")
	}
	_ = mc.Delete(ctx, "raw")
	if ok, _ := mc.Exists(ctx, "raw", "doc"); ok {
		t.Fatalf("raw should be gone")
	}
}

func TestMemoryCacheExpiryAndEviction(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryCleanup(0))
	defer mc.Close()
	mc.now = func() time.Time { return now }

	_ = mc.Set(ctx, "a", "1", time.Minute)
	now = now.Add(time.Second)
	_ = mc.Set(ctx, "b", "2", 0)
	now = now.Add(time.Second)
	var v string
	_ = mc.Get(ctx, "a", &v) // a is now the most recently used
	now = now.Add(time.Second)
	_ = mc.Set(ctx, "c", "3", 0)

	if err := mc.Get(ctx, "b", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("b should have been evicted, got %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := mc.Get(ctx, "a", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("a should have expired, got %v", err)
	}
}

func TestMemoryCacheLockOwnership(t *testing.T) {
	ctx := context.Background()
	one := NewMemoryCache(WithMemoryCleanup(0))
	defer one.Close()

	ok, err := one.TryLock(ctx, "snap:lock", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock: %v %v", ok, err)
	}
	if ok, _ := one.TryLock(ctx, "snap:lock", time.Minute); ok {
		t.Fatalf("second lock should fail")
	}

	// simulate a foreign owner writing the same key
	one.items["other:lock"] = &memoryItem{data: []byte("someone-else")}
	if err := one.Unlock(ctx, "other:lock"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	if err := one.Unlock(ctx, "snap:lock"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := one.Unlock(ctx, "snap:lock"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss on double unlock, got %v", err)
	}
}
