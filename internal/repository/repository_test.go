package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"RegimeDuel/internal/domain/models"
	pkgcache "RegimeDuel/pkg/cache"
)

func TestCacheSnapshotStoreRoundTrip(t *testing.T) {
	mc := pkgcache.NewMemoryCache()
	defer mc.Close()
	store := NewCacheSnapshotStore(mc, "engine:snapshot", time.Second)
	ctx := context.Background()

	got, err := store.Load(ctx)
	if err != nil || got != nil {
		t.Fatalf("empty store should load nil, got %v %v", got, err)
	}

	snap := &models.Snapshot{
		Version:    models.SnapshotVersion,
		SavedAt:    time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		Equity:     10250.5,
		LiveTrades: 7,
		Agents:     []models.AgentSnapshot{{Kind: "sniper", Allocation: 0.5}, {Kind: "berserker", Allocation: 0.5}},
		Breaker:    models.BreakerSnapshot{State: "LIVE"},
	}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	a, _ := json.Marshal(snap)
	b, _ := json.Marshal(got)
	if string(a) != string(b) {
		t.Fatalf("round trip differs:\n%s\n%s", a, b)
	}
}

func TestCacheSnapshotStoreLockAndCorruption(t *testing.T) {
	mc := pkgcache.NewMemoryCache()
	defer mc.Close()
	store := NewCacheSnapshotStore(mc, "engine:snapshot", time.Minute)
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "engine:snapshot:lock", time.Minute)
	if err != nil || !ok {
		t.Fatalf("could not take lock: %v", err)
	}
	if err := store.Save(ctx, &models.Snapshot{Version: 1}); !errors.Is(err, ErrSnapshotLocked) {
		t.Fatalf("expected ErrSnapshotLocked, got %v", err)
	}
	_ = mc.Unlock(ctx, "engine:snapshot:lock")

	if err := mc.Set(ctx, "engine:snapshot", "{not json", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, models.ErrSnapshotMismatch) {
		t.Fatalf("expected mismatch for corrupt snapshot, got %v", err)
	}
	if err := store.Save(ctx, nil); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected invalid input for nil snapshot, got %v", err)
	}
}

type fakeProducer struct {
	topics []string
	keys   []string
	values []interface{}
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, string(key))
	p.values = append(p.values, value)
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func TestKafkaEventPublisherEnvelope(t *testing.T) {
	prod := &fakeProducer{}
	pub := NewKafkaEventPublisher(prod, "engine.events")
	ctx := context.Background()

	if err := pub.PublishTrade(ctx, models.ClosedTrade{Handle: "h1", Instrument: "EURUSD", NetPnL: 12}); err != nil {
		t.Fatalf("publish trade: %v", err)
	}
	if err := pub.PublishCircuit(ctx, models.CircuitEvent{From: "LIVE", To: "HALTED", Reason: "daily_loss"}); err != nil {
		t.Fatalf("publish circuit: %v", err)
	}
	if err := pub.PublishMessage(ctx, "engine.alerts", map[string]string{"msg": "x"}); err != nil {
		t.Fatalf("publish message: %v", err)
	}

	if prod.topics[0] != "engine.events" || prod.keys[0] != "EURUSD" {
		t.Fatalf("unexpected routing %v %v", prod.topics, prod.keys)
	}
	env := prod.values[0].(Envelope)
	if env.Type != EventTrade {
		t.Fatalf("envelope type %q", env.Type)
	}
	var tr models.ClosedTrade
	if err := json.Unmarshal(env.Data, &tr); err != nil || tr.Handle != "h1" || tr.NetPnL != 12 {
		t.Fatalf("envelope data %s: %v", env.Data, err)
	}
	if prod.values[1].(Envelope).Type != EventCircuit {
		t.Fatalf("expected circuit envelope")
	}
	if prod.topics[2] != "engine.alerts" {
		t.Fatalf("raw message topic %q", prod.topics[2])
	}
}
