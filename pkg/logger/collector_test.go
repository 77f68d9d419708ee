package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingPublisher struct {
	mu      sync.Mutex
	topics  []string
	batches [][]AggregatedLogEntry
}

func (p *recordingPublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *recordingPublisher) snapshot() [][]AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]AggregatedLogEntry(nil), p.batches...)
}

func TestCollectorDeduplicatesAndFlushesOnClose(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 50, Topic: "alerts", Publisher: pub})

	for i := 0; i < 3; i++ {
		c.AddLog("error", "feed down", map[string]interface{}{"instrument": "EURUSD"}, "feed.go:10")
	}
	c.AddLog("error", "feed down", map[string]interface{}{"instrument": "GBPUSD"}, "feed.go:10")
	if c.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", c.Pending())
	}
	c.Close()
	c.Close()

	batches := pub.snapshot()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("batches = %+v", batches)
	}
	if pub.topics[0] != "alerts" {
		t.Fatalf("topic = %q", pub.topics[0])
	}
	counts := map[interface{}]int{}
	for _, e := range batches[0] {
		counts[e.Fields["instrument"]] = e.Count
	}
	if counts["EURUSD"] != 3 || counts["GBPUSD"] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestCollectorFlushesAtCountThreshold(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "alerts", Publisher: pub})
	defer c.Close()

	c.AddLog("warn", "a", nil, "x.go:1")
	c.AddLog("warn", "b", nil, "x.go:2")

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("threshold flush did not happen")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoggerFeedsCollectorAboveMinLevel(t *testing.T) {
	pub := &recordingPublisher{}
	l := NewNop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Publisher: pub, MinLevel: "error"})

	child := l.With(String("component", "engine"))
	child.Info("ignored")
	child.Warn("below min level")
	child.Error("halted", Error(errors.New("daily loss")), Float64("equity", 9500))

	l.RemoveCollector()
	batches := pub.snapshot()
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("batches = %+v", batches)
	}
	e := batches[0][0]
	if e.Level != "error" || e.Message != "halted" || e.Fields["error"] != "daily loss" {
		t.Fatalf("entry = %+v", e)
	}
}
