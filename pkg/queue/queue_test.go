package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"RegimeDuel/pkg/logger"
)

type payload struct {
	Handle string  `json:"handle"`
	NetPnL float64 `json:"net_pnl"`
}

func TestParsePayload(t *testing.T) {
	raw := json.RawMessage(`{"handle":"h1","net_pnl":12.5}`)
	p, err := ParsePayload[payload](raw)
	if err != nil || p.Handle != "h1" || p.NetPnL != 12.5 {
		t.Fatalf("raw: %+v %v", p, err)
	}

	p, err = ParsePayload[payload]([]byte(`{"handle":"hb"}`))
	if err != nil || p.Handle != "hb" {
		t.Fatalf("bytes: %+v %v", p, err)
	}

	p, err = ParsePayload[payload](map[string]interface{}{"handle": "h2", "net_pnl": -3.0})
	if err != nil || p.Handle != "h2" || p.NetPnL != -3 {
		t.Fatalf("map: %+v %v", p, err)
	}

	p, err = ParsePayload[payload](payload{Handle: "h3"})
	if err != nil || p.Handle != "h3" {
		t.Fatalf("value: %+v %v", p, err)
	}

	if _, err := ParsePayload[payload](42); err == nil {
		t.Fatalf("expected error for int payload")
	}
}

func TestRetryDelayDoublesUpToCap(t *testing.T) {
	q := NewRedisQueue(logger.NewNop(), &QueueConfig{RetryDelay: time.Second, MaxRetryDelay: 5 * time.Second}, nil)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := q.retryDelay(i + 1); got != w {
			t.Fatalf("attempt %d: delay = %v, want %v", i+1, got, w)
		}
	}
	if q.keyPrefix != "regimeduel:queue" || q.deadLetterKey() != "regimeduel:queue:dlq" {
		t.Fatalf("unexpected keys %q", q.keyPrefix)
	}
}

func TestWithKeyPrefix(t *testing.T) {
	q := NewRedisQueue(logger.NewNop(), nil, nil, WithKeyPrefix("x:journal"))
	if q.queueKey() != "x:journal:messages" || q.retryKey() != "x:journal:retry" {
		t.Fatalf("keys %q %q", q.queueKey(), q.retryKey())
	}
	if q.config.Workers != 1 || q.config.RetryDelay != 10*time.Second || q.config.PollInterval != time.Second {
		t.Fatalf("defaults not applied: %+v", q.config)
	}
}

func TestEnqueueRequiresRunningQueue(t *testing.T) {
	q := NewRedisQueue(logger.NewNop(), nil, nil)
	if err := q.Enqueue(context.Background(), "journal.trade", payload{}); err == nil {
		t.Fatal("expected error from stopped queue")
	}
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("stop on idle queue: %v", err)
	}
}
