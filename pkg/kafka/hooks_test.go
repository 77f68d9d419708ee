package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

func TestHookChainOrderAndTrace(t *testing.T) {
	var order []string
	mk := func(name string) HookFuncs {
		return HookFuncs{
			Before: func(ctx context.Context, _ string, km kafka.Message, d []byte) (context.Context, kafka.Message, []byte, error) {
				order = append(order, "before:"+name)
				return ctx, km, d, nil
			},
			After: func(context.Context, string, kafka.Message, []byte, error) {
				order = append(order, "after:"+name)
			},
		}
	}
	chain := NewHookChain(TraceHook{}, mk("a"), nil, mk("b"))

	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("t-1")}}}
	ctx, _, _, err := chain.BeforeHandle(context.Background(), "signals", km, []byte(`{}`))
	if err != nil {
		t.Fatalf("before: %v", err)
	}
	if id, _ := ctx.Value(CtxTraceID).(string); id != "t-1" {
		t.Fatalf("trace id = %q", id)
	}
	chain.AfterHandle(ctx, "signals", km, []byte(`{}`), nil)

	want := []string{"before:a", "before:b", "after:b", "after:a"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestHookChainRejectsEmptyAndRecoversPanic(t *testing.T) {
	var errs int
	counter := HookFuncs{Err: func(context.Context, string, kafka.Message, []byte, error) { errs++ }}

	_, _, _, err := NewHookChain(TraceHook{}, counter).BeforeHandle(context.Background(), "fills", kafka.Message{}, nil)
	var he *HookError
	if !errors.As(err, &he) || he.Code != "ERR_EMPTY" {
		t.Fatalf("expected ERR_EMPTY, got %v", err)
	}
	if errs != 1 {
		t.Fatalf("OnError calls = %d", errs)
	}

	panicky := HookFuncs{
		Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
			panic("boom")
		},
	}
	_, _, _, err = NewHookChain(panicky).BeforeHandle(context.Background(), "fills", kafka.Message{}, []byte("x"))
	if !errors.As(err, &he) || he.Code != "ERR_PANIC" {
		t.Fatalf("expected ERR_PANIC, got %v", err)
	}
}

func TestRetryPolicyIsBounded(t *testing.T) {
	c := &Consumer{cfg: &ConsumerConfig{BackoffMin: 10 * time.Millisecond, BackoffMax: 80 * time.Millisecond}}
	b := c.retryPolicy(3)
	for i := 0; i < 3; i++ {
		d := b.NextBackOff()
		if d <= 0 || d > 120*time.Millisecond {
			t.Fatalf("attempt %d: %v out of range", i+1, d)
		}
	}
	if d := b.NextBackOff(); d != backoff.Stop {
		t.Fatalf("expected Stop after max retries, got %v", d)
	}
	if startOffset("latest") != kafka.LastOffset || startOffset("earliest") != kafka.FirstOffset {
		t.Fatalf("unexpected start offsets")
	}
}

func TestConsumerRequiresBrokersAndHandlers(t *testing.T) {
	if _, err := NewConsumer(); err == nil {
		t.Fatal("expected error without brokers")
	}
	c, err := NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	if err := c.Start(); err == nil {
		t.Fatal("expected error without handlers")
	}
}
