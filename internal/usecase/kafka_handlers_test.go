package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"RegimeDuel/internal/domain/models"
	"RegimeDuel/pkg/logger"
)

type captureProc struct {
	mu      sync.Mutex
	updates []models.SensorUpdate
	err     error
}

func (p *captureProc) Process(_ context.Context, u models.SensorUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
	return p.err
}

func (p *captureProc) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}

func TestKafkaSignalsHandler(t *testing.T) {
	ctx := context.Background()
	valid := []byte(`{"instrument":"ES","regime":"breakout","velocity":1,"acceleration":2.5,"chi_z":0.4,"price_z":-1,"timestamp":"2026-03-02T10:00:00Z","atr":2,"spec":{"min_vol":1,"max_vol":10,"vol_step":1,"tick_size":0.25,"tick_value":12.5,"bid":100,"ask":100.5}}`)

	t.Run("valid", func(t *testing.T) {
		proc := &captureProc{}
		h := NewKafkaSignalsHandler("regime.signals", proc, newCountingMetrics())
		if h.Topic() != "regime.signals" {
			t.Fatalf("topic = %s", h.Topic())
		}
		if err := h.Handle(ctx, valid); err != nil {
			t.Fatalf("handle: %v", err)
		}
		u := proc.updates[0]
		if u.Signal.Class != models.RegimeBreakout || u.Signal.Acceleration != 2.5 || u.ATR != 2 {
			t.Fatalf("update = %+v", u)
		}
		if u.Spec == nil || u.Spec.Instrument != "ES" {
			t.Fatalf("spec must inherit the instrument: %+v", u.Spec)
		}
	})

	t.Run("malformed is dropped", func(t *testing.T) {
		proc := &captureProc{}
		m := newCountingMetrics()
		h := NewKafkaSignalsHandler("regime.signals", proc, m)
		if err := h.Handle(ctx, []byte(`{not json`)); err != nil {
			t.Fatalf("malformed must be committed, got %v", err)
		}
		if err := h.Handle(ctx, []byte(`{"regime":"trend"}`)); err != nil {
			t.Fatalf("missing instrument must be committed, got %v", err)
		}
		if proc.count() != 0 || m.count("consumer_unmarshal") != 1 || m.count("consumer_invalid") != 1 {
			t.Fatalf("errors = %v", m.errors)
		}
	})

	t.Run("processing errors", func(t *testing.T) {
		proc := &captureProc{err: fmt.Errorf("wrapped: %w", models.ErrInvalidInput)}
		h := NewKafkaSignalsHandler("regime.signals", proc, newCountingMetrics())
		if err := h.Handle(ctx, valid); err != nil {
			t.Fatalf("invalid input must not be retried: %v", err)
		}
		proc.err = errors.New("engine busy")
		if err := h.Handle(ctx, valid); err == nil {
			t.Fatalf("transient error must be retried")
		}
	})
}

type fakeFillHandler struct {
	handle string
	pnl    float64
	err    error
}

func (f *fakeFillHandler) OnPositionClosed(_ context.Context, handle string, netPnL, _ float64) error {
	f.handle, f.pnl = handle, netPnL
	return f.err
}

func TestKafkaFillsHandler(t *testing.T) {
	ctx := context.Background()
	fill := []byte(`{"handle":"live-7","net_pnl":-12.5,"duration_minutes":3}`)

	engine := &fakeFillHandler{}
	h := NewKafkaFillsHandler("execution.fills", engine, newCountingMetrics(), logger.NewNop())
	if err := h.Handle(ctx, fill); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if engine.handle != "live-7" || engine.pnl != -12.5 {
		t.Fatalf("engine got %s %v", engine.handle, engine.pnl)
	}

	m := newCountingMetrics()
	engine.err = fmt.Errorf("close: %w", models.ErrUnknownHandle)
	h = NewKafkaFillsHandler("execution.fills", engine, m, logger.NewNop())
	if err := h.Handle(ctx, fill); err != nil || m.count("fill_rejected") != 1 {
		t.Fatalf("unknown handle must be skipped, err=%v", err)
	}

	engine.err = errors.New("ledger locked")
	if err := h.Handle(ctx, fill); err == nil {
		t.Fatalf("unexpected errors must surface for retry")
	}
	if err := h.Handle(ctx, []byte(`[]`)); err != nil || m.count("fill_unmarshal") != 1 {
		t.Fatalf("bad payload must be skipped, err=%v", err)
	}
}
