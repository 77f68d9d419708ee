package breaker

import (
	"testing"
	"time"

	"RegimeDuel/internal/domain/models"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func healthy(equity float64) Inputs {
	return Inputs{Equity: equity, Rolling: []Window{{WinRate: 0.5}}}
}

func TestDailyLossHalts(t *testing.T) {
	b := New(DefaultConfig())
	if _, moved := b.Evaluate(t0, healthy(10000)); moved {
		t.Fatalf("healthy inputs must not move the breaker")
	}
	b.RecordLive(t0.Add(time.Minute), -310, 9690)
	if got := b.DailyLossPct(); got < 0.0309 || got > 0.0311 {
		t.Fatalf("daily loss pct = %v", got)
	}
	tr, moved := b.Evaluate(t0.Add(2*time.Minute), healthy(9690))
	if !moved || tr.To != StateHalted || tr.Reason != ReasonDailyLoss {
		t.Fatalf("unexpected transition %+v moved=%v", tr, moved)
	}
	if b.CanTradeLive() || b.CanTradeShadow() {
		t.Fatalf("HALTED must block live and shadow trading")
	}
	if b.Status().HaltReason != ReasonDailyLoss {
		t.Fatalf("halt reason not recorded")
	}
}

func TestTriggerOrder(t *testing.T) {
	b := New(DefaultConfig())
	b.Evaluate(t0, healthy(10000))
	b.RecordLive(t0, -400, 9600)
	in := Inputs{Equity: 8000, ConsecutiveLosses: 9, Rolling: []Window{{WinRate: 0.1, Samples: 20}}}
	tr, _ := b.Evaluate(t0, in)
	if tr.Reason != ReasonDailyLoss {
		t.Fatalf("daily loss must be checked first, got %s", tr.Reason)
	}
}

func TestConsecutiveLossesAndRollingWinRate(t *testing.T) {
	b := New(DefaultConfig())
	tr, moved := b.Evaluate(t0, Inputs{Equity: 1000, ConsecutiveLosses: 5})
	if !moved || tr.Reason != ReasonConsecutiveLosses {
		t.Fatalf("expected consecutive-loss halt, got %+v", tr)
	}

	c := New(DefaultConfig())
	if _, moved := c.Evaluate(t0, Inputs{Equity: 1000, Rolling: []Window{{WinRate: 0.1, Samples: 3}, {WinRate: 0.6, Samples: 12}}}); moved {
		t.Fatalf("rolling win rate needs the minimum sample count")
	}
	tr, moved = c.Evaluate(t0, Inputs{Equity: 1000, Rolling: []Window{{WinRate: 0.6, Samples: 12}, {WinRate: 0.3, Samples: 10}}})
	if !moved || tr.Reason != ReasonRollingWinRate {
		t.Fatalf("expected rolling win-rate halt, got %+v", tr)
	}
}

func TestDrawdownFromPeak(t *testing.T) {
	b := New(DefaultConfig())
	b.Evaluate(t0, healthy(12000))
	tr, moved := b.Evaluate(t0.Add(24*time.Hour), healthy(10700))
	if !moved || tr.Reason != ReasonDrawdown {
		t.Fatalf("expected drawdown halt, got %+v", tr)
	}
}

func TestHaltsOnlyOnce(t *testing.T) {
	b := New(DefaultConfig())
	bad := Inputs{Equity: 1000, ConsecutiveLosses: 10}
	if _, moved := b.Evaluate(t0, bad); !moved {
		t.Fatalf("expected halt")
	}
	halts := 0
	for i := 1; i <= 200; i++ {
		tr, moved := b.Evaluate(t0.Add(time.Duration(i)*time.Minute), bad)
		if moved && tr.To == StateHalted {
			halts++
		}
		b.RecordShadow(-1)
	}
	if halts != 0 {
		t.Fatalf("re-halted %d times outside LIVE", halts)
	}
}

func TestRecoveryCycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReleaseCode = "open-sesame"
	b := New(cfg)
	b.Evaluate(t0, Inputs{Equity: 1000, ConsecutiveLosses: 6})

	if _, moved := b.Evaluate(t0.Add(59*time.Minute), healthy(1000)); moved {
		t.Fatalf("cooldown not elapsed")
	}
	b.RecordShadow(5)
	tr, moved := b.Evaluate(t0.Add(60*time.Minute), healthy(1000))
	if !moved || tr.To != StateRetraining {
		t.Fatalf("expected RETRAINING, got %+v", tr)
	}
	if b.CanTradeLive() || !b.CanTradeShadow() {
		t.Fatalf("RETRAINING allows shadow only")
	}
	if b.Status().RetrainTrades != 0 {
		t.Fatalf("shadow trades before RETRAINING must not count")
	}

	for i := 0; i < 14; i++ {
		b.RecordShadow(2)
	}
	for i := 0; i < 6; i++ {
		b.RecordShadow(-1)
	}
	tr, moved = b.Evaluate(t0.Add(2*time.Hour), healthy(1000))
	if !moved || tr.To != StatePending {
		t.Fatalf("expected PENDING, got %+v (status %+v)", tr, b.Status())
	}

	for i := 0; i < 10; i++ {
		if _, moved := b.Evaluate(t0.Add(time.Duration(3+i)*time.Hour), healthy(1000)); moved {
			t.Fatalf("PENDING must never auto-promote")
		}
	}
	if _, ok := b.ManualRelease(t0, "wrong", 1000); ok || b.State() != StatePending {
		t.Fatalf("wrong code must be rejected")
	}
	if _, ok := b.ManualRelease(t0, "open-sesame", 950); !ok || b.State() != StateLive {
		t.Fatalf("release failed")
	}
	if b.Status().PeakEquity != 950 {
		t.Fatalf("peak must be rebased on release")
	}
}

func TestManualReleaseOutsidePendingIsNoop(t *testing.T) {
	b := New(DefaultConfig())
	if _, ok := b.ManualRelease(t0, "", 1000); ok {
		t.Fatalf("release from LIVE must be rejected")
	}
	b.Evaluate(t0, Inputs{Equity: 1000, ConsecutiveLosses: 6})
	if _, ok := b.ManualRelease(t0, "", 1000); ok || b.State() != StateHalted {
		t.Fatalf("release from HALTED must be rejected")
	}
}

func TestDailyAccumulatorResetsOnUTCDay(t *testing.T) {
	b := New(DefaultConfig())
	b.Evaluate(t0, healthy(10000))
	b.RecordLive(t0, -200, 9800)
	b.Evaluate(t0.Add(20*time.Hour), healthy(9800))
	if b.Status().DailyPnL != 0 {
		t.Fatalf("daily pnl must reset on a new UTC day")
	}
}

func TestSnapshotRestore(t *testing.T) {
	b := New(DefaultConfig())
	b.Evaluate(t0, Inputs{Equity: 5000, ConsecutiveLosses: 7})
	snap := b.Snapshot()

	c := New(DefaultConfig())
	if err := c.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if c.Snapshot() != snap {
		t.Fatalf("snapshot mismatch after restore")
	}
	if err := c.Restore(models.BreakerSnapshot{State: "BROKEN"}); err == nil {
		t.Fatalf("expected error for unknown state")
	}
	if c.State() != StateHalted {
		t.Fatalf("failed restore must not mutate the breaker")
	}
}
