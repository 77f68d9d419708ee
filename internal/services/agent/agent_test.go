package agent

import (
	"errors"
	"testing"
	"time"

	"RegimeDuel/internal/domain/models"
	"RegimeDuel/internal/services/edge"
	"RegimeDuel/internal/services/ledger"
)

// fill posts n trades so that the profile ends with the requested profit factor.
func fill(p *ledger.Profile, n int, pf float64) {
	wins := n / 2
	losses := n - wins
	winPnL := pf * float64(losses) / float64(wins)
	for i := 0; i < wins; i++ {
		_ = p.UpdateTrade(0, winPnL, winPnL, models.ActionBuy)
	}
	for i := 0; i < losses; i++ {
		_ = p.UpdateTrade(0, -1, -1.5, models.ActionBuy)
	}
}

func TestShouldSwapScenario(t *testing.T) {
	a := New(models.AgentSniper, DefaultConfig(), ledger.DefaultConfig())
	fill(a.Shadow(), 45, 1.5)
	fill(a.Real(), 12, 1.2)
	if !a.ShouldSwap() {
		t.Fatalf("expected swap: shadow pf %v real pf %v", a.Shadow().Totals().ProfitFactor(), a.Real().Totals().ProfitFactor())
	}

	b := New(models.AgentSniper, DefaultConfig(), ledger.DefaultConfig())
	fill(b.Shadow(), 20, 1.5)
	fill(b.Real(), 12, 1.2)
	if b.ShouldSwap() {
		t.Fatalf("swap must wait for the minimum shadow trades")
	}
}

func TestShouldSwapNeedsRealHistory(t *testing.T) {
	a := New(models.AgentBerserker, DefaultConfig(), ledger.DefaultConfig())
	fill(a.Shadow(), 40, 2.0)
	fill(a.Real(), 8, 0.5)
	if a.ShouldSwap() {
		t.Fatalf("swap must wait for real trades")
	}
}

func TestPerformSwapSeedsChallenger(t *testing.T) {
	a := New(models.AgentSniper, DefaultConfig(), ledger.DefaultConfig())
	fill(a.Shadow(), 40, 1.8)
	before := a.Shadow().Totals()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	a.PerformSwap(now)

	if a.Real().Totals() != before {
		t.Fatalf("real must equal the promoted shadow")
	}
	if a.Shadow().Totals().Trades != 0 {
		t.Fatalf("new shadow counters must be zero")
	}
	for b := 0; b < 3; b++ {
		r, s := a.Real().Ledger(b).State(), a.Shadow().Ledger(b).State()
		if r.QBuy != s.QBuy || r.QSell != s.QSell || r.QHold != s.QHold {
			t.Fatalf("bucket %d Q not seeded: %+v vs %+v", b, r, s)
		}
		if r.LearningRate != 0.10 || s.LearningRate != 0.10 {
			t.Fatalf("learning rates must reset on swap")
		}
	}
	if a.SwapCount() != 1 || !a.LastSwapTime().Equal(now) {
		t.Fatalf("swap bookkeeping not updated")
	}
}

func TestRollingOutcomes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RollingWindow = 4
	a := New(models.AgentSniper, cfg, ledger.DefaultConfig())
	if a.RollingWinRate() != 0.5 {
		t.Fatalf("empty window must report 0.5")
	}
	a.RecordOutcome(false)
	a.RecordOutcome(false)
	if a.ConsecutiveLosses() != 2 {
		t.Fatalf("consecutive losses = %d", a.ConsecutiveLosses())
	}
	a.RecordOutcome(true)
	if a.ConsecutiveLosses() != 0 {
		t.Fatalf("a win must reset the loss streak")
	}
	for i := 0; i < 4; i++ {
		a.RecordOutcome(true)
	}
	if a.RollingWinRate() != 1 || a.RollingSamples() != 4 {
		t.Fatalf("window did not roll: %v/%d", a.RollingWinRate(), a.RollingSamples())
	}
	a.ResetRolling()
	if a.RollingSamples() != 0 || a.RollingWinRate() != 0.5 {
		t.Fatalf("reset did not clear the window")
	}
}

func TestEvaluateEdgeUsesChallenger(t *testing.T) {
	a := New(models.AgentSniper, DefaultConfig(), ledger.DefaultConfig())
	g := edge.NewGate(edge.DefaultConfig())
	if a.EvaluateEdge(g) {
		t.Fatalf("no history must not have an edge")
	}
	for i := 0; i < 40; i++ {
		_ = a.Shadow().UpdateTrade(0, 2, 2, models.ActionBuy)
	}
	for i := 0; i < 10; i++ {
		_ = a.Shadow().UpdateTrade(0, -1, -1.5, models.ActionBuy)
	}
	if !a.EvaluateEdge(g) || a.PValue() > 0.05 {
		t.Fatalf("expected edge, p=%v", a.PValue())
	}
}

func TestStateRoundTrip(t *testing.T) {
	a := New(models.AgentBerserker, DefaultConfig(), ledger.DefaultConfig())
	fill(a.Shadow(), 10, 1.3)
	a.RecordOutcome(true)
	a.RecordOutcome(false)
	a.SetAllocation(0.6)

	b, err := New(models.AgentBerserker, DefaultConfig(), ledger.DefaultConfig()).Restore(a.Snapshot())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if b.Shadow().Totals() != a.Shadow().Totals() {
		t.Fatalf("totals differ after restore")
	}
	if b.Allocation() != 0.6 || b.ConsecutiveLosses() != 1 || b.RollingSamples() != 2 {
		t.Fatalf("restored agent state mismatch")
	}

	if _, err := New(models.AgentSniper, DefaultConfig(), ledger.DefaultConfig()).Restore(a.Snapshot()); !errors.Is(err, models.ErrSnapshotMismatch) {
		t.Fatalf("kind mismatch must be rejected, got %v", err)
	}
	bad := a.Snapshot()
	bad.Shadow = bad.Shadow[:2]
	if _, err := b.Restore(bad); !errors.Is(err, models.ErrSnapshotMismatch) {
		t.Fatalf("short ledger list must be rejected, got %v", err)
	}
}

func TestRiskMultiplier(t *testing.T) {
	a := New(models.AgentBerserker, DefaultConfig(), ledger.DefaultConfig())
	if a.Behavior().RiskMultiplier != 1 {
		t.Fatalf("default risk multiplier = %v", a.Behavior().RiskMultiplier)
	}
	a.SetRiskMultiplier(0.5)
	a.SetRiskMultiplier(-1)
	if a.Behavior().RiskMultiplier != 0.5 {
		t.Fatalf("risk multiplier = %v, want 0.5", a.Behavior().RiskMultiplier)
	}
	b, err := a.Restore(a.Snapshot())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if b.Behavior().RiskMultiplier != 0.5 {
		t.Fatalf("risk multiplier lost on restore")
	}
}

func TestProposeByRegime(t *testing.T) {
	a := New(models.AgentSniper, DefaultConfig(), ledger.DefaultConfig())
	cases := []struct {
		name string
		sig  models.RegimeSignal
		want models.Direction
	}{
		{"breakout up", models.RegimeSignal{Class: models.RegimeBreakout, Acceleration: 2}, models.DirectionLong},
		{"breakout weak", models.RegimeSignal{Class: models.RegimeBreakout, Acceleration: 0.1}, models.DirectionNone},
		{"trend follows velocity", models.RegimeSignal{Class: models.RegimeTrend, Velocity: -1, Acceleration: 2}, models.DirectionShort},
		{"critical folds to trend", models.RegimeSignal{Class: models.RegimeCritical, Velocity: 1, Acceleration: 2}, models.DirectionLong},
		{"reversion decelerating", models.RegimeSignal{Class: models.RegimeMeanReversion, PriceZ: 2.2, Velocity: 1, Acceleration: -0.1}, models.DirectionShort},
		{"reversion extreme", models.RegimeSignal{Class: models.RegimeMeanReversion, PriceZ: -3.5, Velocity: -1, Acceleration: -1}, models.DirectionLong},
		{"learning fallback", models.RegimeSignal{Class: models.RegimeMeanReversion, PriceZ: 0.5, Velocity: 1, Acceleration: 1}, models.DirectionLong},
	}
	for _, c := range cases {
		if got := a.Propose(c.sig); got != c.want {
			t.Fatalf("%s: got %v want %v", c.name, got, c.want)
		}
	}
}
