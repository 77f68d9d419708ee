package ledger

import (
	"errors"
	"math"
	"testing"

	"RegimeDuel/internal/domain/models"
)

func TestCalculateRewardPenalisesLossesBeforeDecay(t *testing.T) {
	cfg := DefaultConfig()
	got := cfg.CalculateReward(-10, 30)
	want := -10*1.5 - 30*0.001
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("reward = %v, want %v", got, want)
	}
	if got >= -10 {
		t.Fatalf("loss reward %v must be below raw pnl", got)
	}
	if win := cfg.CalculateReward(10, 30); math.Abs(win-(10-0.03)) > 1e-12 {
		t.Fatalf("win reward = %v", win)
	}
}

func TestCalculateRewardAlwaysBelowLoss(t *testing.T) {
	cfg := DefaultConfig()
	for _, pnl := range []float64{-0.01, -1, -250, -1e6} {
		for _, d := range []float64{0, 1, 500} {
			if r := cfg.CalculateReward(pnl, d); r >= pnl {
				t.Fatalf("CalculateReward(%v, %v) = %v, not below pnl", pnl, d, r)
			}
		}
	}
}

func TestUpdateTradeMovesQTowardReward(t *testing.T) {
	l := New(DefaultConfig())
	if err := l.UpdateTrade(5, 5, models.ActionBuy); err != nil {
		t.Fatalf("update: %v", err)
	}
	// boost = min(2, 1+0.1*5) = 1.5, alpha = min(0.15, 0.10) = 0.10
	if got := l.Q(models.ActionBuy); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("QBuy = %v, want 0.5", got)
	}
	if l.Q(models.ActionSell) != 0 {
		t.Fatalf("QSell must be untouched")
	}
	s := l.State()
	if s.Trades != 1 || s.Wins != 1 || s.CumulativeUpside != 5 {
		t.Fatalf("unexpected counters %+v", s)
	}
	if math.Abs(s.LearningRate-0.0995) > 1e-12 {
		t.Fatalf("learning rate = %v", s.LearningRate)
	}
}

func TestLearningRateDecaysToFloor(t *testing.T) {
	l := New(DefaultConfig())
	prev := l.State().LearningRate
	for i := 0; i < 2000; i++ {
		if err := l.UpdateTrade(-1, -1.5, models.ActionSell); err != nil {
			t.Fatalf("update: %v", err)
		}
		cur := l.State().LearningRate
		if cur > prev {
			t.Fatalf("learning rate increased at %d", i)
		}
		prev = cur
	}
	if prev != 0.01 {
		t.Fatalf("learning rate = %v, want floor 0.01", prev)
	}
	l.ResetLearningRate()
	if l.State().LearningRate != 0.10 {
		t.Fatalf("reset did not restore initial rate")
	}
}

func TestUpdateTradeRejectsNonFinite(t *testing.T) {
	l := New(DefaultConfig())
	err := l.UpdateTrade(1, math.NaN(), models.ActionBuy)
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if l.State() != (models.LedgerState{LearningRate: 0.10}) {
		t.Fatalf("ledger mutated on invalid input: %+v", l.State())
	}
}

func TestWinRateAndProfitFactorCache(t *testing.T) {
	l := New(DefaultConfig())
	if l.WinRate() != 0 || l.ProfitFactor() != 0 {
		t.Fatalf("empty ledger must report zero stats")
	}
	_ = l.UpdateTrade(3, 3, models.ActionBuy)
	if l.ProfitFactor() != 10 {
		t.Fatalf("no-downside PF = %v", l.ProfitFactor())
	}
	_ = l.UpdateTrade(-2, -3, models.ActionBuy)
	if l.WinRate() != 0.5 {
		t.Fatalf("win rate = %v", l.WinRate())
	}
	if l.ProfitFactor() != 1.5 {
		t.Fatalf("profit factor = %v", l.ProfitFactor())
	}
	if sess := l.Session(); sess.Trades != 2 || sess.Wins != 1 || sess.PnL != 1 {
		t.Fatalf("session mirrors = %+v", sess)
	}
}
