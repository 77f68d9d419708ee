package agent

import (
	"fmt"
	"math"
	"time"

	"RegimeDuel/internal/domain/models"
	"RegimeDuel/internal/services/edge"
	"RegimeDuel/internal/services/ledger"
)

// Config controls the duel between Champion and Challenger.
type Config struct {
	RollingWindow       int
	SwapThreshold       float64
	SwapMinTrades       int
	SwapMinRealTrades   int
	LearningPhaseTrades int
	FrictionMultiplier  float64
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		RollingWindow:       20,
		SwapThreshold:       1.10,
		SwapMinTrades:       30,
		SwapMinRealTrades:   10,
		LearningPhaseTrades: 100,
		FrictionMultiplier:  0.10,
	}
}

const minRealPF = 0.01

// Agent owns a live Champion profile and a paper Challenger profile.
type Agent struct {
	kind      models.AgentKind
	behavior  Behavior
	cfg       Config
	ledgerCfg ledger.Config

	real   *ledger.Profile
	shadow *ledger.Profile

	threshold  float64
	allocation float64
	hasEdge    bool
	pValue     float64

	outcomes          []bool
	head              int
	filled            int
	consecutiveLosses int

	swapCount    int
	lastSwapTime time.Time
}

// New creates an agent of the given kind with fresh profiles and an even allocation.
func New(kind models.AgentKind, cfg Config, ledgerCfg ledger.Config) *Agent {
	if cfg.RollingWindow <= 0 {
		cfg.RollingWindow = DefaultConfig().RollingWindow
	}
	b := BehaviorFor(kind)
	return &Agent{
		kind:       kind,
		behavior:   b,
		cfg:        cfg,
		ledgerCfg:  ledgerCfg,
		real:       ledger.NewProfile(ledgerCfg),
		shadow:     ledger.NewProfile(ledgerCfg),
		threshold:  b.BaseThreshold,
		allocation: 0.5,
		pValue:     1,
		outcomes:   make([]bool, cfg.RollingWindow),
	}
}

func (a *Agent) Kind() models.AgentKind { return a.kind }
func (a *Agent) Behavior() Behavior { return a.behavior }
func (a *Agent) Real() *ledger.Profile { return a.real }
func (a *Agent) Shadow() *ledger.Profile { return a.shadow }
func (a *Agent) Threshold() float64 { return a.threshold }
func (a *Agent) Allocation() float64 { return a.allocation }
func (a *Agent) HasEdge() bool { return a.hasEdge }
func (a *Agent) PValue() float64 { return a.pValue }
func (a *Agent) SwapCount() int { return a.swapCount }
func (a *Agent) LastSwapTime() time.Time { return a.lastSwapTime }
func (a *Agent) ConsecutiveLosses() int { return a.consecutiveLosses }

// SetThreshold overrides the signal threshold. Non-positive values are ignored.
func (a *Agent) SetThreshold(v float64) {
	if v > 0 && !math.IsInf(v, 0) {
		a.threshold = v
	}
}

// SetRiskMultiplier scales the capital this agent risks per trade.
func (a *Agent) SetRiskMultiplier(v float64) {
	if v > 0 && !math.IsInf(v, 0) {
		a.behavior.RiskMultiplier = v
	}
}

// SetAllocation sets the capital fraction assigned by the allocator.
func (a *Agent) SetAllocation(v float64) {
	if v >= 0 && v <= 1 {
		a.allocation = v
	}
}

// InLearningPhase reports whether the Challenger is still below the learning-phase trade count.
func (a *Agent) InLearningPhase() bool {
	return a.shadow.Totals().Trades < a.cfg.LearningPhaseTrades
}

// ShadowRegimeWinRate is the Challenger's win rate in a bucket, 0.5 without history.
func (a *Agent) ShadowRegimeWinRate(bucket int) float64 {
	l := a.shadow.Ledger(bucket)
	if l.State().Trades == 0 {
		return 0.5
	}
	return l.WinRate()
}

// EvaluateEdge runs the statistical gate against the Challenger's record.
func (a *Agent) EvaluateEdge(g *edge.Gate) bool {
	t := a.shadow.Totals()
	a.hasEdge, a.pValue = g.HasEdge(t.Wins, t.Trades, t.AvgWin(), t.AvgLoss(), a.cfg.FrictionMultiplier)
	return a.hasEdge
}

// RecordOutcome pushes a live result into the rolling window.
func (a *Agent) RecordOutcome(won bool) {
	a.outcomes[a.head] = won
	a.head = (a.head + 1) % len(a.outcomes)
	if a.filled < len(a.outcomes) {
		a.filled++
	}
	if won {
		a.consecutiveLosses = 0
	} else {
		a.consecutiveLosses++
	}
}

// RollingWinRate is the win rate over the window, 0.5 when empty.
func (a *Agent) RollingWinRate() float64 {
	if a.filled == 0 {
		return 0.5
	}
	wins := 0
	for i := 0; i < a.filled; i++ {
		if a.outcomes[i] {
			wins++
		}
	}
	return float64(wins) / float64(a.filled)
}

// RollingSamples returns how many outcomes the window currently holds.
func (a *Agent) RollingSamples() int { return a.filled }

// ResetRolling empties the window and the loss streak.
func (a *Agent) ResetRolling() {
	for i := range a.outcomes {
		a.outcomes[i] = false
	}
	a.head, a.filled, a.consecutiveLosses = 0, 0, 0
}

// ShouldSwap reports whether the Challenger has earned promotion.
func (a *Agent) ShouldSwap() bool {
	s, r := a.shadow.Totals(), a.real.Totals()
	if s.Trades < a.cfg.SwapMinTrades || r.Trades < a.cfg.SwapMinRealTrades {
		return false
	}
	return s.ProfitFactor() > math.Max(r.ProfitFactor(), minRealPF)*a.cfg.SwapThreshold
}

// PerformSwap promotes the Challenger and reseeds a new Challenger with its Q-values.
func (a *Agent) PerformSwap(now time.Time) {
	a.real = a.shadow.Clone()
	a.real.ResetLearningRates()
	fresh := ledger.NewProfile(a.ledgerCfg)
	fresh.SeedQFrom(a.real)
	a.shadow = fresh
	a.swapCount++
	a.lastSwapTime = now
}

// Snapshot captures the agent. Outcomes are listed oldest first.
func (a *Agent) Snapshot() models.AgentSnapshot {
	out := make([]bool, 0, a.filled)
	start := (a.head - a.filled + len(a.outcomes)) % len(a.outcomes)
	for i := 0; i < a.filled; i++ {
		out = append(out, a.outcomes[(start+i)%len(a.outcomes)])
	}
	return models.AgentSnapshot{
		Kind:              a.kind.String(),
		Real:              a.real.States(),
		Shadow:            a.shadow.States(),
		Threshold:         a.threshold,
		Allocation:        a.allocation,
		Outcomes:          out,
		ConsecutiveLosses: a.consecutiveLosses,
		SwapCount:         a.swapCount,
		LastSwapTime:      a.lastSwapTime,
	}
}

// Restore builds a new agent of the same kind from a snapshot. The receiver is
// not modified. The configured threshold wins over the persisted one and the
// edge flag starts false until the caller re-evaluates it.
func (a *Agent) Restore(s models.AgentSnapshot) (*Agent, error) {
	if s.Kind != a.kind.String() {
		return nil, fmt.Errorf("agent %s: snapshot kind %q: %w", a.kind, s.Kind, models.ErrSnapshotMismatch)
	}
	if math.IsNaN(s.Allocation) || s.Allocation < 0 || s.Allocation > 1 || s.ConsecutiveLosses < 0 {
		return nil, fmt.Errorf("agent %s: invalid bookkeeping: %w", a.kind, models.ErrSnapshotMismatch)
	}
	n := New(a.kind, a.cfg, a.ledgerCfg)
	n.threshold = a.threshold
	n.behavior = a.behavior
	if err := n.real.Restore(s.Real); err != nil {
		return nil, fmt.Errorf("agent %s real: %w", a.kind, err)
	}
	if err := n.shadow.Restore(s.Shadow); err != nil {
		return nil, fmt.Errorf("agent %s shadow: %w", a.kind, err)
	}
	n.allocation = s.Allocation
	outcomes := s.Outcomes
	if len(outcomes) > len(n.outcomes) {
		outcomes = outcomes[len(outcomes)-len(n.outcomes):]
	}
	for _, won := range outcomes {
		n.RecordOutcome(won)
	}
	n.consecutiveLosses = s.ConsecutiveLosses
	n.swapCount = s.SwapCount
	n.lastSwapTime = s.LastSwapTime
	return n, nil
}
