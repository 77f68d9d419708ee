package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"RegimeDuel/internal/domain/models"
	"RegimeDuel/internal/services/agent"
	"RegimeDuel/internal/services/breaker"
	"RegimeDuel/internal/services/ledger"
	"RegimeDuel/internal/services/predictor"
	"RegimeDuel/internal/services/regime"
	"RegimeDuel/pkg/logger"
)

// evaluateBreaker feeds worst-case agent figures into the circuit breaker.
func (e *DecisionEngine) evaluateBreaker(now time.Time) {
	in := breaker.Inputs{Equity: e.equity}
	for _, a := range e.agents {
		if a.ConsecutiveLosses() > in.ConsecutiveLosses {
			in.ConsecutiveLosses = a.ConsecutiveLosses()
		}
		in.Rolling = append(in.Rolling, breaker.Window{WinRate: a.RollingWinRate(), Samples: a.RollingSamples()})
	}
	if t, ok := e.breaker.Evaluate(now, in); ok {
		e.onTransition(t)
	}
}

func (e *DecisionEngine) onTransition(t breaker.Transition) {
	e.metrics.RecordCircuitState(t.To.String())
	if t.To == breaker.StateHalted {
		e.metrics.RecordHalt(t.Reason)
		e.log.Warn("circuit breaker halted live trading",
			logger.String("reason", t.Reason),
			logger.Float64("equity", e.equity),
			logger.Float64("daily_loss_pct", e.breaker.DailyLossPct()))
	} else {
		e.log.Info("circuit breaker transition",
			logger.String("from", t.From.String()),
			logger.String("to", t.To.String()),
			logger.String("reason", t.Reason))
	}
	e.events.Circuit(models.CircuitEvent{
		From:   t.From.String(),
		To:     t.To.String(),
		Reason: t.Reason,
		At:     t.At,
	})
}

// RunMaintenance expires stale shadows, advances the circuit breaker, promotes
// Challengers that outperform their Champions and refreshes gauges.
func (e *DecisionEngine) RunMaintenance(ctx context.Context, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.expireShadows(now)
	e.evaluateBreaker(now)

	for _, a := range e.agents {
		if !a.ShouldSwap() {
			continue
		}
		shadowPF, realPF := a.Shadow().Totals().ProfitFactor(), a.Real().Totals().ProfitFactor()
		a.PerformSwap(now)
		a.EvaluateEdge(e.gate)
		e.metrics.RecordSwap(a.Kind().String())
		e.log.Info("challenger promoted",
			logger.String("agent", a.Kind().String()),
			logger.Int("swap_count", a.SwapCount()),
			logger.Float64("shadow_pf", shadowPF),
			logger.Float64("real_pf", realPF))
		e.events.Swap(models.SwapEvent{
			Agent:     a.Kind().String(),
			SwapCount: a.SwapCount(),
			ShadowPF:  shadowPF,
			RealPF:    realPF,
			At:        now,
		})
	}

	e.metrics.RecordEquity(e.equity)
	e.metrics.RecordCircuitState(e.breaker.State().String())
	for _, a := range e.agents {
		e.metrics.RecordAllocation(a.Kind().String(), a.Allocation())
	}
}

// expireShadows closes timed-out shadows on instruments that stopped ticking.
func (e *DecisionEngine) expireShadows(now time.Time) {
	if e.cfg.ShadowTimeout <= 0 {
		return
	}
	handles := e.pool.Handles(func(p *models.Position) bool {
		return p.Shadow && now.Sub(p.EntryTime) >= e.cfg.ShadowTimeout
	})
	for _, h := range handles {
		p, ok := e.pool.Get(h)
		if !ok {
			continue
		}
		price := p.EntryPrice
		if m, ok := e.marks[p.Instrument]; ok {
			price = exitPrice(p.Direction, m.spec)
		}
		e.closeShadow(h, price, ExitTimeout, now)
	}
}

// ManualRelease returns live trading after a PENDING state. Wrong codes and
// calls outside PENDING change nothing and are logged.
func (e *DecisionEngine) ManualRelease(code string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.breaker.State()
	t, ok := e.breaker.ManualRelease(e.clock(), code, e.equity)
	if !ok {
		e.metrics.RecordError("release_rejected")
		e.log.Error("manual release rejected", logger.String("state", state.String()))
		return false
	}
	for _, a := range e.agents {
		a.ResetRolling()
	}
	e.onTransition(t)
	return true
}

// SetEquity overrides the tracked account equity.
func (e *DecisionEngine) SetEquity(equity float64) error {
	if math.IsNaN(equity) || math.IsInf(equity, 0) || equity <= 0 {
		return fmt.Errorf("equity %v: %w", equity, models.ErrInvalidInput)
	}
	e.mu.Lock()
	e.equity = equity
	e.mu.Unlock()
	return nil
}

// Equity returns the tracked account equity.
func (e *DecisionEngine) Equity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.equity
}

// Snapshot captures all persistent learning and risk state.
func (e *DecisionEngine) Snapshot(now time.Time) *models.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &models.Snapshot{
		Version:    models.SnapshotVersion,
		SavedAt:    now.UTC(),
		Equity:     e.equity,
		LiveTrades: e.liveTrades,
		Predictor:  e.predictor.Snapshot(),
		Breaker:    e.breaker.Snapshot(),
	}
	for _, a := range e.agents {
		s.Agents = append(s.Agents, a.Snapshot())
	}
	return s
}

// Restore replaces the learning and risk state with a snapshot. Either the
// whole snapshot applies or nothing does. Open positions are left in place.
func (e *DecisionEngine) Restore(s *models.Snapshot) error {
	if s == nil {
		return fmt.Errorf("restore: nil snapshot: %w", models.ErrSnapshotMismatch)
	}
	if s.Version != models.SnapshotVersion {
		return fmt.Errorf("restore: version %d: %w", s.Version, models.ErrSnapshotMismatch)
	}
	if len(s.Agents) != numAgents {
		return fmt.Errorf("restore: %d agents: %w", len(s.Agents), models.ErrSnapshotMismatch)
	}
	if math.IsNaN(s.Equity) || math.IsInf(s.Equity, 0) || s.Equity <= 0 || s.LiveTrades < 0 {
		return fmt.Errorf("restore: equity %v trades %d: %w", s.Equity, s.LiveTrades, models.ErrSnapshotMismatch)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var agents [numAgents]*agent.Agent
	sum := 0.0
	for i, as := range s.Agents {
		a, err := e.agents[i].Restore(as)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		agents[i] = a
		sum += a.Allocation()
	}
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("restore: allocations sum to %v: %w", sum, models.ErrSnapshotMismatch)
	}
	p := predictor.New(e.settings.Predictor)
	if err := p.Restore(s.Predictor); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	b := breaker.New(e.settings.Breaker)
	if err := b.Restore(s.Breaker); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	e.agents = agents
	e.predictor = p
	e.breaker = b
	e.equity = s.Equity
	e.liveTrades = s.LiveTrades
	for _, a := range e.agents {
		a.EvaluateEdge(e.gate)
	}
	return nil
}

// RegimeStatus is one ledger as seen on the console.
type RegimeStatus struct {
	Regime        string  `json:"regime"`
	QBuy          float64 `json:"q_buy"`
	QSell         float64 `json:"q_sell"`
	QHold         float64 `json:"q_hold"`
	Trades        int     `json:"trades"`
	WinRate       float64 `json:"win_rate"`
	ProfitFactor  float64 `json:"profit_factor"`
	LearningRate  float64 `json:"learning_rate"`
	SessionTrades int     `json:"session_trades"`
	SessionWins   int     `json:"session_wins"`
	SessionPnL    float64 `json:"session_pnl"`
}

// ProfileStatus summarises a Champion or Challenger.
type ProfileStatus struct {
	Trades       int            `json:"trades"`
	WinRate      float64        `json:"win_rate"`
	ProfitFactor float64        `json:"profit_factor"`
	Omega        float64        `json:"omega"`
	PnL          float64        `json:"pnl"`
	Regimes      []RegimeStatus `json:"regimes"`
}

// AgentStatus is the console view of one agent.
type AgentStatus struct {
	Agent             string        `json:"agent"`
	Threshold         float64       `json:"threshold"`
	Allocation        float64       `json:"allocation"`
	HasEdge           bool          `json:"has_edge"`
	PValue            float64       `json:"p_value"`
	LearningPhase     bool          `json:"learning_phase"`
	RollingWinRate    float64       `json:"rolling_win_rate"`
	RollingSamples    int           `json:"rolling_samples"`
	ConsecutiveLosses int           `json:"consecutive_losses"`
	SwapCount         int           `json:"swap_count"`
	LastSwapTime      time.Time     `json:"last_swap_time"`
	Champion          ProfileStatus `json:"champion"`
	Challenger        ProfileStatus `json:"challenger"`
}

// EngineStatus is the read-only operator view.
type EngineStatus struct {
	Equity        float64        `json:"equity"`
	LiveTrades    int            `json:"live_trades"`
	OpenLive      int            `json:"open_live"`
	OpenShadow    int            `json:"open_shadow"`
	PoolCapacity  int            `json:"pool_capacity"`
	Circuit       breaker.Status `json:"circuit"`
	Agents        []AgentStatus  `json:"agents"`
	Instruments   []string       `json:"instruments"`
	ShadowOnly    bool           `json:"shadow_only"`
	GeneratedAtMs int64          `json:"generated_at_ms"`
}

// Status builds the console view.
func (e *DecisionEngine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := EngineStatus{
		Equity:        e.equity,
		LiveTrades:    e.liveTrades,
		PoolCapacity:  e.pool.Cap(),
		Circuit:       e.breaker.Status(),
		Instruments:   append([]string(nil), e.cfg.Instruments...),
		ShadowOnly:    e.cfg.ShadowOnly,
		GeneratedAtMs: e.clock().UnixMilli(),
	}
	e.pool.Each(func(p *models.Position) {
		if p.Shadow {
			st.OpenShadow++
		} else {
			st.OpenLive++
		}
	})
	for _, a := range e.agents {
		st.Agents = append(st.Agents, AgentStatus{
			Agent:             a.Kind().String(),
			Threshold:         a.Threshold(),
			Allocation:        a.Allocation(),
			HasEdge:           a.HasEdge(),
			PValue:            a.PValue(),
			LearningPhase:     a.InLearningPhase(),
			RollingWinRate:    a.RollingWinRate(),
			RollingSamples:    a.RollingSamples(),
			ConsecutiveLosses: a.ConsecutiveLosses(),
			SwapCount:         a.SwapCount(),
			LastSwapTime:      a.LastSwapTime(),
			Champion:          profileStatus(a.Real()),
			Challenger:        profileStatus(a.Shadow()),
		})
	}
	return st
}

func profileStatus(p *ledger.Profile) ProfileStatus {
	t := p.Totals()
	ps := ProfileStatus{
		Trades:       t.Trades,
		WinRate:      t.WinRate(),
		ProfitFactor: t.ProfitFactor(),
		Omega:        t.Omega(),
		PnL:          t.PnL,
	}
	for b := 0; b < regime.NumBuckets; b++ {
		l := p.Ledger(b)
		s, sess := l.State(), l.Session()
		ps.Regimes = append(ps.Regimes, RegimeStatus{
			Regime:        regime.BucketName(b),
			QBuy:          s.QBuy,
			QSell:         s.QSell,
			QHold:         s.QHold,
			Trades:        s.Trades,
			WinRate:       l.WinRate(),
			ProfitFactor:  l.ProfitFactor(),
			LearningRate:  s.LearningRate,
			SessionTrades: sess.Trades,
			SessionWins:   sess.Wins,
			SessionPnL:    sess.PnL,
		})
	}
	return ps
}
