package breaker

import (
	"crypto/subtle"
	"fmt"
	"math"
	"time"

	"RegimeDuel/internal/domain/models"
	"RegimeDuel/internal/services/ledger"
	"RegimeDuel/pkg/util"
)

// State of the global risk state machine.
type State int

const (
	StateLive State = iota
	StateHalted
	StateRetraining
	StatePending
)

var stateNames = [...]string{"LIVE", "HALTED", "RETRAINING", "PENDING"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// ParseState is the inverse of String.
func ParseState(s string) (State, error) {
	for i, n := range stateNames {
		if n == s {
			return State(i), nil
		}
	}
	return StateLive, fmt.Errorf("breaker: unknown state %q: %w", s, models.ErrSnapshotMismatch)
}

// Halt reasons, in evaluation order.
const (
	ReasonDailyLoss         = "daily_loss"
	ReasonConsecutiveLosses = "consecutive_losses"
	ReasonRollingWinRate    = "rolling_win_rate"
	ReasonDrawdown          = "drawdown"
	ReasonCooldownElapsed   = "cooldown_elapsed"
	ReasonRetrainPassed     = "retrain_passed"
	ReasonManualRelease     = "manual_release"
)

// Config holds trigger and recovery thresholds.
type Config struct {
	MaxDailyLoss         float64
	MaxConsecutiveLosses int
	MinRollingWinRate    float64
	RollingMinSamples    int
	MaxDrawdown          float64
	Cooldown             time.Duration
	RetrainMinTrades     int
	RetrainMinWinRate    float64
	RetrainMinPF         float64
	ReleaseCode          string
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		MaxDailyLoss:         0.03,
		MaxConsecutiveLosses: 5,
		MinRollingWinRate:    0.35,
		RollingMinSamples:    10,
		MaxDrawdown:          0.10,
		Cooldown:             60 * time.Minute,
		RetrainMinTrades:     20,
		RetrainMinWinRate:    0.50,
		RetrainMinPF:         1.2,
	}
}

// Window is one agent's rolling win rate and how many outcomes back it.
type Window struct {
	WinRate float64
	Samples int
}

// Inputs are the engine-wide risk figures sampled at evaluation time.
// ConsecutiveLosses is the worst streak across agents.
type Inputs struct {
	Equity            float64
	ConsecutiveLosses int
	Rolling           []Window
}

// Transition describes a state change.
type Transition struct {
	From   State
	To     State
	Reason string
	At     time.Time
}

// Breaker gates live trading. It is not safe for concurrent use.
type Breaker struct {
	cfg Config

	state      State
	haltTime   time.Time
	haltReason string

	retrainTrades   int
	retrainWins     int
	retrainUpside   float64
	retrainDownside float64

	peakEquity     float64
	dailyPnL       float64
	day            time.Time
	dayStartEquity float64
}

// New creates a breaker in LIVE.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: StateLive}
}

func (b *Breaker) State() State { return b.state }

// CanTradeLive is true only in LIVE.
func (b *Breaker) CanTradeLive() bool { return b.state == StateLive }

// CanTradeShadow is true unless HALTED.
func (b *Breaker) CanTradeShadow() bool { return b.state != StateHalted }

// RecordLive books a closed live trade into the daily accumulator.
func (b *Breaker) RecordLive(now time.Time, netPnL, equityAfter float64) {
	if b.rollDay(now) {
		b.dayStartEquity = equityAfter - netPnL
	}
	b.dailyPnL += netPnL
}

// RecordShadow counts a closed shadow trade toward retraining.
func (b *Breaker) RecordShadow(netPnL float64) {
	if b.state != StateRetraining {
		return
	}
	b.retrainTrades++
	if netPnL > 0 {
		b.retrainWins++
		b.retrainUpside += netPnL
	} else {
		b.retrainDownside -= netPnL
	}
}

// Evaluate advances the state machine. At most one transition happens per call.
func (b *Breaker) Evaluate(now time.Time, in Inputs) (Transition, bool) {
	if b.rollDay(now) {
		b.dayStartEquity = in.Equity
	}
	if in.Equity > b.peakEquity {
		b.peakEquity = in.Equity
	}

	switch b.state {
	case StateLive:
		if reason := b.trigger(in); reason != "" {
			return b.halt(now, reason), true
		}
	case StateHalted:
		if now.Sub(b.haltTime) >= b.cfg.Cooldown {
			return b.move(now, StateRetraining, ReasonCooldownElapsed), true
		}
	case StateRetraining:
		if b.retrainPassed() {
			return b.move(now, StatePending, ReasonRetrainPassed), true
		}
	}
	return Transition{}, false
}

func (b *Breaker) trigger(in Inputs) string {
	switch {
	case b.DailyLossPct() > b.cfg.MaxDailyLoss:
		return ReasonDailyLoss
	case b.cfg.MaxConsecutiveLosses > 0 && in.ConsecutiveLosses >= b.cfg.MaxConsecutiveLosses:
		return ReasonConsecutiveLosses
	case b.rollingBreached(in.Rolling):
		return ReasonRollingWinRate
	case b.drawdown(in.Equity) > b.cfg.MaxDrawdown:
		return ReasonDrawdown
	}
	return ""
}

func (b *Breaker) rollingBreached(ws []Window) bool {
	for _, w := range ws {
		if w.Samples >= b.cfg.RollingMinSamples && w.WinRate < b.cfg.MinRollingWinRate {
			return true
		}
	}
	return false
}

func (b *Breaker) halt(now time.Time, reason string) Transition {
	t := b.move(now, StateHalted, reason)
	b.haltTime = now
	b.haltReason = reason
	b.retrainTrades, b.retrainWins = 0, 0
	b.retrainUpside, b.retrainDownside = 0, 0
	return t
}

func (b *Breaker) move(now time.Time, to State, reason string) Transition {
	t := Transition{From: b.state, To: to, Reason: reason, At: now}
	b.state = to
	return t
}

func (b *Breaker) retrainPassed() bool {
	return b.retrainTrades >= b.cfg.RetrainMinTrades &&
		ledger.WinRate(b.retrainWins, b.retrainTrades) >= b.cfg.RetrainMinWinRate &&
		ledger.ProfitFactor(b.retrainUpside, b.retrainDownside) >= b.cfg.RetrainMinPF
}

// ManualRelease moves PENDING to LIVE when the code matches. Any other call is
// rejected without side effects. Peak and daily figures are rebased to the
// current equity.
func (b *Breaker) ManualRelease(now time.Time, code string, equity float64) (Transition, bool) {
	if b.state != StatePending {
		return Transition{}, false
	}
	if b.cfg.ReleaseCode != "" && subtle.ConstantTimeCompare([]byte(code), []byte(b.cfg.ReleaseCode)) != 1 {
		return Transition{}, false
	}
	t := b.move(now, StateLive, ReasonManualRelease)
	b.haltReason = ""
	b.peakEquity = equity
	b.dailyPnL = 0
	b.dayStartEquity = equity
	return t, true
}

// DailyLossPct is today's realised loss as a fraction of the day's opening equity.
func (b *Breaker) DailyLossPct() float64 {
	if b.dayStartEquity <= 0 || b.dailyPnL >= 0 {
		return 0
	}
	return -b.dailyPnL / b.dayStartEquity
}

func (b *Breaker) drawdown(equity float64) float64 {
	if b.peakEquity <= 0 || equity >= b.peakEquity {
		return 0
	}
	return (b.peakEquity - equity) / b.peakEquity
}

// rollDay resets the daily accumulator on a UTC date change.
func (b *Breaker) rollDay(now time.Time) bool {
	if !b.day.IsZero() && util.SameUTCDay(b.day, now) {
		return false
	}
	y, m, d := now.UTC().Date()
	b.day = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	b.dailyPnL = 0
	return true
}

// Status is a read-only view for the console.
type Status struct {
	State          string    `json:"state"`
	HaltReason     string    `json:"halt_reason,omitempty"`
	HaltTime       time.Time `json:"halt_time"`
	DailyPnL       float64   `json:"daily_pnl"`
	DailyLossPct   float64   `json:"daily_loss_pct"`
	PeakEquity     float64   `json:"peak_equity"`
	RetrainTrades  int       `json:"retrain_trades"`
	RetrainWinRate float64   `json:"retrain_win_rate"`
	RetrainPF      float64   `json:"retrain_pf"`
}

// Status returns the console view.
func (b *Breaker) Status() Status {
	return Status{
		State:          b.state.String(),
		HaltReason:     b.haltReason,
		HaltTime:       b.haltTime,
		DailyPnL:       b.dailyPnL,
		DailyLossPct:   b.DailyLossPct(),
		PeakEquity:     b.peakEquity,
		RetrainTrades:  b.retrainTrades,
		RetrainWinRate: ledger.WinRate(b.retrainWins, b.retrainTrades),
		RetrainPF:      ledger.ProfitFactor(b.retrainUpside, b.retrainDownside),
	}
}

// Snapshot captures the breaker.
func (b *Breaker) Snapshot() models.BreakerSnapshot {
	return models.BreakerSnapshot{
		State:           b.state.String(),
		HaltTime:        b.haltTime,
		HaltReason:      b.haltReason,
		RetrainTrades:   b.retrainTrades,
		RetrainWins:     b.retrainWins,
		RetrainUpside:   b.retrainUpside,
		RetrainDownside: b.retrainDownside,
		PeakEquity:      b.peakEquity,
		DailyPnL:        b.dailyPnL,
		Day:             b.day,
		DayStartEquity:  b.dayStartEquity,
	}
}

// Restore loads a snapshot. An unknown state leaves the breaker untouched.
func (b *Breaker) Restore(s models.BreakerSnapshot) error {
	st, err := ParseState(s.State)
	if err != nil {
		return err
	}
	for _, v := range []float64{s.RetrainUpside, s.RetrainDownside, s.PeakEquity, s.DailyPnL, s.DayStartEquity} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("breaker: non-finite snapshot value: %w", models.ErrSnapshotMismatch)
		}
	}
	b.state = st
	b.haltTime = s.HaltTime
	b.haltReason = s.HaltReason
	b.retrainTrades = s.RetrainTrades
	b.retrainWins = s.RetrainWins
	b.retrainUpside = s.RetrainUpside
	b.retrainDownside = s.RetrainDownside
	b.peakEquity = s.PeakEquity
	b.dailyPnL = s.DailyPnL
	b.day = s.Day
	b.dayStartEquity = s.DayStartEquity
	return nil
}
