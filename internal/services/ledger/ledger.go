package ledger

import (
	"fmt"
	"math"

	"RegimeDuel/internal/domain/models"
)

const surpriseScale = 0.1

// Config holds learning-rate and reward-shaping parameters shared by every ledger.
type Config struct {
	InitialRate   float64
	MinRate       float64
	DecayFactor   float64
	MaxBoost      float64
	LossPenalty   float64
	TimeDecayRate float64
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		InitialRate:   0.10,
		MinRate:       0.01,
		DecayFactor:   0.995,
		MaxBoost:      2.0,
		LossPenalty:   1.5,
		TimeDecayRate: 0.001,
	}
}

// Session mirrors the trade counters since engine start. Never persisted.
type Session struct {
	Trades int     `json:"trades"`
	Wins   int     `json:"wins"`
	PnL    float64 `json:"pnl"`
}

// Ledger holds Q-values and trade statistics for one (agent role, regime) pair.
type Ledger struct {
	cfg     Config
	state   models.LedgerState
	session Session

	statsValid bool
	winRate    float64
	profitFac  float64
}

// New creates an empty ledger at the initial learning rate.
func New(cfg Config) *Ledger {
	return &Ledger{cfg: cfg, state: models.LedgerState{LearningRate: cfg.InitialRate}}
}

// CalculateReward shapes a realised PnL: losses are amplified by LossPenalty,
// then holding time is charged at TimeDecayRate per minute.
func (c Config) CalculateReward(netPnL, durationMinutes float64) float64 {
	reward := netPnL
	if netPnL < 0 {
		reward = netPnL * c.LossPenalty
	}
	if durationMinutes > 0 {
		reward -= durationMinutes * c.TimeDecayRate
	}
	return reward
}

// CalculateReward applies the ledger's reward shaping.
func (l *Ledger) CalculateReward(netPnL, durationMinutes float64) float64 {
	return l.cfg.CalculateReward(netPnL, durationMinutes)
}

// Q returns the value for an action.
func (l *Ledger) Q(a models.Action) float64 {
	switch a {
	case models.ActionBuy:
		return l.state.QBuy
	case models.ActionSell:
		return l.state.QSell
	default:
		return l.state.QHold
	}
}

func (l *Ledger) setQ(a models.Action, v float64) {
	switch a {
	case models.ActionBuy:
		l.state.QBuy = v
	case models.ActionSell:
		l.state.QSell = v
	default:
		l.state.QHold = v
	}
}

// UpdateTrade posts a closed trade: one Q step on the action, a learning-rate
// decay and the counter updates. Non-finite values leave the ledger untouched.
func (l *Ledger) UpdateTrade(netPnL, reward float64, action models.Action) error {
	if !finite(netPnL) || !finite(reward) {
		return fmt.Errorf("ledger update pnl=%v reward=%v: %w", netPnL, reward, models.ErrInvalidInput)
	}

	q := l.Q(action)
	boost := math.Min(l.cfg.MaxBoost, 1+surpriseScale*math.Abs(reward-q))
	alpha := math.Min(l.state.LearningRate*boost, l.cfg.InitialRate)
	l.setQ(action, q+alpha*(reward-q))

	l.state.LearningRate = math.Max(l.state.LearningRate*l.cfg.DecayFactor, l.cfg.MinRate)

	l.state.Trades++
	l.session.Trades++
	l.state.CumulativePnL += netPnL
	l.session.PnL += netPnL
	if netPnL > 0 {
		l.state.Wins++
		l.session.Wins++
		l.state.CumulativeUpside += netPnL
	} else {
		l.state.CumulativeDownside += -netPnL
	}
	l.statsValid = false
	return nil
}

// WinRate returns wins/trades, or 0 without trades.
func (l *Ledger) WinRate() float64 {
	l.refresh()
	return l.winRate
}

// ProfitFactor returns upside/downside with the usual degenerate cases.
func (l *Ledger) ProfitFactor() float64 {
	l.refresh()
	return l.profitFac
}

func (l *Ledger) refresh() {
	if l.statsValid {
		return
	}
	l.winRate = WinRate(l.state.Wins, l.state.Trades)
	l.profitFac = ProfitFactor(l.state.CumulativeUpside, l.state.CumulativeDownside)
	l.statsValid = true
}

// ResetLearningRate restores the initial learning rate.
func (l *Ledger) ResetLearningRate() { l.state.LearningRate = l.cfg.InitialRate }

// State returns a copy of the persisted values.
func (l *Ledger) State() models.LedgerState { return l.state }

// Session returns the session mirrors.
func (l *Ledger) Session() Session { return l.session }

// Restore replaces the persisted values and clears caches.
func (l *Ledger) Restore(s models.LedgerState) {
	l.state = s
	l.statsValid = false
}

// ValidState rejects non-finite values and inconsistent counters.
func ValidState(s models.LedgerState) error {
	for _, v := range []float64{s.QBuy, s.QSell, s.QHold, s.CumulativePnL, s.CumulativeUpside, s.CumulativeDownside, s.LearningRate} {
		if !finite(v) {
			return fmt.Errorf("ledger state has non-finite value: %w", models.ErrSnapshotMismatch)
		}
	}
	if s.Trades < 0 || s.Wins < 0 || s.Wins > s.Trades || s.LearningRate <= 0 {
		return fmt.Errorf("ledger state counters trades=%d wins=%d rate=%v: %w", s.Trades, s.Wins, s.LearningRate, models.ErrSnapshotMismatch)
	}
	return nil
}

// Clone returns an independent copy.
func (l *Ledger) Clone() *Ledger {
	c := *l
	return &c
}

// WinRate is wins/trades with 0 for an empty sample.
func WinRate(wins, trades int) float64 {
	if trades <= 0 {
		return 0
	}
	return float64(wins) / float64(trades)
}

// ProfitFactor is upside/downside capped at 10. Without downside it is 10 when
// profitable and 0 when flat.
func ProfitFactor(upside, downside float64) float64 {
	if downside <= 0 {
		if upside > 0 {
			return maxProfitFactor
		}
		return 0
	}
	return math.Min(upside/downside, maxProfitFactor)
}

const maxProfitFactor = 10.0

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
