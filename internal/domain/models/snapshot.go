package models

import "time"

// SnapshotVersion is bumped whenever the persisted layout changes.
const SnapshotVersion = 1

// LedgerState is the persisted part of one strategy ledger.
type LedgerState struct {
	QBuy               float64 `json:"q_buy"`
	QSell              float64 `json:"q_sell"`
	QHold              float64 `json:"q_hold"`
	Trades             int     `json:"trades"`
	Wins               int     `json:"wins"`
	CumulativePnL      float64 `json:"cumulative_pnl"`
	CumulativeUpside   float64 `json:"cumulative_upside"`
	CumulativeDownside float64 `json:"cumulative_downside"`
	LearningRate       float64 `json:"learning_rate"`
}

// AgentSnapshot holds both profiles and the duel bookkeeping of one agent.
type AgentSnapshot struct {
	Kind              string        `json:"kind"`
	Real              []LedgerState `json:"real"`
	Shadow            []LedgerState `json:"shadow"`
	Threshold         float64       `json:"threshold"`
	Allocation        float64       `json:"allocation"`
	Outcomes          []bool        `json:"outcomes"`
	ConsecutiveLosses int           `json:"consecutive_losses"`
	SwapCount         int           `json:"swap_count"`
	LastSwapTime      time.Time     `json:"last_swap_time"`
}

// PredictorSnapshot holds the win-rate tables and their update counts.
type PredictorSnapshot struct {
	RegimeWinRate []float64 `json:"regime_win_rate"`
	ChiWinRate    []float64 `json:"chi_win_rate"`
	AccelWinRate  []float64 `json:"accel_win_rate"`
	RegimeCount   []int     `json:"regime_count"`
	ChiCount      []int     `json:"chi_count"`
	AccelCount    []int     `json:"accel_count"`
}

// BreakerSnapshot is the persisted circuit-breaker state.
type BreakerSnapshot struct {
	State           string    `json:"state"`
	HaltTime        time.Time `json:"halt_time"`
	HaltReason      string    `json:"halt_reason"`
	RetrainTrades   int       `json:"retrain_trades"`
	RetrainWins     int       `json:"retrain_wins"`
	RetrainUpside   float64   `json:"retrain_upside"`
	RetrainDownside float64   `json:"retrain_downside"`
	PeakEquity      float64   `json:"peak_equity"`
	DailyPnL        float64   `json:"daily_pnl"`
	Day             time.Time `json:"day"`
	DayStartEquity  float64   `json:"day_start_equity"`
}

// Snapshot is everything the engine needs to resume learning after a restart.
type Snapshot struct {
	Version    int               `json:"version"`
	SavedAt    time.Time         `json:"saved_at"`
	Equity     float64           `json:"equity"`
	LiveTrades int               `json:"live_trades"`
	Agents     []AgentSnapshot   `json:"agents"`
	Predictor  PredictorSnapshot `json:"predictor"`
	Breaker    BreakerSnapshot   `json:"breaker"`
}
