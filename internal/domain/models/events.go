package models

import "time"

// SensorUpdate is one pushed message from the physics sensor: the regime signal
// plus an optional quote/contract refresh and ATR.
type SensorUpdate struct {
	Signal RegimeSignal
	Spec   *InstrumentSpec
	ATR    float64
}

// Fill reports that the broker closed a live position.
type Fill struct {
	Handle          string    `json:"handle"`
	NetPnL          float64   `json:"net_pnl"`
	DurationMinutes float64   `json:"duration_minutes"`
	ClosedAt        time.Time `json:"closed_at"`
}

// OrderRequest is what the execution gateway sends to the broker bridge.
type OrderRequest struct {
	Type       string    `json:"type"`
	Handle     string    `json:"handle"`
	Instrument string    `json:"instrument,omitempty"`
	Direction  string    `json:"direction,omitempty"`
	Size       float64   `json:"size,omitempty"`
	Stop       float64   `json:"stop"`
	Timestamp  time.Time `json:"timestamp"`
}

// Order request types.
const (
	OrderOpen       = "open"
	OrderUpdateStop = "update_stop"
)

// CircuitEvent records a circuit breaker transition.
type CircuitEvent struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// SwapEvent records a Champion/Challenger promotion.
type SwapEvent struct {
	Agent     string    `json:"agent"`
	SwapCount int       `json:"swap_count"`
	ShadowPF  float64   `json:"shadow_pf"`
	RealPF    float64   `json:"real_pf"`
	At        time.Time `json:"at"`
}
