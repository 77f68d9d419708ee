package models

import (
	"math"
	"strings"
	"time"
)

// RegimeClass is the discretized market state reported by the kinematic sensor.
type RegimeClass int

const (
	RegimeBreakout RegimeClass = iota
	RegimeTrend
	RegimeMeanReversion
	RegimeCritical
	RegimeCalibrating
)

var regimeNames = [...]string{"breakout", "trend", "mean_reversion", "critical", "calibrating"}

func (r RegimeClass) String() string {
	if r < 0 || int(r) >= len(regimeNames) {
		return "calibrating"
	}
	return regimeNames[r]
}

// ParseRegimeClass maps a sensor label to a class. Unknown labels are Calibrating.
func ParseRegimeClass(s string) RegimeClass {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "breakout":
		return RegimeBreakout
	case "trend", "trending":
		return RegimeTrend
	case "mean_reversion", "meanreversion", "reversion":
		return RegimeMeanReversion
	case "critical":
		return RegimeCritical
	default:
		return RegimeCalibrating
	}
}

// RegimeSignal is the read-only per-tick output of the physics sensor.
// All kinematic values arrive already normalized.
type RegimeSignal struct {
	Instrument   string
	Class        RegimeClass
	Velocity     float64
	Acceleration float64
	ChiZ         float64
	PriceZ       float64
	Timestamp    time.Time
}

// Valid reports whether every kinematic input is finite.
func (s RegimeSignal) Valid() bool {
	for _, v := range []float64{s.Velocity, s.Acceleration, s.ChiZ, s.PriceZ} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// InstrumentSpec describes contract sizing and the current quote.
type InstrumentSpec struct {
	Instrument string  `json:"instrument"`
	MinVolume  float64 `json:"min_vol"`
	MaxVolume  float64 `json:"max_vol"`
	VolumeStep float64 `json:"vol_step"`
	TickSize   float64 `json:"tick_size"`
	TickValue  float64 `json:"tick_value"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
}

// Valid rejects non-finite or non-positive sizing and quote values.
func (s InstrumentSpec) Valid() bool {
	for _, v := range []float64{s.MinVolume, s.MaxVolume, s.VolumeStep, s.TickSize, s.TickValue, s.Bid, s.Ask} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return false
		}
	}
	return s.Ask >= s.Bid && s.MaxVolume >= s.MinVolume
}

// Mid returns the mid quote.
func (s InstrumentSpec) Mid() float64 { return (s.Bid + s.Ask) / 2 }

// Spread returns ask minus bid.
func (s InstrumentSpec) Spread() float64 { return s.Ask - s.Bid }
