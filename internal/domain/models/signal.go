package models

import (
	"fmt"
	"strings"
	"time"

	"RegimeDuel/pkg/util"
)

// SignalMessage is the wire form of one sensor update, shared by the Kafka,
// WebSocket and HTTP feeds. Spec and ATR are optional.
type SignalMessage struct {
	Instrument   string          `json:"instrument"`
	Regime       string          `json:"regime"`
	Velocity     float64         `json:"velocity"`
	Acceleration float64         `json:"acceleration"`
	ChiZ         float64         `json:"chi_z"`
	PriceZ       float64         `json:"price_z"`
	Timestamp    string          `json:"timestamp"`
	ATR          float64         `json:"atr,omitempty"`
	Spec         *InstrumentSpec `json:"spec,omitempty"`
}

// Signal converts the message into a RegimeSignal. A missing or unparsable
// timestamp falls back to now.
func (m SignalMessage) Signal(now time.Time) (RegimeSignal, error) {
	inst := strings.TrimSpace(m.Instrument)
	if inst == "" {
		return RegimeSignal{}, fmt.Errorf("signal without instrument: %w", ErrInvalidInput)
	}
	s := RegimeSignal{
		Instrument:   inst,
		Class:        ParseRegimeClass(m.Regime),
		Velocity:     m.Velocity,
		Acceleration: m.Acceleration,
		ChiZ:         m.ChiZ,
		PriceZ:       m.PriceZ,
		Timestamp:    util.ParseTimeDefault(m.Timestamp, now),
	}
	if !s.Valid() {
		return RegimeSignal{}, fmt.Errorf("signal %s: non-finite kinematics: %w", inst, ErrInvalidInput)
	}
	return s, nil
}

// Update converts the message into a SensorUpdate.
func (m SignalMessage) Update(now time.Time) (SensorUpdate, error) {
	sig, err := m.Signal(now)
	if err != nil {
		return SensorUpdate{}, err
	}
	u := SensorUpdate{Signal: sig, ATR: m.ATR}
	if m.Spec != nil {
		spec := *m.Spec
		if spec.Instrument == "" {
			spec.Instrument = sig.Instrument
		}
		u.Spec = &spec
	}
	return u, nil
}

// ATRMessage is the HTTP feed's ATR payload.
type ATRMessage struct {
	Instrument string  `json:"instrument"`
	ATR        float64 `json:"atr"`
}
