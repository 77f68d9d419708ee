package feed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"RegimeDuel/internal/domain/models"
	drepo "RegimeDuel/internal/domain/repository"
)

// ErrNoData is returned when nothing has been received for an instrument yet.
var ErrNoData = errors.New("feed: no data")

// LatestFeed keeps the most recent pushed sensor output per instrument.
// Spec and ATR fall back to another feed when the stream does not carry them.
type LatestFeed struct {
	mu       sync.RWMutex
	signals  map[string]models.RegimeSignal
	specs    map[string]models.InstrumentSpec
	atrs     map[string]float64
	fallback drepo.MarketDataFeed
}

// NewLatestFeed creates an empty feed. fallback may be nil.
func NewLatestFeed(fallback drepo.MarketDataFeed) *LatestFeed {
	return &LatestFeed{
		signals:  make(map[string]models.RegimeSignal),
		specs:    make(map[string]models.InstrumentSpec),
		atrs:     make(map[string]float64),
		fallback: fallback,
	}
}

// Apply stores an update. Spec and ATR are only replaced when present and valid.
func (f *LatestFeed) Apply(u models.SensorUpdate) error {
	inst := u.Signal.Instrument
	if inst == "" {
		return fmt.Errorf("apply update: empty instrument: %w", models.ErrInvalidInput)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals[inst] = u.Signal
	if u.Spec != nil && u.Spec.Valid() {
		f.specs[inst] = *u.Spec
	}
	if u.ATR > 0 && !math.IsInf(u.ATR, 0) {
		f.atrs[inst] = u.ATR
	}
	return nil
}

func (f *LatestFeed) GetRegimeSignal(ctx context.Context, instrument string) (models.RegimeSignal, error) {
	f.mu.RLock()
	s, ok := f.signals[instrument]
	f.mu.RUnlock()
	if ok {
		return s, nil
	}
	if f.fallback != nil {
		return f.fallback.GetRegimeSignal(ctx, instrument)
	}
	return models.RegimeSignal{}, fmt.Errorf("signal %s: %w", instrument, ErrNoData)
}

func (f *LatestFeed) GetSpec(ctx context.Context, instrument string) (models.InstrumentSpec, error) {
	f.mu.RLock()
	s, ok := f.specs[instrument]
	f.mu.RUnlock()
	if ok {
		return s, nil
	}
	if f.fallback != nil {
		return f.fallback.GetSpec(ctx, instrument)
	}
	return models.InstrumentSpec{}, fmt.Errorf("spec %s: %w", instrument, ErrNoData)
}

func (f *LatestFeed) GetATR(ctx context.Context, instrument string) (float64, error) {
	f.mu.RLock()
	v, ok := f.atrs[instrument]
	f.mu.RUnlock()
	if ok {
		return v, nil
	}
	if f.fallback != nil {
		return f.fallback.GetATR(ctx, instrument)
	}
	return 0, fmt.Errorf("atr %s: %w", instrument, ErrNoData)
}

var _ drepo.MarketDataFeed = (*LatestFeed)(nil)
