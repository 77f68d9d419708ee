package usecase

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"RegimeDuel/internal/domain/models"
	"RegimeDuel/internal/services/agent"
	"RegimeDuel/internal/services/allocator"
	"RegimeDuel/internal/services/breaker"
	"RegimeDuel/internal/services/edge"
	"RegimeDuel/internal/services/ledger"
	"RegimeDuel/internal/services/predictor"
	"RegimeDuel/pkg/logger"
)

const testReleaseCode = "release-42"

type countingMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{errors: make(map[string]int)}
}

func (m *countingMetrics) RecordDecision(string, string, bool, float64) {}
func (m *countingMetrics) RecordOpen(string, bool) {}
func (m *countingMetrics) RecordClose(string, bool, float64) {}
func (m *countingMetrics) RecordHalt(string) {}
func (m *countingMetrics) RecordSwap(string) {}
func (m *countingMetrics) RecordCircuitState(string) {}
func (m *countingMetrics) RecordAllocation(string, float64) {}
func (m *countingMetrics) RecordEquity(float64) {}
func (m *countingMetrics) RecordLatency(string, float64) {}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *countingMetrics) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

type fakeGateway struct {
	mu     sync.Mutex
	opened []string
	stops  map[string]float64
	err    error
}

func (g *fakeGateway) OpenPosition(_ context.Context, _ string, _ models.Direction, _, stop float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	h := fmt.Sprintf("live-%d", len(g.opened)+1)
	g.opened = append(g.opened, h)
	if g.stops == nil {
		g.stops = make(map[string]float64)
	}
	g.stops[h] = stop
	return h, nil
}

func (g *fakeGateway) UpdateStop(_ context.Context, handle string, stop float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stops[handle] = stop
	return nil
}

func (g *fakeGateway) openedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.opened)
}

type recordingSink struct {
	mu        sync.Mutex
	decisions []models.Decision
	trades    []models.ClosedTrade
	circuits  []models.CircuitEvent
	swaps     []models.SwapEvent
}

func (s *recordingSink) Decision(d models.Decision) {
	s.mu.Lock()
	s.decisions = append(s.decisions, d)
	s.mu.Unlock()
}

func (s *recordingSink) Trade(t models.ClosedTrade) {
	s.mu.Lock()
	s.trades = append(s.trades, t)
	s.mu.Unlock()
}

func (s *recordingSink) Circuit(e models.CircuitEvent) {
	s.mu.Lock()
	s.circuits = append(s.circuits, e)
	s.mu.Unlock()
}

func (s *recordingSink) Swap(e models.SwapEvent) {
	s.mu.Lock()
	s.swaps = append(s.swaps, e)
	s.mu.Unlock()
}

func (s *recordingSink) lastDecisions(n int) []models.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.decisions) {
		n = len(s.decisions)
	}
	return append([]models.Decision(nil), s.decisions[len(s.decisions)-n:]...)
}

type staticFeed struct {
	sig  models.RegimeSignal
	spec models.InstrumentSpec
	atr  float64
	err  error
}

func (f *staticFeed) GetRegimeSignal(context.Context, string) (models.RegimeSignal, error) {
	return f.sig, f.err
}

func (f *staticFeed) GetSpec(context.Context, string) (models.InstrumentSpec, error) {
	return f.spec, nil
}

func (f *staticFeed) GetATR(context.Context, string) (float64, error) {
	return f.atr, nil
}

var (
	t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	openSpec = models.InstrumentSpec{
		Instrument: "ES",
		MinVolume:  1,
		MaxVolume:  10,
		VolumeStep: 1,
		TickSize:   0.25,
		TickValue:  12.5,
		Bid:        100,
		Ask:        100.5,
	}
	breakoutSignal = models.RegimeSignal{
		Instrument:   "ES",
		Class:        models.RegimeBreakout,
		Velocity:     1,
		Acceleration: 2,
	}
	quietSignal = models.RegimeSignal{Instrument: "ES", Class: models.RegimeCalibrating}
)

func withQuote(spec models.InstrumentSpec, bid, ask float64) models.InstrumentSpec {
	spec.Bid, spec.Ask = bid, ask
	return spec
}

func testSettings() Settings {
	bc := breaker.DefaultConfig()
	bc.ReleaseCode = testReleaseCode
	return Settings{
		Engine: EngineConfig{
			Instruments:      []string{"ES"},
			InitialEquity:    10000,
			MinProbability:   0.55,
			RiskPct:          0.01,
			StopATRMult:      1.5,
			TargetATRMult:    2,
			TrailActivateATR: 1,
			TrailDistanceATR: 1,
			ShadowTimeout:    120 * time.Minute,
			FrictionTicks:    1,
			PoolCapacity:     8,
		},
		Ledger:    ledger.DefaultConfig(),
		Gate:      edge.DefaultConfig(),
		Predictor: predictor.DefaultConfig(),
		Agents:    agent.DefaultConfig(),
		Allocator: allocator.DefaultConfig(),
		Breaker:   bc,
	}
}

// testEngine bundles an engine with its fakes and a movable clock.
type testEngine struct {
	*DecisionEngine
	gw      *fakeGateway
	sink    *recordingSink
	metrics *countingMetrics
	now     time.Time
}

func newTestEngine(t *testing.T, mutate func(*Settings)) *testEngine {
	t.Helper()
	s := testSettings()
	if mutate != nil {
		mutate(&s)
	}
	te := &testEngine{
		gw:      &fakeGateway{},
		sink:    &recordingSink{},
		metrics: newCountingMetrics(),
		now:     t0,
	}
	seq := 0
	te.DecisionEngine = NewDecisionEngine(s, &staticFeed{}, te.gw, te.sink, te.metrics, logger.NewNop(),
		rand.New(rand.NewSource(1)),
		WithClock(func() time.Time { return te.now }),
		WithHandleFunc(func() string {
			seq++
			return fmt.Sprintf("shadow-%d", seq)
		}),
	)
	return te
}

func (te *testEngine) tick(t *testing.T, sig models.RegimeSignal, spec models.InstrumentSpec) {
	t.Helper()
	if err := te.HandleTick(context.Background(), Tick{Signal: sig, Spec: spec, ATR: 2}, te.now); err != nil {
		t.Fatalf("tick: %v", err)
	}
	te.now = te.now.Add(time.Minute)
}

// train runs open/close cycles in which every shadow hits its target.
func (te *testEngine) train(t *testing.T, cycles int) {
	t.Helper()
	for i := 0; i < cycles; i++ {
		te.tick(t, breakoutSignal, openSpec)
		te.tick(t, quietSignal, withQuote(openSpec, 105, 105.5))
	}
}
