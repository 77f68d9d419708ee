package usecase

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"RegimeDuel/internal/domain/models"
	drepo "RegimeDuel/internal/domain/repository"
	"RegimeDuel/internal/services/agent"
	"RegimeDuel/internal/services/allocator"
	"RegimeDuel/internal/services/breaker"
	"RegimeDuel/internal/services/edge"
	"RegimeDuel/internal/services/ledger"
	"RegimeDuel/internal/services/positions"
	"RegimeDuel/internal/services/predictor"
	"RegimeDuel/internal/services/regime"
	"RegimeDuel/pkg/logger"
)

// EngineConfig holds the orchestration parameters.
type EngineConfig struct {
	Instruments            []string
	InitialEquity          float64
	MinProbability         float64
	RiskPct                float64
	StopATRMult            float64
	TargetATRMult          float64
	TrailActivateATR       float64
	TrailDistanceATR       float64
	ShadowTimeout          time.Duration
	FrictionTicks          float64
	ShadowOnly             bool
	AllowLiveLowConfidence bool
	OmegaSizing            bool
	ExplorationNoise       float64
	PoolCapacity           int
}

// Settings bundles the configuration of every component the engine owns.
type Settings struct {
	Engine     EngineConfig
	Ledger     ledger.Config
	Gate       edge.Config
	Predictor  predictor.Config
	Agents     agent.Config
	Thresholds map[models.AgentKind]float64
	RiskMults  map[models.AgentKind]float64
	Allocator  allocator.Config
	Breaker    breaker.Config
}

// EventSink receives engine events. Implementations must return immediately.
type EventSink interface {
	Decision(d models.Decision)
	Trade(t models.ClosedTrade)
	Circuit(e models.CircuitEvent)
	Swap(e models.SwapEvent)
}

// Tick is one instrument's market state for a decision cycle.
type Tick struct {
	Signal models.RegimeSignal
	Spec   models.InstrumentSpec
	ATR    float64
}

type mark struct {
	spec models.InstrumentSpec
	atr  float64
	at   time.Time
}

const numAgents = len(models.AgentKinds)

// DecisionEngine owns both agents, the predictor, the gate, the allocator, the
// circuit breaker and the position pool. Every mutation runs under mu.
type DecisionEngine struct {
	mu sync.Mutex

	settings Settings
	cfg      EngineConfig

	feed    drepo.MarketDataFeed
	gateway drepo.ExecutionGateway
	events  EventSink
	metrics drepo.Metrics
	log     *logger.Logger
	rng     *rand.Rand
	clock   func() time.Time
	handle  func() string

	agents    [numAgents]*agent.Agent
	predictor *predictor.Predictor
	gate      *edge.Gate
	allocator *allocator.Allocator
	breaker   *breaker.Breaker
	pool      *positions.Pool

	equity     float64
	liveTrades int
	marks      map[string]mark
	traded     map[string]struct{}
}

// EngineOption configures DecisionEngine.
type EngineOption func(*DecisionEngine)

// WithClock overrides the wall clock used for broker-driven closes and releases.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *DecisionEngine) {
		e.clock = clock
	}
}

// WithHandleFunc overrides how shadow position handles are generated.
func WithHandleFunc(fn func() string) EngineOption {
	return func(e *DecisionEngine) {
		e.handle = fn
	}
}

// NewDecisionEngine builds an engine in a fresh state. rng drives exploration
// noise on shadow rewards and should be seeded by the caller.
func NewDecisionEngine(
	settings Settings,
	feed drepo.MarketDataFeed,
	gateway drepo.ExecutionGateway,
	events EventSink,
	metrics drepo.Metrics,
	log *logger.Logger,
	rng *rand.Rand,
	opts ...EngineOption,
) *DecisionEngine {
	e := &DecisionEngine{
		settings: settings,
		cfg:      settings.Engine,
		feed:     feed,
		gateway:  gateway,
		events:   events,
		metrics:  metrics,
		log:      log,
		rng:      rng,
		clock:    time.Now,
		handle:   func() string { return "shadow-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.traded = make(map[string]struct{}, len(e.cfg.Instruments))
	for _, inst := range e.cfg.Instruments {
		e.traded[inst] = struct{}{}
	}
	e.reset()
	return e
}

// reset puts every component into its zero-knowledge state.
func (e *DecisionEngine) reset() {
	for i, kind := range models.AgentKinds {
		e.agents[i] = e.newAgent(kind)
	}
	e.predictor = predictor.New(e.settings.Predictor)
	e.gate = edge.NewGate(e.settings.Gate)
	e.allocator = allocator.New(e.settings.Allocator)
	e.breaker = breaker.New(e.settings.Breaker)
	e.pool = positions.New(e.cfg.PoolCapacity)
	e.equity = e.cfg.InitialEquity
	e.liveTrades = 0
	e.marks = make(map[string]mark)
}

func (e *DecisionEngine) newAgent(kind models.AgentKind) *agent.Agent {
	a := agent.New(kind, e.settings.Agents, e.settings.Ledger)
	if thr, ok := e.settings.Thresholds[kind]; ok {
		a.SetThreshold(thr)
	}
	if m, ok := e.settings.RiskMults[kind]; ok {
		a.SetRiskMultiplier(m)
	}
	return a
}

// Instruments returns the configured instrument list.
func (e *DecisionEngine) Instruments() []string {
	return append([]string(nil), e.cfg.Instruments...)
}

// ProcessTick pulls the instrument's state from the feed and runs one decision cycle.
// Feed calls happen before the engine lock is taken.
func (e *DecisionEngine) ProcessTick(ctx context.Context, instrument string, now time.Time) error {
	sig, err := e.feed.GetRegimeSignal(ctx, instrument)
	if err != nil {
		e.metrics.RecordError("feed_signal")
		return fmt.Errorf("tick %s: signal: %w", instrument, err)
	}
	spec, err := e.feed.GetSpec(ctx, instrument)
	if err != nil {
		e.metrics.RecordError("feed_spec")
		return fmt.Errorf("tick %s: spec: %w", instrument, err)
	}
	atr, err := e.feed.GetATR(ctx, instrument)
	if err != nil {
		e.metrics.RecordError("feed_atr")
		return fmt.Errorf("tick %s: atr: %w", instrument, err)
	}
	if sig.Instrument == "" {
		sig.Instrument = instrument
	}
	if spec.Instrument == "" {
		spec.Instrument = instrument
	}
	return e.HandleTick(ctx, Tick{Signal: sig, Spec: spec, ATR: atr}, now)
}

// HandleTick runs one decision cycle on already-fetched inputs. Invalid inputs
// and instruments outside the configured set skip the cycle.
func (e *DecisionEngine) HandleTick(ctx context.Context, t Tick, now time.Time) error {
	err := validateTick(t)
	if err == nil {
		err = e.checkInstrument(t.Signal.Instrument)
	}
	if err != nil {
		e.metrics.RecordError("invalid_input")
		e.log.Warn("tick skipped",
			logger.String("instrument", t.Signal.Instrument),
			logger.Error(err))
		return err
	}
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	instrument := t.Signal.Instrument
	e.marks[instrument] = mark{spec: t.Spec, atr: t.ATR, at: now}
	e.manageOpen(ctx, instrument, t.Spec, t.ATR, now)

	bucket := regime.Bucket(t.Signal.Class)
	lowConfidence := regime.IsLowConfidence(t.Signal.Class)
	for _, a := range e.agents {
		e.evaluateAgent(ctx, a, t, bucket, lowConfidence, now)
	}

	e.metrics.RecordLatency("decision_cycle", time.Since(start).Seconds())
	return nil
}

// checkInstrument keeps pool usage within the capacity sized for the configured
// instruments. An empty set accepts everything.
func (e *DecisionEngine) checkInstrument(instrument string) error {
	if len(e.traded) == 0 {
		return nil
	}
	if _, ok := e.traded[instrument]; !ok {
		return fmt.Errorf("tick %s: instrument not configured: %w", instrument, models.ErrInvalidInput)
	}
	return nil
}

func validateTick(t Tick) error {
	if t.Signal.Instrument == "" {
		return fmt.Errorf("tick without instrument: %w", models.ErrInvalidInput)
	}
	if t.Spec.Instrument != "" && t.Spec.Instrument != t.Signal.Instrument {
		return fmt.Errorf("tick %s: spec for %s: %w", t.Signal.Instrument, t.Spec.Instrument, models.ErrInvalidInput)
	}
	if !t.Signal.Valid() {
		return fmt.Errorf("tick %s: non-finite signal: %w", t.Signal.Instrument, models.ErrInvalidInput)
	}
	if !t.Spec.Valid() {
		return fmt.Errorf("tick %s: invalid spec: %w", t.Signal.Instrument, models.ErrInvalidInput)
	}
	if math.IsNaN(t.ATR) || math.IsInf(t.ATR, 0) || t.ATR <= 0 {
		return fmt.Errorf("tick %s: atr %v: %w", t.Signal.Instrument, t.ATR, models.ErrInvalidInput)
	}
	return nil
}

func (e *DecisionEngine) evaluateAgent(ctx context.Context, a *agent.Agent, t Tick, bucket int, lowConfidence bool, now time.Time) {
	dir := a.Propose(t.Signal)
	if dir == models.DirectionNone {
		return
	}
	sig, spec := t.Signal, t.Spec
	kind := a.Kind()

	pWin := e.predictor.Predict(bucket, sig.ChiZ, sig.Acceleration, a.ShadowRegimeWinRate(bucket))
	size := e.positionSize(a, spec, t.ATR, pWin)
	entry := entryPrice(dir, spec)
	stop := roundToTick(entry-float64(dir)*t.ATR*e.cfg.StopATRMult, spec.TickSize)

	if _, open := e.pool.Find(sig.Instrument, kind, true); !open {
		e.openShadow(a, sig, spec, t.ATR, bucket, dir, size, now)
	}

	live, reason := e.liveGate(a, pWin, lowConfidence)
	if live {
		if _, open := e.pool.Find(sig.Instrument, kind, false); open {
			live, reason = false, "live_position_open"
		}
	}
	if live {
		live, reason = e.openLive(ctx, models.Position{
			Instrument:   sig.Instrument,
			Agent:        kind,
			Direction:    dir,
			EntryPrice:   entry,
			EntryTime:    now,
			StopPrice:    stop,
			TargetPrice:  roundToTick(entry+float64(dir)*t.ATR*e.cfg.TargetATRMult, spec.TickSize),
			Size:         size,
			RegimeBucket: bucket,
			ChiZ:         sig.ChiZ,
			AccelZ:       sig.Acceleration,
			Friction:     e.friction(spec, size),
			TickSize:     spec.TickSize,
			TickValue:    spec.TickValue,
		}, spec, pWin)
	}

	e.metrics.RecordDecision(kind.String(), regime.BucketName(bucket), live, pWin)
	e.events.Decision(models.Decision{
		Instrument: sig.Instrument,
		Agent:      kind.String(),
		Regime:     sig.Class.String(),
		Direction:  dir.String(),
		PWin:       pWin,
		Size:       size,
		Live:       live,
		Reason:     reason,
		Timestamp:  now,
	})
}

// openLive reserves a pool slot before the order reaches the broker, so every
// order sent is tracked and its fill can be settled.
func (e *DecisionEngine) openLive(ctx context.Context, pos models.Position, spec models.InstrumentSpec, pWin float64) (bool, string) {
	kind := pos.Agent.String()
	pos.Handle = "pending:" + pos.Instrument + ":" + kind
	if err := e.pool.Open(pos); err != nil {
		e.metrics.RecordError("live_reserve")
		e.log.Error("live open skipped, no pool slot",
			logger.String("instrument", pos.Instrument),
			logger.String("agent", kind),
			logger.Error(err))
		return false, "pool_full"
	}

	var (
		h   string
		err error
	)
	if qg, ok := e.gateway.(drepo.QuotedGateway); ok {
		h, err = qg.OpenPositionAt(ctx, spec, pos.Direction, pos.Size, pos.StopPrice)
	} else {
		h, err = e.gateway.OpenPosition(ctx, pos.Instrument, pos.Direction, pos.Size, pos.StopPrice)
	}
	if err == nil {
		err = e.pool.Rehandle(pos.Handle, h)
	}
	if err != nil {
		_, _ = e.pool.Release(pos.Handle)
		e.metrics.RecordError("live_open")
		e.log.Error("live open failed",
			logger.String("instrument", pos.Instrument),
			logger.String("agent", kind),
			logger.String("handle", h),
			logger.Error(err))
		return false, "gateway_error"
	}

	e.metrics.RecordOpen(kind, false)
	e.log.Info("live position opened",
		logger.String("instrument", pos.Instrument),
		logger.String("agent", kind),
		logger.String("handle", h),
		logger.String("direction", pos.Direction.String()),
		logger.Float64("size", pos.Size),
		logger.Float64("p_win", pWin))
	return true, "live"
}

// liveGate decides whether a proposal may risk capital and why not.
func (e *DecisionEngine) liveGate(a *agent.Agent, pWin float64, lowConfidence bool) (bool, string) {
	switch {
	case e.cfg.ShadowOnly:
		return false, "shadow_only"
	case lowConfidence && !e.cfg.AllowLiveLowConfidence:
		return false, "low_confidence_regime"
	case pWin < e.cfg.MinProbability:
		return false, "low_probability"
	case !e.breaker.CanTradeLive():
		return false, "circuit_" + e.breaker.State().String()
	case !a.HasEdge():
		return false, "no_edge"
	}
	return true, "live"
}

func (e *DecisionEngine) openShadow(a *agent.Agent, sig models.RegimeSignal, spec models.InstrumentSpec, atr float64, bucket int, dir models.Direction, size float64, now time.Time) {
	entry := entryPrice(dir, spec)
	pos := models.Position{
		Handle:       e.handle(),
		Instrument:   sig.Instrument,
		Agent:        a.Kind(),
		Shadow:       true,
		Direction:    dir,
		EntryPrice:   entry,
		EntryTime:    now,
		StopPrice:    roundToTick(entry-float64(dir)*atr*e.cfg.StopATRMult, spec.TickSize),
		TargetPrice:  roundToTick(entry+float64(dir)*atr*e.cfg.TargetATRMult, spec.TickSize),
		Size:         size,
		RegimeBucket: bucket,
		ChiZ:         sig.ChiZ,
		AccelZ:       sig.Acceleration,
		Friction:     e.friction(spec, size),
		TickSize:     spec.TickSize,
		TickValue:    spec.TickValue,
	}
	if err := e.pool.Open(pos); err != nil {
		e.metrics.RecordError("shadow_open")
		e.log.Warn("shadow open failed",
			logger.String("instrument", sig.Instrument),
			logger.String("agent", a.Kind().String()),
			logger.Error(err))
		return
	}
	e.metrics.RecordOpen(a.Kind().String(), true)
}

// friction estimates round-trip cost: the spread plus a fixed tick allowance.
func (e *DecisionEngine) friction(spec models.InstrumentSpec, size float64) float64 {
	ticks := spec.Spread()/spec.TickSize + e.cfg.FrictionTicks
	return ticks * spec.TickValue * size
}

func entryPrice(dir models.Direction, spec models.InstrumentSpec) float64 {
	if dir == models.DirectionShort {
		return spec.Bid
	}
	return spec.Ask
}

// exitPrice is where a position would be closed at market.
func exitPrice(dir models.Direction, spec models.InstrumentSpec) float64 {
	if dir == models.DirectionShort {
		return spec.Ask
	}
	return spec.Bid
}

func (e *DecisionEngine) agentOf(kind models.AgentKind) *agent.Agent {
	if int(kind) < 0 || int(kind) >= numAgents {
		return nil
	}
	return e.agents[kind]
}
