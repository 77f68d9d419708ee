package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"RegimeDuel/internal/domain/models"
	"RegimeDuel/pkg/logger"
)

// EngineRunner drives the engine on timers: a decision cycle per instrument on
// every tick (when polling) and maintenance plus a snapshot on the slower cadence.
type EngineRunner struct {
	engine      *DecisionEngine
	keeper      *StateKeeper
	log         *logger.Logger
	poll        bool
	tick        time.Duration
	maintenance time.Duration
	clock       func() time.Time

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngineRunner creates a runner. With poll false only maintenance runs and
// decision cycles are driven by the signal stream.
func NewEngineRunner(engine *DecisionEngine, keeper *StateKeeper, log *logger.Logger, poll bool, tick, maintenance time.Duration) *EngineRunner {
	if tick <= 0 {
		tick = time.Second
	}
	if maintenance <= 0 {
		maintenance = time.Minute
	}
	return &EngineRunner{
		engine:      engine,
		keeper:      keeper,
		log:         log,
		poll:        poll,
		tick:        tick,
		maintenance: maintenance,
		clock:       time.Now,
	}
}

// Start launches the loops. Calling Start twice is a no-op.
func (r *EngineRunner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)

	if r.poll {
		r.wg.Add(1)
		go r.loop(ctx, r.tick, r.cycle)
	}
	r.wg.Add(1)
	go r.loop(ctx, r.maintenance, r.maintain)
}

// Stop cancels the loops, waits for them and writes a final snapshot.
func (r *EngineRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
	if r.keeper == nil {
		return nil
	}
	return r.keeper.Save(ctx, r.clock())
}

func (r *EngineRunner) loop(ctx context.Context, every time.Duration, fn func(context.Context, time.Time)) {
	defer r.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx, r.clock())
		}
	}
}

func (r *EngineRunner) cycle(ctx context.Context, now time.Time) {
	for _, inst := range r.engine.Instruments() {
		if err := r.engine.ProcessTick(ctx, inst, now); err != nil && !errors.Is(err, models.ErrInvalidInput) {
			r.log.Warn("decision cycle failed",
				logger.String("instrument", inst),
				logger.Error(err))
		}
	}
}

func (r *EngineRunner) maintain(ctx context.Context, now time.Time) {
	r.engine.RunMaintenance(ctx, now)
	if r.keeper == nil {
		return
	}
	if err := r.keeper.Save(ctx, now); err != nil {
		r.log.Error("snapshot save failed", logger.Error(err))
	}
}
