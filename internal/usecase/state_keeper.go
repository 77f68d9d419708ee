package usecase

import (
	"context"
	"fmt"
	"time"

	drepo "RegimeDuel/internal/domain/repository"
	"RegimeDuel/pkg/logger"
)

// StateKeeper moves engine snapshots in and out of a SnapshotStore.
type StateKeeper struct {
	engine  *DecisionEngine
	store   drepo.SnapshotStore
	metrics drepo.Metrics
	log     *logger.Logger
}

func NewStateKeeper(engine *DecisionEngine, store drepo.SnapshotStore, metrics drepo.Metrics, log *logger.Logger) *StateKeeper {
	return &StateKeeper{engine: engine, store: store, metrics: metrics, log: log}
}

// Load restores the last snapshot. A missing, unreadable or mismatched
// snapshot leaves the engine in its fresh state and reports false.
func (k *StateKeeper) Load(ctx context.Context) bool {
	s, err := k.store.Load(ctx)
	if err != nil {
		k.metrics.RecordError("snapshot_load")
		k.log.Error("snapshot load failed, starting fresh", logger.Error(err))
		return false
	}
	if s == nil {
		k.log.Info("no snapshot found, starting fresh")
		return false
	}
	if err := k.engine.Restore(s); err != nil {
		k.metrics.RecordError("snapshot_restore")
		k.log.Error("snapshot rejected, starting fresh", logger.Error(err))
		return false
	}
	st := k.engine.Status()
	k.log.Info("engine state restored",
		logger.Time("saved_at", s.SavedAt),
		logger.Float64("equity", st.Equity),
		logger.String("circuit", st.Circuit.State))
	return true
}

// Save persists the current engine state. The engine lock is held only while
// the snapshot is taken.
func (k *StateKeeper) Save(ctx context.Context, now time.Time) error {
	start := time.Now()
	s := k.engine.Snapshot(now)
	if err := k.store.Save(ctx, s); err != nil {
		k.metrics.RecordError("snapshot_save")
		return fmt.Errorf("save snapshot: %w", err)
	}
	k.metrics.RecordLatency("snapshot_save", time.Since(start).Seconds())
	return nil
}
