package repository

import (
	"context"

	"RegimeDuel/internal/domain/models"
)

// MarketDataFeed serves the sensor output and contract data for an instrument.
type MarketDataFeed interface {
	GetRegimeSignal(ctx context.Context, instrument string) (models.RegimeSignal, error)
	GetSpec(ctx context.Context, instrument string) (models.InstrumentSpec, error)
	GetATR(ctx context.Context, instrument string) (float64, error)
}

// ExecutionGateway places live orders. Closes come back through the engine's
// OnPositionClosed.
type ExecutionGateway interface {
	OpenPosition(ctx context.Context, instrument string, dir models.Direction, size, stop float64) (string, error)
	UpdateStop(ctx context.Context, handle string, stop float64) error
}

// QuotedGateway is implemented by gateways that can fill against a quote the
// caller already holds instead of looking one up.
type QuotedGateway interface {
	OpenPositionAt(ctx context.Context, spec models.InstrumentSpec, dir models.Direction, size, stop float64) (string, error)
}

// SignalStream pushes sensor output as it is produced.
type SignalStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, instruments []string) error
	Read(ctx context.Context) (<-chan models.SensorUpdate, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// SnapshotStore persists the engine's learned state.
type SnapshotStore interface {
	Load(ctx context.Context) (*models.Snapshot, error)
	Save(ctx context.Context, s *models.Snapshot) error
}

// TradeJournal stores closed positions for later analysis.
type TradeJournal interface {
	Init(ctx context.Context) error
	Record(ctx context.Context, t models.ClosedTrade) error
	Recent(ctx context.Context, instrument string, limit int) ([]models.ClosedTrade, error)
	Close() error
}

// EventPublisher fans engine events out to downstream consumers.
type EventPublisher interface {
	PublishDecision(ctx context.Context, d models.Decision) error
	PublishTrade(ctx context.Context, t models.ClosedTrade) error
	PublishCircuit(ctx context.Context, e models.CircuitEvent) error
	PublishSwap(ctx context.Context, e models.SwapEvent) error
	Close() error
}

type Metrics interface {
	RecordDecision(agent, regime string, live bool, pWin float64)
	RecordOpen(agent string, shadow bool)
	RecordClose(agent string, shadow bool, netPnL float64)
	RecordHalt(reason string)
	RecordSwap(agent string)
	RecordCircuitState(state string)
	RecordAllocation(agent string, fraction float64)
	RecordEquity(equity float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
