package usecase

import (
	"context"
	"fmt"
	"time"

	"RegimeDuel/internal/domain/models"
	drepo "RegimeDuel/internal/domain/repository"
	mid "RegimeDuel/internal/middleware"
	"RegimeDuel/pkg/logger"
)

// UpdateSink absorbs pushed sensor data so the engine can read it through its feed.
type UpdateSink interface {
	Apply(u models.SensorUpdate) error
}

// SignalProcessor stores an update and runs one decision cycle for its instrument.
type SignalProcessor struct {
	sink   UpdateSink
	engine *DecisionEngine
	clock  func() time.Time
}

// NewSignalProcessor creates a SignalProcessor.
func NewSignalProcessor(sink UpdateSink, engine *DecisionEngine) *SignalProcessor {
	return &SignalProcessor{sink: sink, engine: engine, clock: time.Now}
}

// Process implements middleware.Proc.
func (p *SignalProcessor) Process(ctx context.Context, u models.SensorUpdate) error {
	if err := p.sink.Apply(u); err != nil {
		return fmt.Errorf("apply %s: %w", u.Signal.Instrument, err)
	}
	return p.engine.ProcessTick(ctx, u.Signal.Instrument, p.clock())
}

var _ mid.Proc = (*SignalProcessor)(nil)

// SignalCollector reads the pushed sensor stream and feeds the pipeline.
type SignalCollector struct {
	stream      drepo.SignalStream
	proc        mid.Proc
	pipe        *mid.TickPipeline
	instruments []string
	metrics     drepo.Metrics
	log         *logger.Logger
}

// NewSignalCollector creates a new SignalCollector. pipe may be nil, in which case
// updates go straight to proc.
func NewSignalCollector(stream drepo.SignalStream, proc mid.Proc, pipe *mid.TickPipeline, instruments []string, metrics drepo.Metrics, log *logger.Logger) *SignalCollector {
	return &SignalCollector{stream: stream, proc: proc, pipe: pipe, instruments: instruments, metrics: metrics, log: log}
}

// IsConnected returns true if the signal stream is connected.
func (c *SignalCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *SignalCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx, c.instruments); err != nil {
		return err
	}
	if c.pipe != nil {
		c.pipe.Start(ctx)
	}
	upCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, upCh, errCh)
	return nil
}

func (c *SignalCollector) consume(ctx context.Context, upCh <-chan models.SensorUpdate, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				c.metrics.RecordError("stream")
				c.log.Warn("signal stream error, reconnecting", logger.Error(err))
				if rerr := c.stream.Reconnect(ctx); rerr != nil {
					c.log.Error("signal stream reconnect failed", logger.Error(rerr))
				}
			}
		case u, ok := <-upCh:
			if !ok {
				return
			}
			if err := c.forward(ctx, u); err != nil {
				c.log.Debug("signal not processed",
					logger.String("instrument", u.Signal.Instrument),
					logger.Error(err))
			}
		}
	}
}

func (c *SignalCollector) forward(ctx context.Context, u models.SensorUpdate) error {
	if c.pipe != nil {
		return c.pipe.Process(ctx, u)
	}
	return c.proc.Process(ctx, u)
}

// Shutdown stops pipeline and closes stream.
func (c *SignalCollector) Shutdown(ctx context.Context) error {
	if c.pipe != nil {
		c.pipe.Stop()
	}
	return c.stream.Close()
}
