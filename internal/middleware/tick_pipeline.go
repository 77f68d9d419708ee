package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"RegimeDuel/internal/domain/models"
	domrepo "RegimeDuel/internal/domain/repository"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, u models.SensorUpdate) error
}

type buffered struct {
	u  models.SensorUpdate
	at time.Time
}

// TickPipeline sits between the signal stream and the engine. It validates,
// throttles per instrument and buffers updates while downstream is failing.
type TickPipeline struct {
	proc       Proc
	metrics    domrepo.Metrics
	maxRPS     int
	bufSize    int
	staleAfter time.Duration
	bufCh      chan buffered
	stopCh     chan struct{}
	started    bool
	mu         sync.Mutex
	lastSeen   map[string]time.Time // per-instrument last accepted time
	now        func() time.Time
}

type PipelineOption func(*TickPipeline)

// WithMaxRPS sets the max updates per second per instrument.
func WithMaxRPS(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the temporary buffer size when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithStaleAfter drops buffered updates older than d instead of replaying them.
func WithStaleAfter(d time.Duration) PipelineOption {
	return func(p *TickPipeline) {
		if d > 0 {
			p.staleAfter = d
		}
	}
}

// NewTickPipeline creates a new pipeline.
func NewTickPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *TickPipeline {
	p := &TickPipeline{
		proc:       proc,
		metrics:    metrics,
		maxRPS:     10,
		bufSize:    256,
		staleAfter: 5 * time.Second,
		lastSeen:   make(map[string]time.Time),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan buffered, p.bufSize)
	return p
}

// Start launches background flushing of buffered updates.
func (p *TickPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	stop := p.stopCh
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case b := <-p.bufCh:
				if p.now().Sub(b.at) > p.staleAfter {
					p.metrics.RecordError("pipeline_stale_drop")
					continue
				}
				if err := p.proc.Process(ctx, b.u); err != nil {
					// exponential backoff with cap
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					time.Sleep(backoff)
					// requeue if space; drop otherwise
					select {
					case p.bufCh <- b:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *TickPipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stopCh)
}

// Buffered returns the number of updates waiting for replay.
func (p *TickPipeline) Buffered() int { return len(p.bufCh) }

// Process validates, throttles and forwards an update, buffering on downstream errors.
// Invalid updates are rejected and never buffered.
func (p *TickPipeline) Process(ctx context.Context, u models.SensorUpdate) error {
	start := p.now()
	if err := validateUpdate(u); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !p.allow(u.Signal.Instrument, start) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.proc.Process(ctx, u); err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			p.metrics.RecordError("pipeline_rejected")
			return err
		}
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- buffered{u: u, at: start}:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", p.now().Sub(start).Seconds())
	return nil
}

func validateUpdate(u models.SensorUpdate) error {
	if u.Signal.Instrument == "" {
		return fmt.Errorf("instrument empty: %w", models.ErrInvalidInput)
	}
	if !u.Signal.Valid() {
		return fmt.Errorf("%s: non-finite kinematics: %w", u.Signal.Instrument, models.ErrInvalidInput)
	}
	if u.Spec != nil && !u.Spec.Valid() {
		return fmt.Errorf("%s: invalid spec: %w", u.Signal.Instrument, models.ErrInvalidInput)
	}
	if u.ATR < 0 {
		return fmt.Errorf("%s: negative atr: %w", u.Signal.Instrument, models.ErrInvalidInput)
	}
	return nil
}

func (p *TickPipeline) allow(instrument string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[instrument]
	if !last.IsZero() && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[instrument] = now
	return true
}
