package usecase

import (
	"context"
	"sync"
	"time"

	"RegimeDuel/internal/domain/models"
	drepo "RegimeDuel/internal/domain/repository"
	"RegimeDuel/pkg/logger"
)

// JournalQueue accepts closed trades for durable journaling.
type JournalQueue interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) error
}

type eventKind int

const (
	eventDecision eventKind = iota
	eventTrade
	eventCircuit
	eventSwap
)

type event struct {
	kind     eventKind
	decision models.Decision
	trade    models.ClosedTrade
	circuit  models.CircuitEvent
	swap     models.SwapEvent
}

// EventRecorder moves engine events off the decision path. Sends never block:
// when the buffer is full the event is dropped and counted.
type EventRecorder struct {
	pub     drepo.EventPublisher
	journal JournalQueue
	metrics drepo.Metrics
	log     *logger.Logger
	timeout time.Duration

	ch     chan event
	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// RecorderOption configures EventRecorder.
type RecorderOption func(*EventRecorder)

// WithJournal routes closed trades to a journal queue.
func WithJournal(q JournalQueue) RecorderOption {
	return func(r *EventRecorder) {
		r.journal = q
	}
}

// WithPublishTimeout bounds each downstream call.
func WithPublishTimeout(d time.Duration) RecorderOption {
	return func(r *EventRecorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewEventRecorder creates a recorder with the given buffer size. pub may be nil.
func NewEventRecorder(pub drepo.EventPublisher, metrics drepo.Metrics, log *logger.Logger, buffer int, opts ...RecorderOption) *EventRecorder {
	if buffer <= 0 {
		buffer = 1024
	}
	r := &EventRecorder{
		pub:     pub,
		metrics: metrics,
		log:     log,
		timeout: 5 * time.Second,
		ch:      make(chan event, buffer),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Decision implements EventSink.
func (r *EventRecorder) Decision(d models.Decision) {
	r.offer(event{kind: eventDecision, decision: d})
}

// Trade implements EventSink.
func (r *EventRecorder) Trade(t models.ClosedTrade) {
	r.offer(event{kind: eventTrade, trade: t})
}

// Circuit implements EventSink.
func (r *EventRecorder) Circuit(c models.CircuitEvent) {
	r.offer(event{kind: eventCircuit, circuit: c})
}

// Swap implements EventSink.
func (r *EventRecorder) Swap(s models.SwapEvent) {
	r.offer(event{kind: eventSwap, swap: s})
}

func (r *EventRecorder) offer(ev event) {
	select {
	case r.ch <- ev:
	default:
		r.metrics.RecordError("recorder_overflow")
	}
}

// Pending returns the number of buffered events.
func (r *EventRecorder) Pending() int { return len(r.ch) }

// Start launches the drain loop.
func (r *EventRecorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				r.drain(context.Background())
				return
			case <-r.stopCh:
				r.drain(ctx)
				return
			case ev := <-r.ch:
				r.dispatch(ctx, ev)
			}
		}
	}()
}

// Stop flushes what is buffered and waits for the drain loop to exit.
func (r *EventRecorder) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	close(r.stopCh)
	r.wg.Wait()
}

func (r *EventRecorder) drain(ctx context.Context) {
	for {
		select {
		case ev := <-r.ch:
			r.dispatch(ctx, ev)
		default:
			return
		}
	}
}

func (r *EventRecorder) dispatch(ctx context.Context, ev event) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if ev.kind == eventTrade && r.journal != nil {
		if err := r.journal.Enqueue(ctx, JournalMessageType, ev.trade); err != nil {
			r.metrics.RecordError("journal_enqueue")
			r.log.Warn("journal enqueue failed",
				logger.String("handle", ev.trade.Handle),
				logger.Error(err))
		}
	}
	if r.pub == nil {
		return
	}

	var err error
	switch ev.kind {
	case eventDecision:
		err = r.pub.PublishDecision(ctx, ev.decision)
	case eventTrade:
		err = r.pub.PublishTrade(ctx, ev.trade)
	case eventCircuit:
		err = r.pub.PublishCircuit(ctx, ev.circuit)
	case eventSwap:
		err = r.pub.PublishSwap(ctx, ev.swap)
	}
	if err != nil {
		r.metrics.RecordError("publish")
		r.log.Warn("event publish failed", logger.Error(err))
	}
}

var _ EventSink = (*EventRecorder)(nil)
