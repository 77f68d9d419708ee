package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"RegimeDuel/internal/domain/models"
	drepo "RegimeDuel/internal/domain/repository"
	"RegimeDuel/pkg/logger"
)

// FillFunc receives simulated or broker fills for live positions.
type FillFunc func(ctx context.Context, handle string, netPnL, durationMinutes float64) error

type paperOrder struct {
	handle     string
	instrument string
	dir        models.Direction
	size       float64
	entry      float64
	stop       float64
	tickSize   float64
	tickValue  float64
	opened     time.Time
}

// PaperGateway simulates execution against the feed's quotes. Orders never
// leave the process; stops and a maximum holding time close them.
type PaperGateway struct {
	feed    drepo.MarketDataFeed
	log     *logger.Logger
	maxHold time.Duration
	now     func() time.Time

	mu     sync.Mutex
	orders map[string]*paperOrder
	onFill FillFunc
}

func NewPaperGateway(feed drepo.MarketDataFeed, log *logger.Logger, maxHold time.Duration) *PaperGateway {
	return &PaperGateway{
		feed:    feed,
		log:     log,
		maxHold: maxHold,
		now:     time.Now,
		orders:  make(map[string]*paperOrder),
	}
}

// SetFillHandler wires where simulated closes are reported.
func (p *PaperGateway) SetFillHandler(fn FillFunc) {
	p.mu.Lock()
	p.onFill = fn
	p.mu.Unlock()
}

// OpenPosition fills at the feed's current ask (long) or bid (short).
func (p *PaperGateway) OpenPosition(ctx context.Context, instrument string, dir models.Direction, size, stop float64) (string, error) {
	if dir == models.DirectionNone || size <= 0 {
		return "", fmt.Errorf("paper open %s dir=%s size=%v: %w", instrument, dir, size, models.ErrInvalidInput)
	}
	spec, err := p.feed.GetSpec(ctx, instrument)
	if err != nil {
		return "", fmt.Errorf("paper open %s: %w", instrument, err)
	}
	if spec.Instrument == "" {
		spec.Instrument = instrument
	}
	return p.OpenPositionAt(ctx, spec, dir, size, stop)
}

// OpenPositionAt fills against the given quote without touching the feed.
func (p *PaperGateway) OpenPositionAt(_ context.Context, spec models.InstrumentSpec, dir models.Direction, size, stop float64) (string, error) {
	if dir == models.DirectionNone || size <= 0 || spec.Instrument == "" {
		return "", fmt.Errorf("paper open %s dir=%s size=%v: %w", spec.Instrument, dir, size, models.ErrInvalidInput)
	}
	entry := spec.Ask
	if dir == models.DirectionShort {
		entry = spec.Bid
	}
	o := &paperOrder{
		handle:     "paper-" + uuid.NewString(),
		instrument: spec.Instrument,
		dir:        dir,
		size:       size,
		entry:      entry,
		stop:       stop,
		tickSize:   spec.TickSize,
		tickValue:  spec.TickValue,
		opened:     p.now(),
	}
	p.mu.Lock()
	p.orders[o.handle] = o
	p.mu.Unlock()
	return o.handle, nil
}

func (p *PaperGateway) UpdateStop(ctx context.Context, handle string, stop float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[handle]
	if !ok {
		return fmt.Errorf("paper stop %s: %w", handle, models.ErrUnknownHandle)
	}
	o.stop = stop
	return nil
}

// Open returns the number of simulated open positions.
func (p *PaperGateway) Open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

type paperFill struct {
	handle string
	pnl    float64
	dur    float64
}

// Check closes every order whose stop was crossed or whose holding time ran
// out and reports the fills.
func (p *PaperGateway) Check(ctx context.Context) {
	now := p.now()
	p.mu.Lock()
	orders := make([]*paperOrder, 0, len(p.orders))
	for _, o := range p.orders {
		orders = append(orders, o)
	}
	onFill := p.onFill
	p.mu.Unlock()

	var fills []paperFill
	for _, o := range orders {
		spec, err := p.feed.GetSpec(ctx, o.instrument)
		if err != nil {
			continue
		}
		exit := spec.Bid
		if o.dir == models.DirectionShort {
			exit = spec.Ask
		}
		move := (exit - o.entry) * float64(o.dir)
		stopped := (exit-o.stop)*float64(o.dir) <= 0
		expired := p.maxHold > 0 && now.Sub(o.opened) >= p.maxHold
		if !stopped && !expired {
			continue
		}
		p.mu.Lock()
		if _, ok := p.orders[o.handle]; !ok {
			p.mu.Unlock()
			continue
		}
		delete(p.orders, o.handle)
		p.mu.Unlock()
		pnl := 0.0
		if o.tickSize > 0 {
			pnl = move / o.tickSize * o.tickValue * o.size
		}
		fills = append(fills, paperFill{handle: o.handle, pnl: pnl, dur: now.Sub(o.opened).Minutes()})
	}

	if onFill == nil {
		return
	}
	for _, f := range fills {
		if err := onFill(ctx, f.handle, f.pnl, f.dur); err != nil {
			p.log.Warn("paper fill rejected", logger.String("handle", f.handle), logger.Error(err))
		}
	}
}

// Run checks open orders on every interval until ctx ends.
func (p *PaperGateway) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Check(ctx)
		}
	}
}

var _ drepo.ExecutionGateway = (*PaperGateway)(nil)
