package execution

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"RegimeDuel/internal/domain/models"
	"RegimeDuel/pkg/logger"
)

type quoteFeed struct {
	spec  models.InstrumentSpec
	calls int
}

func (f *quoteFeed) GetRegimeSignal(ctx context.Context, instrument string) (models.RegimeSignal, error) {
	return models.RegimeSignal{Instrument: instrument}, nil
}

func (f *quoteFeed) GetSpec(ctx context.Context, instrument string) (models.InstrumentSpec, error) {
	f.calls++
	return f.spec, nil
}

func (f *quoteFeed) GetATR(ctx context.Context, instrument string) (float64, error) {
	return 0.001, nil
}

type fill struct {
	handle string
	pnl    float64
	dur    float64
}

func TestPaperGatewayStopFill(t *testing.T) {
	feed := &quoteFeed{spec: models.InstrumentSpec{
		Instrument: "EURUSD", MinVolume: 0.01, MaxVolume: 10, VolumeStep: 0.01,
		TickSize: 0.0001, TickValue: 10, Bid: 1.1000, Ask: 1.1002,
	}}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g := NewPaperGateway(feed, logger.NewNop(), time.Hour)
	g.now = func() time.Time { return now }

	var fills []fill
	g.SetFillHandler(func(ctx context.Context, handle string, pnl, dur float64) error {
		fills = append(fills, fill{handle, pnl, dur})
		return nil
	})

	ctx := context.Background()
	h, err := g.OpenPosition(ctx, "EURUSD", models.DirectionLong, 1, 1.0990)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	g.Check(ctx)
	if len(fills) != 0 || g.Open() != 1 {
		t.Fatalf("position should still be open")
	}

	if err := g.UpdateStop(ctx, h, 1.0995); err != nil {
		t.Fatalf("update stop: %v", err)
	}
	if err := g.UpdateStop(ctx, "nope", 1); !errors.Is(err, models.ErrUnknownHandle) {
		t.Fatalf("expected unknown handle, got %v", err)
	}

	now = now.Add(10 * time.Minute)
	feed.spec.Bid, feed.spec.Ask = 1.0994, 1.0996
	g.Check(ctx)
	if len(fills) != 1 || fills[0].handle != h {
		t.Fatalf("expected one fill for %s, got %+v", h, fills)
	}
	// entry 1.1002, exit 1.0994: -8 ticks * 10 * 1 lot
	if math.Abs(fills[0].pnl+80) > 1e-6 {
		t.Fatalf("pnl=%v", fills[0].pnl)
	}
	if fills[0].dur != 10 {
		t.Fatalf("duration=%v", fills[0].dur)
	}
	if g.Open() != 0 {
		t.Fatalf("order should be removed")
	}
}

func TestPaperGatewayMaxHold(t *testing.T) {
	feed := &quoteFeed{spec: models.InstrumentSpec{
		Instrument: "EURUSD", MinVolume: 0.01, MaxVolume: 10, VolumeStep: 0.01,
		TickSize: 0.0001, TickValue: 10, Bid: 1.1000, Ask: 1.1002,
	}}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g := NewPaperGateway(feed, logger.NewNop(), 30*time.Minute)
	g.now = func() time.Time { return now }
	var n int
	g.SetFillHandler(func(ctx context.Context, handle string, pnl, dur float64) error {
		n++
		return nil
	})
	if _, err := g.OpenPosition(context.Background(), "EURUSD", models.DirectionShort, 0.5, 1.1050); err != nil {
		t.Fatalf("open: %v", err)
	}
	now = now.Add(31 * time.Minute)
	g.Check(context.Background())
	if n != 1 {
		t.Fatalf("expected timeout close, got %d fills", n)
	}
	if _, err := g.OpenPosition(context.Background(), "EURUSD", models.DirectionNone, 1, 1); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestPaperGatewayOpensAtGivenQuote(t *testing.T) {
	feed := &quoteFeed{}
	g := NewPaperGateway(feed, logger.NewNop(), time.Hour)
	spec := models.InstrumentSpec{
		Instrument: "ES", MinVolume: 1, MaxVolume: 10, VolumeStep: 1,
		TickSize: 0.25, TickValue: 12.5, Bid: 100, Ask: 100.5,
	}
	if _, err := g.OpenPositionAt(context.Background(), spec, models.DirectionLong, 1, 99); err != nil {
		t.Fatalf("open: %v", err)
	}
	if feed.calls != 0 || g.Open() != 1 {
		t.Fatalf("feed calls = %d, open = %d", feed.calls, g.Open())
	}
	spec.Instrument = ""
	if _, err := g.OpenPositionAt(context.Background(), spec, models.DirectionLong, 1, 99); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected invalid input without instrument, got %v", err)
	}
}

type recordingPublisher struct {
	topics []string
	keys   []string
	values []interface{}
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, string(key))
	p.values = append(p.values, value)
	return nil
}

func TestKafkaGatewayPublishesOrders(t *testing.T) {
	pub := &recordingPublisher{}
	g := NewKafkaGateway(pub, "orders")
	ctx := context.Background()

	h, err := g.OpenPosition(ctx, "EURUSD", models.DirectionShort, 0.3, 1.1050)
	if err != nil || h == "" {
		t.Fatalf("open: %q %v", h, err)
	}
	if err := g.UpdateStop(ctx, h, 1.1040); err != nil {
		t.Fatalf("update stop: %v", err)
	}
	if len(pub.values) != 2 || pub.topics[0] != "orders" {
		t.Fatalf("unexpected publishes %+v", pub)
	}
	open := pub.values[0].(models.OrderRequest)
	if open.Type != models.OrderOpen || open.Handle != h || open.Direction != "short" || open.Size != 0.3 {
		t.Fatalf("unexpected open request %+v", open)
	}
	upd := pub.values[1].(models.OrderRequest)
	if upd.Type != models.OrderUpdateStop || upd.Stop != 1.1040 {
		t.Fatalf("unexpected stop request %+v", upd)
	}
	if pub.keys[0] != h || pub.keys[1] != h {
		t.Fatalf("orders for one position must share a key, got %v", pub.keys)
	}
}
