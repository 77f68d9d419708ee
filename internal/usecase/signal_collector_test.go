package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"RegimeDuel/internal/domain/models"
	"RegimeDuel/internal/service/feed"
	"RegimeDuel/pkg/logger"
)

type fakeStream struct {
	mu         sync.Mutex
	updates    chan models.SensorUpdate
	errs       chan error
	subscribed []string
	reconnects int
	closed     bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{updates: make(chan models.SensorUpdate, 4), errs: make(chan error, 1)}
}

func (s *fakeStream) Connect(context.Context) error { return nil }

func (s *fakeStream) Subscribe(_ context.Context, instruments []string) error {
	s.mu.Lock()
	s.subscribed = instruments
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Read(context.Context) (<-chan models.SensorUpdate, <-chan error) {
	return s.updates, s.errs
}

func (s *fakeStream) Reconnect(context.Context) error {
	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) IsConnected() bool { return true }

func (s *fakeStream) reconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSignalCollectorForwardsAndReconnects(t *testing.T) {
	stream := newFakeStream()
	proc := &captureProc{}
	c := NewSignalCollector(stream, proc, nil, []string{"ES", "NQ"}, newCountingMetrics(), logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(stream.subscribed) != 2 {
		t.Fatalf("subscribed = %v", stream.subscribed)
	}

	stream.updates <- models.SensorUpdate{Signal: breakoutSignal}
	waitFor(t, func() bool { return proc.count() == 1 })

	stream.errs <- errors.New("read: connection reset")
	waitFor(t, func() bool { return stream.reconnectCount() == 1 })

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !stream.closed {
		t.Fatalf("stream not closed")
	}
}

func TestSignalProcessorFeedsEngine(t *testing.T) {
	te := newTestEngine(t, nil)
	latest := feed.NewLatestFeed(nil)
	te.feed = latest
	p := NewSignalProcessor(latest, te.DecisionEngine)

	spec := openSpec
	if err := p.Process(context.Background(), models.SensorUpdate{Signal: breakoutSignal, Spec: &spec, ATR: 2}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if te.Status().OpenShadow != 2 {
		t.Fatalf("pushed update did not reach the engine")
	}

	err := p.Process(context.Background(), models.SensorUpdate{})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("empty update err = %v", err)
	}
}
