package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"RegimeDuel/internal/domain/models"
	drepo "RegimeDuel/internal/domain/repository"
	"RegimeDuel/pkg/logger"
)

// Stream implements SignalStream over the sensor's WebSocket endpoint.
type Stream struct {
	url            string
	token          string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger
	now            func() time.Time

	mu          sync.Mutex
	conn        *websocket.Conn
	connected   bool
	instruments []string
}

// New creates a sensor stream. token is sent as a bearer header when set.
func New(url, token string, reconnectDelay, pingInterval time.Duration, log *logger.Logger) *Stream {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Stream{
		url:            url,
		token:          token,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
		now:            time.Now,
	}
}

// Connect establishes the WebSocket connection.
func (s *Stream) Connect(ctx context.Context) error {
	hdr := http.Header{}
	if s.token != "" {
		hdr.Set("Authorization", "Bearer "+s.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, hdr)
	if err != nil {
		return fmt.Errorf("sensor connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	s.log.Info("sensor stream connected", logger.String("url", s.url))
	return nil
}

type subscribeMessage struct {
	Type       string `json:"type"`
	Instrument string `json:"instrument"`
}

// Subscribe asks the sensor for the given instruments. The list is kept for reconnects.
func (s *Stream) Subscribe(ctx context.Context, instruments []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || !s.connected {
		return fmt.Errorf("sensor not connected")
	}
	for _, inst := range instruments {
		if err := s.conn.WriteJSON(subscribeMessage{Type: "subscribe", Instrument: inst}); err != nil {
			return fmt.Errorf("subscribe %s: %w", inst, err)
		}
	}
	s.instruments = append([]string(nil), instruments...)
	s.log.Info("sensor stream subscribed", logger.Int("instruments", len(instruments)))
	return nil
}

// frame is a sensor push: either a single update or a batch.
type frame struct {
	Type string                 `json:"type"`
	Data []models.SignalMessage `json:"data"`
}

// Read streams decoded updates and the first read error.
func (s *Stream) Read(ctx context.Context) (<-chan models.SensorUpdate, <-chan error) {
	updates := make(chan models.SensorUpdate, 1024)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				if s.conn != nil {
					_ = s.conn.WriteMessage(websocket.PingMessage, nil)
				}
				s.mu.Unlock()
			}
		}
	}()

	// read loop
	go func() {
		defer close(updates)
		defer close(errs)
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			errs <- fmt.Errorf("sensor conn nil")
			return
		}
		for {
			if ctx.Err() != nil {
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				errs <- fmt.Errorf("sensor read: %w", err)
				return
			}
			for _, u := range s.decode(b) {
				select {
				case updates <- u:
				default:
					// drop on backpressure
				}
			}
		}
	}()

	return updates, errs
}

// decode accepts {"type":"signal","data":[...]} batches. Other frames are ignored.
func (s *Stream) decode(b []byte) []models.SensorUpdate {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil || f.Type != "signal" {
		return nil
	}
	out := make([]models.SensorUpdate, 0, len(f.Data))
	now := s.now()
	for _, m := range f.Data {
		u, err := m.Update(now)
		if err != nil {
			s.log.Debug("sensor frame skipped", logger.Error(err))
			continue
		}
		out = append(out, u)
	}
	return out
}

// Reconnect closes, waits and reconnects with the previous subscription.
func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.reconnectDelay):
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	instruments := s.instruments
	s.mu.Unlock()
	return s.Subscribe(ctx, instruments)
}

// Close closes the WS connection.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// IsConnected indicates status.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

var _ drepo.SignalStream = (*Stream)(nil)
