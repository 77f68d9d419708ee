package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"RegimeDuel/internal/domain/models"
	drepo "RegimeDuel/internal/domain/repository"
)

// Publisher is the subset of the Kafka producer the gateway needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaGateway sends order requests to a broker bridge over Kafka. Handles are
// assigned here so the bridge can report fills against them.
type KafkaGateway struct {
	pub   Publisher
	topic string
	now   func() time.Time
}

func NewKafkaGateway(pub Publisher, topic string) *KafkaGateway {
	return &KafkaGateway{pub: pub, topic: topic, now: time.Now}
}

func (g *KafkaGateway) OpenPosition(ctx context.Context, instrument string, dir models.Direction, size, stop float64) (string, error) {
	if dir == models.DirectionNone || size <= 0 {
		return "", fmt.Errorf("open %s dir=%s size=%v: %w", instrument, dir, size, models.ErrInvalidInput)
	}
	handle := uuid.NewString()
	req := models.OrderRequest{
		Type:       models.OrderOpen,
		Handle:     handle,
		Instrument: instrument,
		Direction:  dir.String(),
		Size:       size,
		Stop:       stop,
		Timestamp:  g.now().UTC(),
	}
	if err := g.pub.Publish(ctx, g.topic, []byte(handle), req); err != nil {
		return "", fmt.Errorf("publish open %s: %w", instrument, err)
	}
	return handle, nil
}

func (g *KafkaGateway) UpdateStop(ctx context.Context, handle string, stop float64) error {
	req := models.OrderRequest{
		Type:      models.OrderUpdateStop,
		Handle:    handle,
		Stop:      stop,
		Timestamp: g.now().UTC(),
	}
	if err := g.pub.Publish(ctx, g.topic, []byte(handle), req); err != nil {
		return fmt.Errorf("publish stop %s: %w", handle, err)
	}
	return nil
}

var _ drepo.ExecutionGateway = (*KafkaGateway)(nil)
