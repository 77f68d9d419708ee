package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"RegimeDuel/internal/domain/models"
	domrepo "RegimeDuel/internal/domain/repository"
	mid "RegimeDuel/internal/middleware"
	pkgkafka "RegimeDuel/pkg/kafka"
	"RegimeDuel/pkg/logger"
)

// KafkaSignalsHandler consumes sensor messages from Kafka and feeds the pipeline.
type KafkaSignalsHandler struct {
	topic   string
	proc    mid.Proc
	metrics domrepo.Metrics
	clock   func() time.Time
}

func NewKafkaSignalsHandler(topic string, proc mid.Proc, metrics domrepo.Metrics) *KafkaSignalsHandler {
	return &KafkaSignalsHandler{topic: topic, proc: proc, metrics: metrics, clock: time.Now}
}

func (h *KafkaSignalsHandler) Topic() string { return h.topic }

// Handle decodes a SignalMessage. Malformed or invalid messages are dropped
// so the consumer commits past them.
func (h *KafkaSignalsHandler) Handle(ctx context.Context, b []byte) error {
	var m models.SignalMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return nil
	}
	now := h.clock()
	u, err := m.Update(now)
	if err != nil {
		h.metrics.RecordError("consumer_invalid")
		return nil
	}
	h.metrics.RecordLatency("ingest_e2e", now.Sub(u.Signal.Timestamp).Seconds())

	start := time.Now()
	err = h.proc.Process(ctx, u)
	h.metrics.RecordLatency("signal_process", time.Since(start).Seconds())
	if err != nil && !errors.Is(err, models.ErrInvalidInput) {
		h.metrics.RecordError("consumer_process")
		return err
	}
	return nil
}

// FillHandler is the engine entry point for broker closes.
type FillHandler interface {
	OnPositionClosed(ctx context.Context, handle string, netPnL, durationMinutes float64) error
}

// KafkaFillsHandler consumes broker fills and reports them to the engine.
type KafkaFillsHandler struct {
	topic   string
	engine  FillHandler
	metrics domrepo.Metrics
	log     *logger.Logger
}

func NewKafkaFillsHandler(topic string, engine FillHandler, metrics domrepo.Metrics, log *logger.Logger) *KafkaFillsHandler {
	return &KafkaFillsHandler{topic: topic, engine: engine, metrics: metrics, log: log}
}

func (h *KafkaFillsHandler) Topic() string { return h.topic }

// Handle reports one fill. Unknown handles are logged and skipped since the
// bridge may replay fills from before the last restart.
func (h *KafkaFillsHandler) Handle(ctx context.Context, b []byte) error {
	var f models.Fill
	if err := json.Unmarshal(b, &f); err != nil {
		h.metrics.RecordError("fill_unmarshal")
		return nil
	}
	err := h.engine.OnPositionClosed(ctx, f.Handle, f.NetPnL, f.DurationMinutes)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrUnknownHandle), errors.Is(err, models.ErrInvalidInput):
		h.metrics.RecordError("fill_rejected")
		h.log.Warn("fill rejected", logger.String("handle", f.Handle), logger.Error(err))
		return nil
	default:
		h.metrics.RecordError("fill_process")
		return err
	}
}

var (
	_ pkgkafka.MessageHandler = (*KafkaSignalsHandler)(nil)
	_ pkgkafka.MessageHandler = (*KafkaFillsHandler)(nil)
)
