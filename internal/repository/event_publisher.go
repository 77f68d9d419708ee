package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"RegimeDuel/internal/domain/models"
	"RegimeDuel/internal/domain/repository"
)

// Envelope wraps every event on the events topic.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Event types on the events topic.
const (
	EventDecision = "decision"
	EventTrade    = "trade"
	EventCircuit  = "circuit"
	EventSwap     = "swap"
)

// EventProducer is satisfied by *kafka.Producer.
type EventProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaEventPublisher implements EventPublisher for Kafka. It also serves as
// the log collector's alert publisher.
type KafkaEventPublisher struct {
	producer EventProducer
	topic    string
}

// NewKafkaEventPublisher creates a Kafka event publisher.
func NewKafkaEventPublisher(producer EventProducer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) publish(ctx context.Context, key, typ string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", typ, err)
	}
	return p.producer.Publish(ctx, p.topic, []byte(key), Envelope{Type: typ, Data: data})
}

func (p *KafkaEventPublisher) PublishDecision(ctx context.Context, d models.Decision) error {
	return p.publish(ctx, d.Instrument, EventDecision, d)
}

func (p *KafkaEventPublisher) PublishTrade(ctx context.Context, t models.ClosedTrade) error {
	return p.publish(ctx, t.Instrument, EventTrade, t)
}

func (p *KafkaEventPublisher) PublishCircuit(ctx context.Context, e models.CircuitEvent) error {
	return p.publish(ctx, "circuit", EventCircuit, e)
}

func (p *KafkaEventPublisher) PublishSwap(ctx context.Context, e models.SwapEvent) error {
	return p.publish(ctx, e.Agent, EventSwap, e)
}

// PublishMessage sends a raw payload to any topic (logger.Publisher).
func (p *KafkaEventPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var _ repository.EventPublisher = (*KafkaEventPublisher)(nil)
