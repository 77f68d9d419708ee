package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestAutoOffsetReset(t *testing.T) {
	cfg := &ConsumerConfig{AutoOffsetReset: "earliest"}
	WithConsumerAutoOffsetReset("latest")(cfg)
	if cfg.AutoOffsetReset != "latest" || startOffset(cfg.AutoOffsetReset) != kafka.LastOffset {
		t.Fatalf("latest not applied: %+v", cfg)
	}
	if startOffset("earliest") != kafka.FirstOffset || startOffset("") != kafka.FirstOffset {
		t.Fatalf("anything but latest starts at the first offset")
	}
}
