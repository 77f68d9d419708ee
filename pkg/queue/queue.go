package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// QueueConfig tunes workers and retry backoff.
type QueueConfig struct {
	Workers       int
	RetryLimit    int           // attempts after the first before dead-lettering
	RetryDelay    time.Duration // delay before the first retry
	MaxRetryDelay time.Duration // cap for the doubling delay
	PollInterval  time.Duration // how often due retries are moved back to the queue
}

// Message is the envelope stored in Redis.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Attempts  int         `json:"attempts"`
	Timestamp time.Time   `json:"timestamp"`
}

// ParsePayload converts a decoded payload back into T. Payloads read from
// Redis arrive as json.RawMessage; in-process payloads arrive as T or *T.
func ParsePayload[T any](payload interface{}) (*T, error) {
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		return decode[T](p)
	case []byte:
		return decode[T](p)
	case map[string]interface{}, []interface{}:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("re-encode payload: %w", err)
		}
		return decode[T](raw)
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}

func decode[T any](raw []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}
