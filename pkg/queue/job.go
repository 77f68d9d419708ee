package queue

import "context"

// Job handles every message of one Type. Payloads read back from Redis are
// json.RawMessage; use ParsePayload to decode them.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload interface{}) error
}
