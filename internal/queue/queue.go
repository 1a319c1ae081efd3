// Package queue implements durable, delayed, at-least-once work queues on Redis.
//
// A message is claimed under a lease. If the consumer does not Ack before the lease
// expires the message becomes claimable again; after MaxDeliveries claims it is moved
// to a dead-letter list instead of being handed out.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrEmpty        = errors.New("queue empty")
	ErrDeadLettered = errors.New("message exceeded max deliveries")
)

// Message is one claimed unit of work.
type Message struct {
	ID       string
	Payload  json.RawMessage
	Delivery int

	member string
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// Producer publishes work. A positive delay keeps the message invisible until it elapses.
type Producer interface {
	Enqueue(ctx context.Context, payload any, delay time.Duration) error
}

// Queue is the consumer-side view of a named queue.
type Queue interface {
	Producer
	Name() string
	Claim(ctx context.Context) (*Message, error)
	Ack(ctx context.Context, msg *Message) error
}

// envelope is the stored form of a message.
type envelope struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}
