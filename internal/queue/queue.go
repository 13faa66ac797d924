// Package queue adapts the shared order_events Redis stream to the consumer
// pool: at-least-once receive via a consumer group, explicit acks, redelivery
// of stalled deliveries, and a dead-letter stream for terminal failures.
package queue

import (
	"context"
	"time"
)

// Message is one raw delivery off the queue. ID is the transport's delivery
// id and is what gets acked; Payload is the opaque event body.
type Message struct {
	ID      string
	Payload []byte
}

// DeadLetter is a terminally failed delivery preserved for inspection.
type DeadLetter struct {
	ID       string    `json:"id"`
	SourceID string    `json:"source_id"`
	Payload  string    `json:"payload"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// Source is the consumer-side queue contract. Receive blocks until a
// delivery arrives or ctx is done; deliveries not acked within the
// transport's visibility timeout come back through Receive again.
type Source interface {
	Receive(ctx context.Context) (*Message, error)
	Ack(ctx context.Context, id string) error
	Close() error
}

// DeadLetterSink routes a delivery to terminal storage. The caller still
// acks the original delivery afterwards; a failed sink write leaves the
// delivery unacked so the transport redelivers it.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, msg *Message, reason string) error
}

// DeadLetterReader lists dead-lettered deliveries, newest first.
type DeadLetterReader interface {
	DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error)
}
