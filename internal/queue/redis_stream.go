package queue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jeff-vincent/inventory-service/internal/config"
	"go.uber.org/zap"
)

const payloadField = "data"

// StreamSource consumes the order_events stream through a Redis consumer
// group. Entries read but not acked stay in the group's pending list;
// claimStalled moves them back into circulation once idle past the
// visibility timeout, which is what gives redelivery-on-missing-ack.
type StreamSource struct {
	rdb        *redis.Client
	stream     string
	group      string
	consumer   string
	dlStream   string
	visibility time.Duration
	log        *zap.SugaredLogger

	claimMu    sync.Mutex
	claimStart string
}

// NewStreamSource constructs the source. consumer should be unique per
// process instance so the group can attribute pending entries.
func NewStreamSource(rdb *redis.Client, cfg config.QueueConfig, consumer string, log *zap.SugaredLogger) *StreamSource {
	return &StreamSource{
		rdb:        rdb,
		stream:     cfg.Stream,
		group:      cfg.Group,
		consumer:   consumer,
		dlStream:   cfg.DeadLetterStream,
		visibility: cfg.VisibilityTimeout,
		log:        log,
		claimStart: "0-0",
	}
}

// Init creates the consumer group, tolerating one that already exists.
func (s *StreamSource) Init(ctx context.Context) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Receive returns the next delivery: a stalled pending entry if one is due
// for redelivery, otherwise the next new entry. Blocks until something
// arrives or ctx is done. Safe for concurrent use by multiple workers.
func (s *StreamSource) Receive(ctx context.Context) (*Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := s.claimStalled(ctx)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}

		res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.stream, ">"},
			Count:    1,
			Block:    time.Second,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		for _, stream := range res {
			for _, entry := range stream.Messages {
				return toMessage(entry), nil
			}
		}
	}
}

// claimStalled scans the pending list for entries idle past the visibility
// timeout and claims the first one for this consumer.
func (s *StreamSource) claimStalled(ctx context.Context) (*Message, error) {
	s.claimMu.Lock()
	start := s.claimStart
	s.claimMu.Unlock()

	msgs, next, err := s.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.stream,
		Group:    s.group,
		Consumer: s.consumer,
		MinIdle:  s.visibility,
		Start:    start,
		Count:    1,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	s.claimMu.Lock()
	s.claimStart = next
	s.claimMu.Unlock()

	if len(msgs) == 0 {
		return nil, nil
	}
	return toMessage(msgs[0]), nil
}

// Ack removes the delivery from the group's pending list.
func (s *StreamSource) Ack(ctx context.Context, id string) error {
	return s.rdb.XAck(ctx, s.stream, s.group, id).Err()
}

// DeadLetter appends the delivery to the dead-letter stream with its failure
// reason. The original entry is acked by the caller only after this write
// succeeds.
func (s *StreamSource) DeadLetter(ctx context.Context, msg *Message, reason string) error {
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.dlStream,
		Values: map[string]interface{}{
			"source_id": msg.ID,
			payloadField: string(msg.Payload),
			"reason":    reason,
			"failed_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

// DeadLetters reads the dead-letter stream, newest first.
func (s *StreamSource) DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error) {
	entries, err := s.rdb.XRevRangeN(ctx, s.dlStream, "+", "-", limit).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(entries))
	for _, e := range entries {
		dl := DeadLetter{ID: e.ID}
		if v, ok := e.Values["source_id"].(string); ok {
			dl.SourceID = v
		}
		if v, ok := e.Values[payloadField].(string); ok {
			dl.Payload = v
		}
		if v, ok := e.Values["reason"].(string); ok {
			dl.Reason = v
		}
		if v, ok := e.Values["failed_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				dl.FailedAt = t
			}
		}
		out = append(out, dl)
	}
	return out, nil
}

func (s *StreamSource) Close() error { return nil }

func toMessage(entry redis.XMessage) *Message {
	msg := &Message{ID: entry.ID}
	if v, ok := entry.Values[payloadField].(string); ok {
		msg.Payload = []byte(v)
	}
	return msg
}
