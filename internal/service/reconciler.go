package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jeff-vincent/inventory-service/internal/engine"
	"github.com/jeff-vincent/inventory-service/internal/event"
	"github.com/jeff-vincent/inventory-service/internal/model"
	"github.com/jeff-vincent/inventory-service/internal/queue"
	"github.com/jeff-vincent/inventory-service/internal/repo"
	"github.com/jeff-vincent/inventory-service/internal/sequencer"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Outcome is the terminal disposition of one event. Any Outcome means the
// event is durably handled and must be acked; errors mean it is not and the
// supervisor decides between retry and dead-letter.
type Outcome string

const (
	// OutcomeApplied: the stock record changed and the change is committed.
	OutcomeApplied Outcome = "APPLIED"
	// OutcomeDuplicate: the event id already has a dedup entry; redelivery.
	OutcomeDuplicate Outcome = "DUPLICATE"
	// OutcomeAlreadyCurrent: sequence number at or behind the record; stale.
	OutcomeAlreadyCurrent Outcome = "ALREADY_CURRENT"
	// OutcomeRejected: the adjustment would violate non-negativity. The
	// rejection itself is durably recorded so redelivery cannot retry it.
	OutcomeRejected Outcome = "REJECTED"
)

// ErrLockTimeout wraps per-SKU lock acquisition expiry; transient.
var ErrLockTimeout = errors.New("sku lock acquisition timed out")

// ErrStoreDegraded means the service is running without a usable store
// connection and cannot answer stock operations.
var ErrStoreDegraded = errors.New("inventory store not configured")

// ErrRestockAmount means a non-positive restock quantity was requested.
var ErrRestockAmount = errors.New("restock quantity must be positive")

// ReconcilerService drives one event through the sequencer gate, the dedup
// check, the adjustment engine and the store gateway's transactional commit.
type ReconcilerService struct {
	repo        repo.RepositoryInterface
	locks       *sequencer.KeyedLock
	lockTimeout time.Duration
	dlq         queue.DeadLetterReader
	log         *zap.SugaredLogger
}

// NewReconcilerService returns ReconcilerService. dlq may be nil when the
// queue is not configured (degraded mode still serves stock queries).
func NewReconcilerService(r repo.RepositoryInterface, locks *sequencer.KeyedLock, lockTimeout time.Duration, dlq queue.DeadLetterReader, logger *zap.SugaredLogger) *ReconcilerService {
	return &ReconcilerService{repo: r, locks: locks, lockTimeout: lockTimeout, dlq: dlq, log: logger}
}

// ProcessEvent applies evt exactly once, effective. The per-SKU lock is held
// only across the store transaction, never across queue calls, and events
// for distinct SKUs run fully in parallel.
func (s *ReconcilerService) ProcessEvent(ctx context.Context, evt *event.OrderEvent) (Outcome, error) {
	if s.repo == nil {
		return "", ErrStoreDegraded
	}
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	release, err := s.locks.Acquire(lockCtx, evt.SKU)
	if err != nil {
		return "", fmt.Errorf("%w: sku %s: %v", ErrLockTimeout, evt.SKU, err)
	}
	defer release()

	var out Outcome
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		dup, err := s.repo.GetDedup(ctx, tx, evt.EventID)
		if err != nil {
			return err
		}
		if dup != nil {
			out = OutcomeDuplicate
			return nil
		}

		rec, err := s.repo.GetStockForUpdate(ctx, tx, evt.SKU)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			rec = &model.StockRecord{SKU: evt.SKU, LastAppliedSequence: -1}
			if err := s.repo.CreateStock(ctx, tx, rec); err != nil {
				return err
			}
		}

		res := engine.Apply(evt, *rec)
		switch res.Status {
		case engine.StatusAlreadyCurrent:
			out = OutcomeAlreadyCurrent
			return s.repo.CreateDedup(ctx, tx, &model.DedupEntry{
				EventID: evt.EventID, SKU: evt.SKU, Outcome: model.OutcomeApplied,
			})
		case engine.StatusInsufficientStock:
			out = OutcomeRejected
			return s.repo.CreateDedup(ctx, tx, &model.DedupEntry{
				EventID: evt.EventID, SKU: evt.SKU, Outcome: model.OutcomeRejected,
			})
		}

		if err := s.repo.UpdateStock(ctx, tx, res.Record, rec.Version); err != nil {
			return err
		}
		if err := s.repo.CreateDedup(ctx, tx, &model.DedupEntry{
			EventID: evt.EventID, SKU: evt.SKU, Outcome: model.OutcomeApplied,
		}); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"sku":       evt.SKU,
			"event_id":  evt.EventID,
			"order_id":  evt.OrderID,
			"type":      evt.EventType,
			"available": res.Record.AvailableQuantity,
			"reserved":  res.Record.ReservedQuantity,
		})
		if err := s.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
			Aggregate: "Stock", AggregateID: evt.SKU, EventType: "StockAdjusted", Payload: string(payload),
		}); err != nil {
			return err
		}
		out = OutcomeApplied
		return nil
	})
	if err != nil {
		return "", err
	}
	if out == OutcomeRejected {
		s.log.Warnw("stock adjustment rejected",
			"sku", evt.SKU, "event_id", evt.EventID, "order_id", evt.OrderID,
			"type", evt.EventType, "quantity_delta", evt.QuantityDelta)
	}
	return out, nil
}

// Restock adds qty units of available stock, creating the record if absent.
// Administrative writes go through the same conditioned-write path as event
// applications, so the version token stays honest.
func (s *ReconcilerService) Restock(ctx context.Context, sku string, qty int64) (*model.StockRecord, error) {
	if qty <= 0 {
		return nil, ErrRestockAmount
	}
	if s.repo == nil {
		return nil, ErrStoreDegraded
	}
	release, err := s.locks.Acquire(ctx, sku)
	if err != nil {
		return nil, err
	}
	defer release()

	var updated model.StockRecord
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := s.repo.GetStockForUpdate(ctx, tx, sku)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			rec = &model.StockRecord{SKU: sku, LastAppliedSequence: -1}
			if err := s.repo.CreateStock(ctx, tx, rec); err != nil {
				return err
			}
		}
		updated = *rec
		updated.AvailableQuantity += qty
		if err := s.repo.UpdateStock(ctx, tx, updated, rec.Version); err != nil {
			return err
		}
		updated.Version = rec.Version + 1
		payload, _ := json.Marshal(map[string]interface{}{
			"sku": sku, "added": qty, "available": updated.AvailableQuantity,
		})
		return s.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
			Aggregate: "Stock", AggregateID: sku, EventType: "StockRestocked", Payload: string(payload),
		})
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// GetStock returns the current stock record for a SKU.
func (s *ReconcilerService) GetStock(ctx context.Context, sku string) (*model.StockRecord, error) {
	if s.repo == nil {
		return nil, ErrStoreDegraded
	}
	return s.repo.GetStock(ctx, sku)
}

// DeadLetters lists terminally failed deliveries, newest first.
func (s *ReconcilerService) DeadLetters(ctx context.Context, limit int64) ([]queue.DeadLetter, error) {
	if s.dlq == nil {
		return nil, errors.New("dead-letter queue not configured")
	}
	return s.dlq.DeadLetters(ctx, limit)
}

// Repo exposes underlying repository (unit tests helper).
func (s *ReconcilerService) Repo() repo.RepositoryInterface {
	return s.repo
}
