// Package engine computes stock adjustments. It is pure: Apply never touches
// storage, it only maps (event, current record) to a new record and a status.
package engine

import (
	"github.com/jeff-vincent/inventory-service/internal/event"
	"github.com/jeff-vincent/inventory-service/internal/model"
)

// Status is the outcome of applying one event to one stock record.
type Status string

const (
	// StatusApplied means the record changed and must be persisted.
	StatusApplied Status = "APPLIED"
	// StatusAlreadyCurrent means the event's sequence number is at or behind
	// the record's last applied sequence; a stale or in-order duplicate,
	// treated as a no-op success.
	StatusAlreadyCurrent Status = "ALREADY_CURRENT"
	// StatusInsufficientStock means the adjustment would drive a quantity
	// negative. Terminal business rejection, never retried.
	StatusInsufficientStock Status = "INSUFFICIENT_STOCK"
)

// AdjustmentResult carries the post-adjustment record. Record equals the
// input record unless Status is StatusApplied.
type AdjustmentResult struct {
	Record model.StockRecord
	Status Status
}

// Apply computes the signed quantity movement for evt against current.
//
// RESERVE moves quantity from available to reserved, RELEASE and CANCEL move
// it back, CONFIRM removes it from reserved permanently. The version token is
// untouched here; the repo's conditioned write advances it.
func Apply(evt *event.OrderEvent, current model.StockRecord) AdjustmentResult {
	if evt.SequenceNo <= current.LastAppliedSequence {
		return AdjustmentResult{Record: current, Status: StatusAlreadyCurrent}
	}

	next := current
	d := evt.QuantityDelta
	switch evt.EventType {
	case event.TypeReserve:
		next.AvailableQuantity -= d
		next.ReservedQuantity += d
	case event.TypeRelease, event.TypeCancel:
		next.AvailableQuantity += d
		next.ReservedQuantity -= d
	case event.TypeConfirm:
		next.ReservedQuantity -= d
	}

	if next.AvailableQuantity < 0 || next.ReservedQuantity < 0 {
		return AdjustmentResult{Record: current, Status: StatusInsufficientStock}
	}

	next.LastAppliedSequence = evt.SequenceNo
	return AdjustmentResult{Record: next, Status: StatusApplied}
}
