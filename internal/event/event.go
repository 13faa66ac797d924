package event

import "time"

// Type is the order lifecycle event kind.
type Type string

const (
	TypeReserve Type = "RESERVE"
	TypeRelease Type = "RELEASE"
	TypeConfirm Type = "CONFIRM"
	TypeCancel  Type = "CANCEL"
)

func (t Type) Valid() bool {
	switch t {
	case TypeReserve, TypeRelease, TypeConfirm, TypeCancel:
		return true
	}
	return false
}

// OrderEvent is one order lifecycle event as produced by the orders service
// onto the shared order_events stream. Immutable once produced. EventID is
// globally unique; SequenceNo is monotonic per SKU, assigned by the producer.
type OrderEvent struct {
	EventID       string    `json:"event_id"`
	OrderID       string    `json:"order_id"`
	SKU           string    `json:"sku"`
	QuantityDelta int64     `json:"quantity_delta"`
	EventType     Type      `json:"event_type"`
	ProducedAt    time.Time `json:"produced_at"`
	SequenceNo    int64     `json:"sequence_no"`
}
