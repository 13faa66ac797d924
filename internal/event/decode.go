package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// DecodeError names the first payload field that failed validation. Decode
// failures are terminal: a payload that fails here is dead-lettered, never
// retried.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode order event: field %q %s", e.Field, e.Reason)
}

// wire mirrors OrderEvent with pointer fields so absent keys are
// distinguishable from zero values.
type wire struct {
	EventID       *string    `json:"event_id"`
	OrderID       *string    `json:"order_id"`
	SKU           *string    `json:"sku"`
	QuantityDelta *int64     `json:"quantity_delta"`
	EventType     *string    `json:"event_type"`
	ProducedAt    *time.Time `json:"produced_at"`
	SequenceNo    *int64     `json:"sequence_no"`
}

// Decode parses and validates a raw queue payload. It is pure: no side
// effects, and a bad payload never reaches the store.
func Decode(payload []byte) (*OrderEvent, error) {
	var w wire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, &DecodeError{Field: "payload", Reason: "is not valid JSON: " + err.Error()}
	}
	if w.EventID == nil || *w.EventID == "" {
		return nil, &DecodeError{Field: "event_id", Reason: "is missing or empty"}
	}
	if w.OrderID == nil || *w.OrderID == "" {
		return nil, &DecodeError{Field: "order_id", Reason: "is missing or empty"}
	}
	if w.SKU == nil || *w.SKU == "" {
		return nil, &DecodeError{Field: "sku", Reason: "is missing or empty"}
	}
	if w.QuantityDelta == nil {
		return nil, &DecodeError{Field: "quantity_delta", Reason: "is missing"}
	}
	if *w.QuantityDelta == 0 {
		return nil, &DecodeError{Field: "quantity_delta", Reason: "must be nonzero"}
	}
	if w.EventType == nil {
		return nil, &DecodeError{Field: "event_type", Reason: "is missing"}
	}
	typ := Type(*w.EventType)
	if !typ.Valid() {
		return nil, &DecodeError{Field: "event_type", Reason: fmt.Sprintf("has unknown value %q", *w.EventType)}
	}
	if w.ProducedAt == nil || w.ProducedAt.IsZero() {
		return nil, &DecodeError{Field: "produced_at", Reason: "is missing or zero"}
	}
	if w.SequenceNo == nil {
		return nil, &DecodeError{Field: "sequence_no", Reason: "is missing"}
	}
	if *w.SequenceNo < 0 {
		return nil, &DecodeError{Field: "sequence_no", Reason: "must be >= 0"}
	}
	return &OrderEvent{
		EventID:       *w.EventID,
		OrderID:       *w.OrderID,
		SKU:           *w.SKU,
		QuantityDelta: *w.QuantityDelta,
		EventType:     typ,
		ProducedAt:    *w.ProducedAt,
		SequenceNo:    *w.SequenceNo,
	}, nil
}
