package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validPayload() string {
	return `{"event_id":"evt-1","order_id":"ord-1","sku":"X1","quantity_delta":4,` +
		`"event_type":"RESERVE","produced_at":"2024-05-01T10:00:00Z","sequence_no":1}`
}

func TestDecode_Valid(t *testing.T) {
	evt, err := Decode([]byte(validPayload()))
	assert.NoError(t, err)
	assert.Equal(t, "evt-1", evt.EventID)
	assert.Equal(t, "ord-1", evt.OrderID)
	assert.Equal(t, "X1", evt.SKU)
	assert.Equal(t, int64(4), evt.QuantityDelta)
	assert.Equal(t, TypeReserve, evt.EventType)
	assert.Equal(t, int64(1), evt.SequenceNo)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), evt.ProducedAt.UTC())
}

func TestDecode_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		field   string
	}{
		{"not json", `{{{`, "payload"},
		{"missing sku", `{"event_id":"e","order_id":"o","quantity_delta":1,"event_type":"RESERVE","produced_at":"2024-05-01T10:00:00Z","sequence_no":1}`, "sku"},
		{"empty event_id", `{"event_id":"","order_id":"o","sku":"X","quantity_delta":1,"event_type":"RESERVE","produced_at":"2024-05-01T10:00:00Z","sequence_no":1}`, "event_id"},
		{"missing order_id", `{"event_id":"e","sku":"X","quantity_delta":1,"event_type":"RESERVE","produced_at":"2024-05-01T10:00:00Z","sequence_no":1}`, "order_id"},
		{"zero delta", `{"event_id":"e","order_id":"o","sku":"X","quantity_delta":0,"event_type":"RESERVE","produced_at":"2024-05-01T10:00:00Z","sequence_no":1}`, "quantity_delta"},
		{"unknown type", `{"event_id":"e","order_id":"o","sku":"X","quantity_delta":1,"event_type":"SHIP","produced_at":"2024-05-01T10:00:00Z","sequence_no":1}`, "event_type"},
		{"missing produced_at", `{"event_id":"e","order_id":"o","sku":"X","quantity_delta":1,"event_type":"RESERVE","sequence_no":1}`, "produced_at"},
		{"negative sequence", `{"event_id":"e","order_id":"o","sku":"X","quantity_delta":1,"event_type":"RESERVE","produced_at":"2024-05-01T10:00:00Z","sequence_no":-1}`, "sequence_no"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt, err := Decode([]byte(tc.payload))
			assert.Nil(t, evt)
			var derr *DecodeError
			assert.ErrorAs(t, err, &derr)
			assert.Equal(t, tc.field, derr.Field)
		})
	}
}
