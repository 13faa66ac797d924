package model

import "time"

// Dedup entry outcomes.
const (
	OutcomeApplied  = "APPLIED"
	OutcomeRejected = "REJECTED"
)

// DedupEntry records that an event id has been handled, and how. One row per
// event id, written in the same transaction as the stock mutation (or the
// terminal rejection), immutable afterwards. Redelivered events hit this
// table and are re-acked without touching stock.
type DedupEntry struct {
	EventID   string    `gorm:"primaryKey;size:64;column:event_id"`
	SKU       string    `gorm:"size:64;not null;index;column:sku"`
	Outcome   string    `gorm:"size:16;not null"`
	AppliedAt time.Time `gorm:"autoCreateTime"`
}

func (DedupEntry) TableName() string { return "dedup_entry" }
