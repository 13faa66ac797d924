package model

import "time"

// StockRecord is the durable per-SKU inventory state. It is owned by the
// repo layer and mutated only through its transactional commit path; the
// Version column is the optimistic-concurrency token.
type StockRecord struct {
	SKU                 string    `gorm:"primaryKey;size:64;column:sku"`
	AvailableQuantity   int64     `gorm:"not null;default:0"`
	ReservedQuantity    int64     `gorm:"not null;default:0"`
	LastAppliedSequence int64     `gorm:"not null;default:-1"`
	Version             uint64    `gorm:"not null;default:0"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime"`
}

func (StockRecord) TableName() string { return "stock_record" }
