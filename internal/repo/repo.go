package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeff-vincent/inventory-service/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrConflict is returned when a conditioned write loses an optimistic
// concurrency race. Callers treat it as transient and retry.
var ErrConflict = errors.New("optimistic lock conflict")

// RepositoryInterface restricts Repo methods for unit-test mocks. It is the
// only layer permitted to touch stock_record, dedup_entry and event_outbox.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	GetStock(ctx context.Context, sku string) (*model.StockRecord, error)
	GetStockForUpdate(ctx context.Context, tx *gorm.DB, sku string) (*model.StockRecord, error)
	CreateStock(ctx context.Context, tx *gorm.DB, rec *model.StockRecord) error
	UpdateStock(ctx context.Context, tx *gorm.DB, rec model.StockRecord, oldVersion uint64) error
	GetDedup(ctx context.Context, tx *gorm.DB, eventID string) (*model.DedupEntry, error)
	CreateDedup(ctx context.Context, tx *gorm.DB, entry *model.DedupEntry) error
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// GetStock is a point read of one stock record.
func (r *Repository) GetStock(ctx context.Context, sku string) (*model.StockRecord, error) {
	var rec model.StockRecord
	if err := r.db.WithContext(ctx).Where("sku = ?", sku).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetStockForUpdate locks the stock row for the duration of tx.
func (r *Repository) GetStockForUpdate(ctx context.Context, tx *gorm.DB, sku string) (*model.StockRecord, error) {
	var rec model.StockRecord
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("sku = ?", sku).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateStock inserts a fresh record, usually zero-quantity for a SKU seen
// for the first time.
func (r *Repository) CreateStock(ctx context.Context, tx *gorm.DB, rec *model.StockRecord) error {
	return tx.WithContext(ctx).Create(rec).Error
}

// UpdateStock writes quantities and last applied sequence conditioned on the
// version token being unchanged since the read. RowsAffected==0 means a
// concurrent writer won the race.
func (r *Repository) UpdateStock(ctx context.Context, tx *gorm.DB, rec model.StockRecord, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.StockRecord{}).
		Where("sku = ? AND version = ?", rec.SKU, oldVersion).
		Updates(map[string]interface{}{
			"available_quantity":    rec.AvailableQuantity,
			"reserved_quantity":     rec.ReservedQuantity,
			"last_applied_sequence": rec.LastAppliedSequence,
			"version":               oldVersion + 1,
			"updated_at":            time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// GetDedup returns the ledger entry for eventID, or nil if the event has
// never been handled.
func (r *Repository) GetDedup(ctx context.Context, tx *gorm.DB, eventID string) (*model.DedupEntry, error) {
	var entry model.DedupEntry
	err := tx.WithContext(ctx).Where("event_id = ?", eventID).First(&entry).Error
	if err == nil {
		return &entry, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

// CreateDedup writes the ledger entry. The primary key on event_id makes a
// double insert fail, so two racing appliers cannot both commit.
func (r *Repository) CreateDedup(ctx context.Context, tx *gorm.DB, entry *model.DedupEntry) error {
	return tx.WithContext(ctx).Create(entry).Error
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed=false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id=?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka, keyed by SKU so downstream consumers see
// per-SKU order.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%s:%d", evt.AggregateID, evt.ID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}
