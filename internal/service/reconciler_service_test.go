package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jeff-vincent/inventory-service/internal/engine"
	"github.com/jeff-vincent/inventory-service/internal/event"
	"github.com/jeff-vincent/inventory-service/internal/logger"
	"github.com/jeff-vincent/inventory-service/internal/model"
	"github.com/jeff-vincent/inventory-service/internal/repo"
	"github.com/jeff-vincent/inventory-service/internal/sequencer"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*ReconcilerService, context.Context) {
	// named in-memory DB so concurrent connections within one test share it
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.StockRecord{}, &model.DedupEntry{}, &model.OutboxEvent{}))

	log, _ := logger.NewLogger()
	repository := repo.NewRepository(db, nil, log)
	svc := NewReconcilerService(repository, sequencer.New(), 2*time.Second, nil, log)

	return svc, context.Background()
}

func orderEvent(sku string, typ event.Type, delta, seq int64) *event.OrderEvent {
	return &event.OrderEvent{
		EventID:       uuid.NewString(),
		OrderID:       "ord-" + sku,
		SKU:           sku,
		QuantityDelta: delta,
		EventType:     typ,
		ProducedAt:    time.Now(),
		SequenceNo:    seq,
	}
}

func getRecord(t *testing.T, svc *ReconcilerService, ctx context.Context, sku string) *model.StockRecord {
	rec, err := svc.GetStock(ctx, sku)
	assert.NoError(t, err)
	return rec
}

func TestProcessEvent_ReserveThenDuplicateRedelivery(t *testing.T) {
	svc, ctx := newTestService(t)
	sku := "dup-X1"

	_, err := svc.Restock(ctx, sku, 10)
	assert.NoError(t, err)

	evt := orderEvent(sku, event.TypeReserve, 4, 1)
	out, err := svc.ProcessEvent(ctx, evt)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	rec := getRecord(t, svc, ctx, sku)
	assert.Equal(t, int64(6), rec.AvailableQuantity)
	assert.Equal(t, int64(4), rec.ReservedQuantity)

	// redeliver the identical event
	out, err = svc.ProcessEvent(ctx, evt)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)

	rec = getRecord(t, svc, ctx, sku)
	assert.Equal(t, int64(6), rec.AvailableQuantity)
	assert.Equal(t, int64(4), rec.ReservedQuantity)
}

func TestProcessEvent_ConfirmConsumesReservation(t *testing.T) {
	svc, ctx := newTestService(t)
	sku := "confirm-X1"

	_, err := svc.Restock(ctx, sku, 10)
	assert.NoError(t, err)

	_, err = svc.ProcessEvent(ctx, orderEvent(sku, event.TypeReserve, 4, 1))
	assert.NoError(t, err)

	out, err := svc.ProcessEvent(ctx, orderEvent(sku, event.TypeConfirm, 4, 2))
	assert.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	rec := getRecord(t, svc, ctx, sku)
	assert.Equal(t, int64(6), rec.AvailableQuantity)
	assert.Equal(t, int64(0), rec.ReservedQuantity)
}

func TestProcessEvent_InsufficientStockIsTerminal(t *testing.T) {
	svc, ctx := newTestService(t)
	sku := "short-X2"

	_, err := svc.Restock(ctx, sku, 2)
	assert.NoError(t, err)

	evt := orderEvent(sku, event.TypeReserve, 5, 1)
	out, err := svc.ProcessEvent(ctx, evt)
	assert.NoError(t, err, "business rejection is not an error")
	assert.Equal(t, OutcomeRejected, out)

	rec := getRecord(t, svc, ctx, sku)
	assert.Equal(t, int64(2), rec.AvailableQuantity)
	assert.Equal(t, int64(0), rec.ReservedQuantity)

	// the rejection is in the ledger, so redelivery short-circuits
	entry, err := svc.Repo().GetDedup(ctx, svc.Repo().DB(ctx), evt.EventID)
	assert.NoError(t, err)
	assert.NotNil(t, entry)
	assert.Equal(t, model.OutcomeRejected, entry.Outcome)

	out, err = svc.ProcessEvent(ctx, evt)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
}

func TestProcessEvent_UnknownSKUStartsEmpty(t *testing.T) {
	svc, ctx := newTestService(t)
	sku := "fresh-X9"

	out, err := svc.ProcessEvent(ctx, orderEvent(sku, event.TypeReserve, 1, 1))
	assert.NoError(t, err)
	assert.Equal(t, OutcomeRejected, out)

	rec := getRecord(t, svc, ctx, sku)
	assert.Equal(t, int64(0), rec.AvailableQuantity)
}

func TestProcessEvent_StaleSequenceSkipped(t *testing.T) {
	svc, ctx := newTestService(t)
	sku := "stale-X1"

	_, err := svc.Restock(ctx, sku, 10)
	assert.NoError(t, err)

	out, err := svc.ProcessEvent(ctx, orderEvent(sku, event.TypeReserve, 2, 5))
	assert.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	// a late arrival behind the applied sequence is dropped, not reapplied
	out, err = svc.ProcessEvent(ctx, orderEvent(sku, event.TypeReserve, 2, 3))
	assert.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyCurrent, out)

	rec := getRecord(t, svc, ctx, sku)
	assert.Equal(t, int64(8), rec.AvailableQuantity)
	assert.Equal(t, int64(2), rec.ReservedQuantity)
	assert.Equal(t, int64(5), rec.LastAppliedSequence)
}

func TestProcessEvent_ConcurrentDuplicateDelivery(t *testing.T) {
	svc, ctx := newTestService(t)
	sku := "race-X1"

	_, err := svc.Restock(ctx, sku, 10)
	assert.NoError(t, err)

	evt := orderEvent(sku, event.TypeReserve, 4, 1)

	var mu sync.Mutex
	outcomes := map[Outcome]int{}
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := processWithRetry(t, svc, ctx, evt)
			mu.Lock()
			outcomes[out]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[OutcomeApplied])
	assert.Equal(t, 1, outcomes[OutcomeDuplicate])

	rec := getRecord(t, svc, ctx, sku)
	assert.Equal(t, int64(6), rec.AvailableQuantity)
	assert.Equal(t, int64(4), rec.ReservedQuantity)
}

// One goroutine per SKU partition, all hammering the service concurrently:
// final per-SKU state must equal a single-threaded sequential replay.
func TestProcessEvent_ConcurrentPartitionsMatchSequentialReplay(t *testing.T) {
	svc, ctx := newTestService(t)

	const perSKU = 9
	skus := []string{"rep-A", "rep-B", "rep-C"}

	events := make(map[string][]*event.OrderEvent)
	for _, sku := range skus {
		for seq := int64(1); seq <= perSKU; seq++ {
			var e *event.OrderEvent
			switch seq % 3 {
			case 1:
				e = orderEvent(sku, event.TypeReserve, 6, seq)
			case 2:
				e = orderEvent(sku, event.TypeRelease, 2, seq)
			default:
				e = orderEvent(sku, event.TypeConfirm, 4, seq)
			}
			events[sku] = append(events[sku], e)
		}
	}

	// expected state from a strictly sequential replay
	expected := make(map[string]model.StockRecord)
	for _, sku := range skus {
		rec := model.StockRecord{SKU: sku, AvailableQuantity: 100, LastAppliedSequence: -1}
		for _, e := range events[sku] {
			res := engine.Apply(e, rec)
			if res.Status == engine.StatusApplied {
				rec = res.Record
			}
		}
		expected[sku] = rec
	}

	for _, sku := range skus {
		_, err := svc.Restock(ctx, sku, 100)
		assert.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, sku := range skus {
		wg.Add(1)
		go func(evts []*event.OrderEvent) {
			defer wg.Done()
			for _, e := range evts {
				processWithRetry(t, svc, ctx, e)
			}
		}(events[sku])
	}
	wg.Wait()

	for _, sku := range skus {
		rec := getRecord(t, svc, ctx, sku)
		want := expected[sku]
		assert.Equal(t, want.AvailableQuantity, rec.AvailableQuantity, sku)
		assert.Equal(t, want.ReservedQuantity, rec.ReservedQuantity, sku)
		assert.Equal(t, want.LastAppliedSequence, rec.LastAppliedSequence, sku)
	}
}

func TestRestock_CreatesAndAccumulates(t *testing.T) {
	svc, ctx := newTestService(t)
	sku := "restock-X1"

	rec, err := svc.Restock(ctx, sku, 7)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), rec.AvailableQuantity)

	rec, err = svc.Restock(ctx, sku, 3)
	assert.NoError(t, err)
	assert.Equal(t, int64(10), rec.AvailableQuantity)

	_, err = svc.Restock(ctx, sku, 0)
	assert.ErrorIs(t, err, ErrRestockAmount)
}

func TestProcessEvent_AppliedWritesOutboxNotification(t *testing.T) {
	svc, ctx := newTestService(t)
	sku := "outbox-X1"

	_, err := svc.Restock(ctx, sku, 10)
	assert.NoError(t, err)
	_, err = svc.ProcessEvent(ctx, orderEvent(sku, event.TypeReserve, 4, 1))
	assert.NoError(t, err)

	var evts []model.OutboxEvent
	assert.NoError(t, svc.Repo().DB(ctx).
		Where("aggregate_id = ?", sku).Order("id").Find(&evts).Error)
	// one row for the restock, one for the adjustment
	assert.Len(t, evts, 2)
	assert.Equal(t, "StockRestocked", evts[0].EventType)
	assert.Equal(t, "StockAdjusted", evts[1].EventType)
}

// processWithRetry mimics the supervisor: transient errors (conflicts, busy
// store) are retried, terminal outcomes returned.
func processWithRetry(t *testing.T, svc *ReconcilerService, ctx context.Context, e *event.OrderEvent) Outcome {
	for attempt := 0; attempt < 100; attempt++ {
		out, err := svc.ProcessEvent(ctx, e)
		if err == nil {
			return out
		}
		time.Sleep(time.Millisecond)
	}
	t.Error(fmt.Sprintf("event %s never applied", e.EventID))
	return ""
}
