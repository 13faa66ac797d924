// Package consumer runs the worker pool that pulls order events off the
// queue and drives them through decode, sequencing and the store commit,
// with bounded retry and dead-lettering on terminal failure.
package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/jeff-vincent/inventory-service/internal/config"
	"github.com/jeff-vincent/inventory-service/internal/event"
	"github.com/jeff-vincent/inventory-service/internal/queue"
	"github.com/jeff-vincent/inventory-service/internal/service"
	"go.uber.org/zap"
)

// Applier applies one decoded event exactly once, effective.
type Applier interface {
	ProcessEvent(ctx context.Context, evt *event.OrderEvent) (service.Outcome, error)
}

// Pool is the consumer worker pool. Workers pull independently; per-SKU
// ordering is the applier's concern, not the pool's.
type Pool struct {
	source  queue.Source
	sink    queue.DeadLetterSink
	applier Applier
	cfg     config.ConsumerConfig
	log     *zap.SugaredLogger
}

// NewPool returns Pool.
func NewPool(src queue.Source, sink queue.DeadLetterSink, applier Applier, cfg config.ConsumerConfig, logger *zap.SugaredLogger) *Pool {
	return &Pool{source: src, sink: sink, applier: applier, cfg: cfg, log: logger}
}

// Run starts the workers and blocks until ctx is cancelled and all workers
// have drained. In-flight events not yet committed are simply redelivered by
// the queue once their visibility timeout lapses.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Pool) worker(ctx context.Context, id int) {
	for {
		msg, err := p.source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Errorf("worker %d: receive: %v", id, err)
			if !sleep(ctx, p.cfg.InitialBackoff) {
				return
			}
			continue
		}
		p.handle(ctx, id, msg)
	}
}

// handle walks one delivery through its lifecycle. Acknowledgement happens
// only after a durable commit or a durably recorded terminal disposition.
func (p *Pool) handle(ctx context.Context, id int, msg *queue.Message) {
	evt, err := event.Decode(msg.Payload)
	if err != nil {
		p.log.Warnf("worker %d: dead-lettering %s: %v", id, msg.ID, err)
		p.deadLetter(ctx, msg, err.Error())
		return
	}

	backoff := p.cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		out, err := p.applier.ProcessEvent(ctx, evt)
		if err == nil {
			p.log.Debugw("event handled",
				"worker", id, "event_id", evt.EventID, "sku", evt.SKU, "outcome", out)
			p.ack(ctx, msg)
			return
		}
		if ctx.Err() != nil {
			// cancelled mid-flight; the queue redelivers
			return
		}
		if attempt >= p.cfg.MaxAttempts {
			p.log.Errorf("worker %d: event %s exhausted %d attempts: %v",
				id, evt.EventID, attempt, err)
			p.deadLetter(ctx, msg, "retries exhausted: "+err.Error())
			return
		}
		p.log.Warnf("worker %d: event %s attempt %d/%d: %v",
			id, evt.EventID, attempt, p.cfg.MaxAttempts, err)
		if !sleep(ctx, backoff) {
			return
		}
		backoff *= 2
		if backoff > p.cfg.MaxBackoff {
			backoff = p.cfg.MaxBackoff
		}
	}
}

// deadLetter writes the delivery to terminal storage, then acks. If the
// write fails the delivery stays unacked and comes back around.
func (p *Pool) deadLetter(ctx context.Context, msg *queue.Message, reason string) {
	if err := p.sink.DeadLetter(ctx, msg, reason); err != nil {
		p.log.Errorf("dead-letter %s: %v", msg.ID, err)
		return
	}
	p.ack(ctx, msg)
}

func (p *Pool) ack(ctx context.Context, msg *queue.Message) {
	if err := p.source.Ack(ctx, msg.ID); err != nil {
		// redelivery is safe: the dedup ledger short-circuits it
		p.log.Errorf("ack %s: %v", msg.ID, err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
