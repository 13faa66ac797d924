// Package sequencer serializes event application per SKU. Events for the
// same SKU pass through an exclusive critical section; events for different
// SKUs proceed fully in parallel.
package sequencer

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

// KeyedLock is an arena of per-key exclusive locks, created on demand and
// reclaimed once no goroutine references them, so memory stays bounded by
// the number of in-flight SKUs rather than the number ever seen.
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *KeyedLock {
	return &KeyedLock{entries: make(map[string]*entry)}
}

// Acquire blocks until the lock for key is held or ctx is done. On success
// the returned release func must be called exactly once; on ctx expiry the
// error is ctx.Err() and no lock is held. Callers treat expiry as a
// transient failure (lock contention timeout).
func (k *KeyedLock) Acquire(ctx context.Context, key string) (release func(), err error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return func() {
			<-e.ch
			k.unref(key, e)
		}, nil
	case <-ctx.Done():
		k.unref(key, e)
		return nil, ctx.Err()
	}
}

func (k *KeyedLock) unref(key string, e *entry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}

// Size reports how many keys currently have live lock entries.
func (k *KeyedLock) Size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
