// Package keylock provides mutual exclusion scoped to a dynamic key.
//
// All order-mutating paths (checkout invoice creation, capture/cancel
// reconciliation, refund settlement) acquire the lock for the order id, so
// operations on the same order are strictly serialized while distinct
// orders proceed in parallel.
package keylock

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type entry struct {
	sem *semaphore.Weighted
	// refs counts the holder plus all waiters. The entry is removed from
	// the map when it drops to zero, so the key space stays bounded by the
	// number of in-flight operations.
	refs int
}

// KeyedLock serializes critical sections per key. The zero value is not
// usable; call New.
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *KeyedLock {
	return &KeyedLock{entries: make(map[string]*entry)}
}

// Acquire blocks until the lock for key is held or ctx is done. Waiters for
// the same key are granted in FIFO order. On success it returns a release
// function which is safe to call more than once; on failure it returns the
// context's error and holds nothing.
func (l *KeyedLock) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		l.unref(key, e)
		return nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			e.sem.Release(1)
			l.unref(key, e)
		})
	}
	return release, nil
}

func (l *KeyedLock) unref(key string, e *entry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}

// ActiveKeys reports how many keys currently have a holder or waiter.
func (l *KeyedLock) ActiveKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
