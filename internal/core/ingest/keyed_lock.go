package ingest

import (
	"context"
	"sync"

	"github.com/parthCJ/Aarma-be/internal/domain"
)

// KeyedLocker hands out one mutex per key and forgets keys nobody holds.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLocker returns an empty locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *KeyedLocker) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Held reports how many keys currently have a holder or waiter.
func (k *KeyedLocker) Held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// Serialized runs at most one Ingest per sensor at a time, so the
// read-latest/write pair of a sensor is never interleaved.
type Serialized struct {
	next  Ingester
	locks *KeyedLocker
}

// NewSerialized wraps next with per-sensor locking.
func NewSerialized(next Ingester) *Serialized {
	return &Serialized{next: next, locks: NewKeyedLocker()}
}

// Ingest holds the batch's sensor lock for the whole call. Nil batches go
// straight to next, which rejects them.
func (s *Serialized) Ingest(ctx context.Context, b *domain.Batch) (Result, error) {
	if b == nil {
		return s.next.Ingest(ctx, b)
	}
	unlock := s.locks.Lock(b.SensorID)
	defer unlock()
	return s.next.Ingest(ctx, b)
}

var _ Ingester = (*Serialized)(nil)
