package queue

import (
	"sync"

	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

// MemQueue is a bounded FIFO of batches awaiting ingestion.
type MemQueue struct {
	mu    sync.Mutex
	items []ports.QueuedBatch
	limit int
	ready chan struct{}
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue{
		items: make([]ports.QueuedBatch, 0, capacity),
		limit: capacity,
		ready: make(chan struct{}, 1),
	}
}

// Enqueue returns false when the queue is at capacity.
func (q *MemQueue) Enqueue(id ports.WALEntryID, b *domain.Batch) bool {
	q.mu.Lock()
	if len(q.items) >= q.limit {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ports.QueuedBatch{ID: id, Batch: b})
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// DequeueBatch pops up to max items; max <= 0 drains the queue.
func (q *MemQueue) DequeueBatch(max int) []ports.QueuedBatch {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}
	out := make([]ports.QueuedBatch, n)
	copy(out, q.items[:n])
	rest := copy(q.items, q.items[n:])
	for i := rest; i < len(q.items); i++ {
		q.items[i] = ports.QueuedBatch{}
	}
	q.items = q.items[:rest]
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *MemQueue) Ready() <-chan struct{} {
	return q.ready
}

var _ ports.BatchQueue = (*MemQueue)(nil)
