package ports

import "github.com/parthCJ/Aarma-be/internal/domain"

type QueuedBatch struct {
	ID    WALEntryID
	Batch *domain.Batch
}

// BatchQueue buffers WAL-backed batches between collectors and the ingest
// workers. Ready fires at least once after an Enqueue into an empty queue.
type BatchQueue interface {
	Enqueue(id WALEntryID, b *domain.Batch) bool
	DequeueBatch(max int) []QueuedBatch
	Len() int
	Ready() <-chan struct{}
}
