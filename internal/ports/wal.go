package ports

import "github.com/parthCJ/Aarma-be/internal/domain"

type WALEntryID uint64

type WAL interface {
	Append(b *domain.Batch) (WALEntryID, error)
	Iterate(from WALEntryID, fn func(id WALEntryID, b *domain.Batch) error) error
	Commit(upto WALEntryID) error
	Stats() WALStats
	Close() error
}

type WALStats struct {
	OldestUncommitted WALEntryID
	LatestAppended    WALEntryID
	SizeBytes         int64
}
