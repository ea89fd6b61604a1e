// Package memory keeps persisted batches in process memory. It backs tests
// and single-node deployments that accept losing history on restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

type Store struct {
	mu      sync.RWMutex
	batches map[string][]*domain.Batch
}

func NewStore() *Store {
	return &Store{batches: make(map[string][]*domain.Batch)}
}

func (s *Store) Name() string { return "memory" }

func (s *Store) Latest(ctx context.Context, sensorID string) (*domain.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.batches[sensorID]
	if len(list) == 0 {
		return nil, domain.ErrNotFound
	}
	return list[len(list)-1].Clone(), nil
}

// Put appends b, keeping each sensor's log ordered by CapturedAt.
func (s *Store) Put(ctx context.Context, b *domain.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.batches[b.SensorID]
	i := sort.Search(len(list), func(i int) bool { return list[i].CapturedAt.After(b.CapturedAt) })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = b.Clone()
	s.batches[b.SensorID] = list
	return nil
}

func (s *Store) Find(ctx context.Context, f ports.ReadingFilter) ([]domain.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []domain.Batch
	for sensorID, list := range s.batches {
		if f.SensorID != "" && sensorID != f.SensorID {
			continue
		}
		for _, b := range list {
			if !f.Match(b) {
				continue
			}
			if nb, ok := f.Narrow(*b.Clone()); ok {
				out = append(out, nb)
			}
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out, nil
}

var (
	_ ports.ReadingStore   = (*Store)(nil)
	_ ports.ReadingQuerier = (*Store)(nil)
)
