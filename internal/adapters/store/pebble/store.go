// Package pebble keeps batches in an embedded Pebble LSM, for edge nodes
// that must survive restarts without an external database.
//
// Keys are "b/" + uvarint(len(sensor)) + sensor + be64(captured_at ns) +
// be64(seq) + id, so one sensor's batches are contiguous and sorted by
// capture time, then by write order. seq is persisted under "m/seq".
package pebble

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

var (
	batchPrefix = []byte("b/")
	seqKey      = []byte("m/seq")
)

type Store struct {
	db *pebble.DB

	mu  sync.Mutex
	seq uint64
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	s := &Store{db: db}
	val, closer, err := db.Get(seqKey)
	switch {
	case err == nil:
		if len(val) == 8 {
			s.seq = binary.BigEndian.Uint64(val)
		}
		closer.Close()
	case !errors.Is(err, pebble.ErrNotFound):
		db.Close()
		return nil, fmt.Errorf("read pebble sequence: %w", err)
	}
	return s, nil
}

func (s *Store) Name() string { return "pebble" }

func (s *Store) Close() error { return s.db.Close() }

func sensorPrefix(sensorID string) []byte {
	out := append([]byte(nil), batchPrefix...)
	out = binary.AppendUvarint(out, uint64(len(sensorID)))
	return append(out, sensorID...)
}

func batchKey(b *domain.Batch, seq uint64) []byte {
	key := sensorPrefix(b.SensorID)
	key = binary.BigEndian.AppendUint64(key, uint64(b.CapturedAt.UnixNano()))
	key = binary.BigEndian.AppendUint64(key, seq)
	return append(key, b.ID...)
}

// upperBound returns the smallest key greater than every key with prefix p.
func upperBound(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, sensorID string) (*domain.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := sensorPrefix(sensorID)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return nil, err
		}
		return nil, domain.ErrNotFound
	}
	return decode(iter.Value())
}

func (s *Store) Put(ctx context.Context, b *domain.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.CapturedAt.UnixNano() < 0 {
		return fmt.Errorf("pebble store: captured_at %s before epoch", b.CapturedAt)
	}
	val, err := json.Marshal(b)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.seq + 1
	wb := s.db.NewBatch()
	defer wb.Close()
	if err := wb.Set(batchKey(b, seq), val, nil); err != nil {
		return err
	}
	if err := wb.Set(seqKey, binary.BigEndian.AppendUint64(nil, seq), nil); err != nil {
		return err
	}
	if err := wb.Commit(pebble.Sync); err != nil {
		return err
	}
	s.seq = seq
	return nil
}

func (s *Store) Find(ctx context.Context, f ports.ReadingFilter) ([]domain.Batch, error) {
	opts := &pebble.IterOptions{LowerBound: batchPrefix, UpperBound: upperBound(batchPrefix)}
	if f.SensorID != "" {
		prefix := sensorPrefix(f.SensorID)
		opts.LowerBound, opts.UpperBound = prefix, upperBound(prefix)
		if !f.From.IsZero() && f.From.UnixNano() > 0 {
			opts.LowerBound = binary.BigEndian.AppendUint64(append([]byte(nil), prefix...), uint64(f.From.UnixNano()))
		}
	}

	iter, err := s.db.NewIter(opts)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []domain.Batch
	for valid := iter.First(); valid; valid = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := decode(iter.Value())
		if err != nil {
			return nil, err
		}
		if !f.Match(b) {
			continue
		}
		if nb, ok := f.Narrow(*b); ok {
			out = append(out, nb)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	// Keys sort by sensor first; the query contract is time order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out, nil
}

func decode(val []byte) (*domain.Batch, error) {
	var b domain.Batch
	if err := json.Unmarshal(val, &b); err != nil {
		return nil, errors.Join(errors.New("pebble store: corrupt batch"), err)
	}
	return &b, nil
}

var (
	_ ports.ReadingStore   = (*Store)(nil)
	_ ports.ReadingQuerier = (*Store)(nil)
)
