package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

var (
	ErrWALFull   = errors.New("wal full")
	ErrQueueFull = errors.New("queue full")
)

// Edge makes collected batches durable and hands them to the ingest side.
type Edge struct {
	// mu keeps WAL ids and queue order aligned across concurrent submitters.
	mu    sync.Mutex
	wal   ports.WAL
	queue ports.BatchQueue
	pol   ports.Policy
	obs   ports.Observability
}

func NewEdge(wal ports.WAL, q ports.BatchQueue, pol ports.Policy, obs ports.Observability) *Edge {
	return &Edge{wal: wal, queue: q, pol: pol, obs: obs}
}

// Submit appends b to the WAL and enqueues it, honouring the WAL and queue
// full policies. A batch rejected by the queue stays in the WAL but is
// counted as dropped.
func (e *Edge) Submit(ctx context.Context, b *domain.Batch) (ports.WALEntryID, error) {
	if err := waitForWALCapacity(ctx, e.wal, e.pol, e.obs); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	id, err := e.wal.Append(b)
	if err != nil {
		e.obs.LogCritical("wal_append_failed", err, ports.Field{Key: "sensor_id", Value: b.SensorID})
		return 0, fmt.Errorf("wal append: %w", err)
	}
	if err := enqueueWithPolicy(ctx, e.queue, id, b, e.pol, e.obs); err != nil {
		e.obs.IncCounter("aarma_queue_dropped_total", 1)
		return id, err
	}
	return id, nil
}

// Run forwards every batch from in until in is closed or ctx is done.
func (e *Edge) Run(ctx context.Context, in <-chan *domain.Batch) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-in:
			if !ok {
				return
			}
			// Submit already logs and counts its failures.
			_, _ = e.Submit(ctx, b)
		}
	}
}

// Replay re-enqueues every uncommitted WAL entry, blocking on a full queue.
func (e *Edge) Replay(ctx context.Context) (int, error) {
	stats := e.wal.Stats()
	start := stats.OldestUncommitted
	if stats.LatestAppended == 0 || start == 0 || start > stats.LatestAppended {
		return 0, nil
	}

	var replayed int
	err := e.wal.Iterate(start, func(id ports.WALEntryID, b *domain.Batch) error {
		for !e.queue.Enqueue(id, b) {
			if err := sleepCtx(ctx, idleSleep(e.pol)); err != nil {
				return err
			}
		}
		replayed++
		return nil
	})
	if err != nil {
		return replayed, fmt.Errorf("wal replay: %w", err)
	}
	if replayed > 0 {
		e.obs.LogInfo("wal_replay_complete",
			ports.Field{Key: "batches", Value: replayed},
			ports.Field{Key: "from_id", Value: uint64(start)})
	}
	return replayed, nil
}

func waitForWALCapacity(ctx context.Context, wal ports.WAL, pol ports.Policy, obs ports.Observability) error {
	if pol.MaxWALSizeBytes <= 0 {
		return nil
	}
	for {
		stats := wal.Stats()
		if stats.SizeBytes < pol.MaxWALSizeBytes {
			return nil
		}
		switch pol.OnWALFull {
		case "block":
			if err := sleepCtx(ctx, idleSleep(pol)); err != nil {
				return err
			}
		case "drop":
			err := fmt.Errorf("%w: size=%d limit=%d", ErrWALFull, stats.SizeBytes, pol.MaxWALSizeBytes)
			obs.LogError("wal_full_drop", err)
			return err
		default:
			err := fmt.Errorf("%w: unknown policy %q", ErrWALFull, pol.OnWALFull)
			obs.LogError("wal_policy_invalid", err)
			return err
		}
	}
}

func enqueueWithPolicy(ctx context.Context, q ports.BatchQueue, id ports.WALEntryID, b *domain.Batch, pol ports.Policy, obs ports.Observability) error {
	for {
		if q.Enqueue(id, b) {
			return nil
		}
		switch pol.OnQueueFull {
		case "block":
			if err := sleepCtx(ctx, idleSleep(pol)); err != nil {
				return err
			}
		case "drop", "reject":
			err := fmt.Errorf("%w: capacity %d", ErrQueueFull, pol.MaxQueueLen)
			obs.LogError("queue_full_drop", err, ports.Field{Key: "sensor_id", Value: b.SensorID})
			return err
		default:
			err := fmt.Errorf("%w: unknown policy %q", ErrQueueFull, pol.OnQueueFull)
			obs.LogError("queue_policy_invalid", err)
			return err
		}
	}
}

func idleSleep(pol ports.Policy) time.Duration {
	if pol.IdleSleep <= 0 {
		return 5 * time.Millisecond
	}
	return pol.IdleSleep
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
