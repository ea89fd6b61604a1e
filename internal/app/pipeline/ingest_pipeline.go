package pipeline

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/parthCJ/Aarma-be/internal/core/ingest"
	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

const maxBackoff = 30 * time.Second

type outcome int

const (
	settled outcome = iota
	stalled
	cancelled
)

type compactor interface {
	Compact() error
}

// Ingest drains the queue in rounds. Within a round items are sharded by
// sensor so one worker sees all of a sensor's batches in queue order. The
// WAL is committed only after a round completes.
//
// A batch whose upstream failures outlast MaxAttempts is held, together
// with everything queued behind it on the same shard, and retried in the
// next round. Only validation failures are dead-lettered.
type Ingest struct {
	wal      ports.WAL
	queue    ports.BatchQueue
	ingester ingest.Ingester
	pol      ports.Policy
	obs      ports.Observability

	// held and high are owned by the Run goroutine.
	held []ports.QueuedBatch
	high ports.WALEntryID
}

func NewIngest(wal ports.WAL, q ports.BatchQueue, ing ingest.Ingester, pol ports.Policy, obs ports.Observability) *Ingest {
	if pol.Workers <= 0 {
		pol.Workers = 1
	}
	if pol.MaxAttempts <= 0 {
		pol.MaxAttempts = 1
	}
	return &Ingest{wal: wal, queue: q, ingester: ing, pol: pol, obs: obs}
}

// Run blocks until ctx is done.
func (p *Ingest) Run(ctx context.Context) {
	idle := time.NewTimer(idleSleep(p.pol))
	defer idle.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		items := p.held
		p.held = nil
		if len(items) == 0 {
			items = p.queue.DequeueBatch(p.pol.MaxBatchSize)
		}
		if len(items) == 0 {
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(idleSleep(p.pol))
			select {
			case <-ctx.Done():
				return
			case <-p.queue.Ready():
			case <-idle.C:
			}
			continue
		}
		if !p.round(ctx, items) && len(p.held) > 0 {
			p.obs.LogError("ingest_stalled", domain.ErrUpstreamUnavailable,
				ports.Field{Key: "held", Value: len(p.held)}, ports.Field{Key: "first_wal_id", Value: uint64(p.held[0].ID)})
			if sleepCtx(ctx, p.stallWait()) != nil {
				return
			}
		}
	}
}

// stallWait continues the per-item backoff schedule past MaxAttempts.
func (p *Ingest) stallWait() time.Duration {
	d := p.pol.RetryBackoff
	if d <= 0 {
		return idleSleep(p.pol)
	}
	for i := 0; i < p.pol.MaxAttempts && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

// round processes items and commits the WAL if every item settled. Items
// left unsettled by an upstream outage are kept in p.held in WAL order, and
// the WAL is committed only up to the first of them.
func (p *Ingest) round(ctx context.Context, items []ports.QueuedBatch) bool {
	for _, item := range items {
		if item.ID > p.high {
			p.high = item.ID
		}
	}
	shards := shard(items, p.pol.Workers)

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		held        []ports.QueuedBatch
		interrupted bool
	)
	for _, work := range shards {
		if len(work) == 0 {
			continue
		}
		wg.Add(1)
		go func(work []ports.QueuedBatch) {
			defer wg.Done()
			for i, item := range work {
				switch p.process(ctx, item) {
				case settled:
					continue
				case stalled:
					mu.Lock()
					held = append(held, work[i:]...)
					mu.Unlock()
				case cancelled:
					mu.Lock()
					interrupted = true
					mu.Unlock()
				}
				return
			}
		}(work)
	}
	wg.Wait()

	p.obs.SetGauge("aarma_queue_length", float64(p.queue.Len()))
	if interrupted {
		return false
	}
	if len(held) > 0 {
		slices.SortFunc(held, func(a, b ports.QueuedBatch) int {
			switch {
			case a.ID < b.ID:
				return -1
			case a.ID > b.ID:
				return 1
			}
			return 0
		})
		p.held = held
		if first := held[0].ID; first > 1 {
			if err := p.wal.Commit(first - 1); err != nil {
				p.obs.LogError("wal_commit_failed", err)
			}
		}
		return false
	}

	if err := p.wal.Commit(p.high); err != nil {
		p.obs.LogError("wal_commit_failed", err)
		return false
	}
	p.maybeCompact()
	p.obs.SetGauge("aarma_wal_size_bytes", float64(p.wal.Stats().SizeBytes))
	return true
}

func (p *Ingest) maybeCompact() {
	c, ok := p.wal.(compactor)
	if !ok || p.pol.MaxWALSizeBytes <= 0 || p.queue.Len() > 0 {
		return
	}
	if p.wal.Stats().SizeBytes < p.pol.MaxWALSizeBytes/2 {
		return
	}
	if err := c.Compact(); err != nil {
		p.obs.LogError("wal_compact_failed", err)
	}
}

// process retries upstream failures up to MaxAttempts. Non-retriable
// failures are dead-lettered and count as settled.
func (p *Ingest) process(ctx context.Context, item ports.QueuedBatch) outcome {
	backoff := p.pol.RetryBackoff
	for attempt := 1; ; attempt++ {
		_, err := p.ingester.Ingest(ctx, item.Batch)
		if err == nil {
			return settled
		}
		if ctx.Err() != nil {
			return cancelled
		}
		if !domain.Retriable(err) {
			p.obs.RecordDLQ(item.ID, item.Batch, err)
			return settled
		}
		if attempt >= p.pol.MaxAttempts {
			p.obs.IncCounter("aarma_ingest_stalled_total", 1)
			return stalled
		}
		if backoff > 0 {
			if sleepCtx(ctx, backoff) != nil {
				return cancelled
			}
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

func shard(items []ports.QueuedBatch, workers int) [][]ports.QueuedBatch {
	out := make([][]ports.QueuedBatch, workers)
	for _, item := range items {
		var sensor string
		if item.Batch != nil {
			sensor = item.Batch.SensorID
		}
		i := xxhash.Sum64String(sensor) % uint64(workers)
		out[i] = append(out[i], item)
	}
	return out
}
