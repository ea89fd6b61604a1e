package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parthCJ/Aarma-be/internal/adapters/queue"
	"github.com/parthCJ/Aarma-be/internal/adapters/wal"
	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

func TestWaitForWALCapacityBlockThenSucceed(t *testing.T) {
	w := &sizeWAL{sizes: []int64{150, 50}}
	pol := ports.Policy{MaxWALSizeBytes: 100, OnWALFull: "block", IdleSleep: time.Millisecond}

	if err := waitForWALCapacity(context.Background(), w, pol, &mockObs{}); err != nil {
		t.Fatalf("expected capacity to free up, got %v", err)
	}
	if w.calls < 2 {
		t.Fatalf("expected multiple stats calls, got %d", w.calls)
	}
}

func TestWaitForWALCapacityDrop(t *testing.T) {
	w := &sizeWAL{sizes: []int64{200}}
	obs := &mockObs{}
	err := waitForWALCapacity(context.Background(), w, ports.Policy{MaxWALSizeBytes: 100, OnWALFull: "drop"}, obs)
	if !errors.Is(err, ErrWALFull) {
		t.Fatalf("expected ErrWALFull, got %v", err)
	}
	if len(obs.errorList()) == 0 {
		t.Fatalf("expected error to be logged")
	}
}

func TestWaitForWALCapacityBlockHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	w := &sizeWAL{sizes: []int64{200}}
	err := waitForWALCapacity(ctx, w, ports.Policy{MaxWALSizeBytes: 100, OnWALFull: "block", IdleSleep: time.Millisecond}, &mockObs{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestEnqueueWithPolicyBlock(t *testing.T) {
	q := &flakyQueue{failures: 1}
	pol := ports.Policy{OnQueueFull: "block", IdleSleep: time.Millisecond}

	if err := enqueueWithPolicy(context.Background(), q, 1, &domain.Batch{}, pol, &mockObs{}); err != nil {
		t.Fatalf("expected enqueue to eventually succeed, got %v", err)
	}
	if q.calls != 2 {
		t.Fatalf("expected two enqueue attempts, got %d", q.calls)
	}
}

func TestEnqueueWithPolicyReject(t *testing.T) {
	q := &flakyQueue{failAlways: true}
	obs := &mockObs{}
	err := enqueueWithPolicy(context.Background(), q, 1, &domain.Batch{}, ports.Policy{OnQueueFull: "reject"}, obs)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if len(obs.errorList()) == 0 {
		t.Fatalf("expected rejection to be logged")
	}
}

func TestEdgeSubmitAndReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := wal.NewFileWAL(dir)
	if err != nil {
		t.Fatalf("wal: %v", err)
	}
	pol := ports.Policy{MaxQueueLen: 1, OnQueueFull: "reject"}
	obs := &mockObs{}
	edge := NewEdge(w, queue.NewMemQueue(1), pol, obs)

	if _, err := edge.Submit(context.Background(), &domain.Batch{SensorID: "S1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := edge.Submit(context.Background(), &domain.Batch{SensorID: "S2"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}
	if obs.counter("aarma_queue_dropped_total") != 1 {
		t.Fatalf("expected drop to be counted")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Both entries are uncommitted, so a fresh process replays both.
	w2, err := wal.NewFileWAL(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w2.Close()
	q2 := queue.NewMemQueue(10)
	n, err := NewEdge(w2, q2, pol, obs).Replay(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("expected 2 replayed, got %d err=%v", n, err)
	}
	items := q2.DequeueBatch(0)
	if items[0].Batch.SensorID != "S1" || items[1].Batch.SensorID != "S2" {
		t.Fatalf("replay out of order: %+v", items)
	}
}

func TestEdgeRunStopsWhenInputCloses(t *testing.T) {
	w, err := wal.NewFileWAL(t.TempDir())
	if err != nil {
		t.Fatalf("wal: %v", err)
	}
	defer w.Close()
	q := queue.NewMemQueue(10)
	in := make(chan *domain.Batch, 2)
	in <- &domain.Batch{SensorID: "S1"}
	in <- &domain.Batch{SensorID: "S2"}
	close(in)

	NewEdge(w, q, ports.Policy{OnQueueFull: "block"}, &mockObs{}).Run(context.Background(), in)
	if q.Len() != 2 {
		t.Fatalf("expected 2 queued batches, got %d", q.Len())
	}
}

type sizeWAL struct {
	ports.WAL
	sizes []int64
	calls int
}

func (m *sizeWAL) Stats() ports.WALStats {
	idx := m.calls
	if idx >= len(m.sizes) {
		idx = len(m.sizes) - 1
	}
	m.calls++
	return ports.WALStats{SizeBytes: m.sizes[idx]}
}

type flakyQueue struct {
	failures   int32
	failAlways bool
	calls      int
}

func (m *flakyQueue) Enqueue(ports.WALEntryID, *domain.Batch) bool {
	m.calls++
	if m.failAlways {
		return false
	}
	if atomic.LoadInt32(&m.failures) > 0 {
		atomic.AddInt32(&m.failures, -1)
		return false
	}
	return true
}

func (m *flakyQueue) DequeueBatch(int) []ports.QueuedBatch { return nil }
func (m *flakyQueue) Len() int                             { return 0 }
func (m *flakyQueue) Ready() <-chan struct{}               { return nil }

type mockObs struct {
	mu       sync.Mutex
	errors   []error
	counters map[string]float64
	dlq      []ports.WALEntryID
}

func (m *mockObs) LogInfo(string, ...ports.Field) {}
func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
}
func (m *mockObs) LogCritical(string, error, ...ports.Field) {}
func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]float64{}
	}
	m.counters[name] += v
}
func (m *mockObs) ObserveLatency(string, float64) {}
func (m *mockObs) SetGauge(string, float64)       {}
func (m *mockObs) RecordDLQ(id ports.WALEntryID, _ *domain.Batch, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq = append(m.dlq, id)
}

func (m *mockObs) errorList() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.errors...)
}

func (m *mockObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func (m *mockObs) dlqIDs() []ports.WALEntryID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.WALEntryID(nil), m.dlq...)
}
