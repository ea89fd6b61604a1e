package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parthCJ/Aarma-be/internal/core/change"
	"github.com/parthCJ/Aarma-be/internal/domain"
)

type stubStore struct {
	mu        sync.Mutex
	batches   map[string][]*domain.Batch
	latestErr error
	putErr    error
	latestN   int
	puts      int
}

func newStubStore() *stubStore {
	return &stubStore{batches: make(map[string][]*domain.Batch)}
}

func (s *stubStore) Latest(_ context.Context, sensorID string) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestN++
	if s.latestErr != nil {
		return nil, s.latestErr
	}
	list := s.batches[sensorID]
	if len(list) == 0 {
		return nil, domain.ErrNotFound
	}
	return list[len(list)-1].Clone(), nil
}

func (s *stubStore) Put(_ context.Context, b *domain.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.putErr != nil {
		return s.putErr
	}
	s.batches[b.SensorID] = append(s.batches[b.SensorID], b.Clone())
	return nil
}

func (s *stubStore) Name() string { return "stub" }

type stubDirectory struct {
	active map[string]bool
	err    error
}

func (d stubDirectory) ExistsActive(_ context.Context, id string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	return d.active[id], nil
}

func fixedClock() func() time.Time {
	ts := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func newCoordinator(t *testing.T, store *stubStore, opts ...Option) *Coordinator {
	t.Helper()
	eval, err := change.NewEvaluator(change.DefaultThreshold)
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}
	opts = append([]Option{WithClock(fixedClock()), WithIDGenerator(func() string { return "b-1" })}, opts...)
	c, err := New(store, eval, opts...)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c
}

func batch(sensorID string, channels ...domain.Channel) *domain.Batch {
	return &domain.Batch{SensorID: sensorID, DeviceID: "DEV001", Channels: channels}
}

func ch(name string, v float64) domain.Channel {
	return domain.Channel{Name: name, Status: "OK", Value: v, Unit: "C"}
}

func TestIngestFirstBatchPersistsEverything(t *testing.T) {
	store := newStubStore()
	c := newCoordinator(t, store)

	res, err := c.Ingest(context.Background(), batch("S1", ch("Temp", 20.0), ch("Humidity", 50.0)))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.Persisted || !res.FirstSeen || res.Stage != StageDone {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Batch.Channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(res.Batch.Channels))
	}
	if res.Batch.ID != "b-1" || !res.Batch.CapturedAt.Equal(fixedClock()()) {
		t.Fatalf("expected stamped batch, got %+v", res.Batch)
	}
	if store.puts != 1 {
		t.Fatalf("expected 1 put, got %d", store.puts)
	}
}

func TestIngestKeepsOnlySignificantChannels(t *testing.T) {
	store := newStubStore()
	store.batches["S1"] = []*domain.Batch{batch("S1", ch("Temp", 20.0), ch("Humidity", 50.0))}
	c := newCoordinator(t, store)

	res, err := c.Ingest(context.Background(), batch("S1", ch("Temp", 26.0), ch("Humidity", 52.0)))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.Persisted || res.Evaluated != 2 || res.Kept != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	got := res.Batch.Channels
	if len(got) != 1 || got[0].Name != "Temp" || got[0].Value != 26.0 {
		t.Fatalf("expected only Temp=26, got %+v", got)
	}
	if store.batches["S1"][1].Channels[0].Name != "Temp" {
		t.Fatalf("stored batch does not match result")
	}
}

func TestIngestSkipsWhenNothingChanged(t *testing.T) {
	store := newStubStore()
	store.batches["S1"] = []*domain.Batch{batch("S1", ch("Temp", 20.0))}
	c := newCoordinator(t, store)

	res, err := c.Ingest(context.Background(), batch("S1", ch("Temp", 22.0)))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Persisted || res.Reason != ReasonNoSignificantChange || res.Stage != StageSkipped {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Batch != nil {
		t.Fatalf("skipped result must not carry a batch")
	}
	if store.puts != 0 {
		t.Fatalf("expected no writes, got %d", store.puts)
	}
}

func TestIngestNewChannelIsAlwaysKept(t *testing.T) {
	store := newStubStore()
	store.batches["S1"] = []*domain.Batch{batch("S1", ch("Temp", 20.0))}
	c := newCoordinator(t, store)

	res, err := c.Ingest(context.Background(), batch("S1", ch("Temp", 20.0), ch("Pressure", 1.0)))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.Persisted || len(res.Batch.Channels) != 1 || res.Batch.Channels[0].Name != "Pressure" {
		t.Fatalf("expected only Pressure, got %+v", res.Batch)
	}
}

func TestIngestComparesAgainstLatestBatchOnly(t *testing.T) {
	store := newStubStore()
	// Humidity is missing from the latest batch, so it counts as new.
	store.batches["S1"] = []*domain.Batch{
		batch("S1", ch("Temp", 20.0), ch("Humidity", 50.0)),
		batch("S1", ch("Temp", 30.0)),
	}
	c := newCoordinator(t, store)

	res, err := c.Ingest(context.Background(), batch("S1", ch("Temp", 31.0), ch("Humidity", 50.0)))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(res.Batch.Channels) != 1 || res.Batch.Channels[0].Name != "Humidity" {
		t.Fatalf("expected only Humidity, got %+v", res.Batch.Channels)
	}
}

func TestIngestIsIdempotentForRepeatedBatch(t *testing.T) {
	store := newStubStore()
	c := newCoordinator(t, store)
	in := batch("S1", ch("Temp", 20.0))

	if _, err := c.Ingest(context.Background(), in); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	res, err := c.Ingest(context.Background(), in)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if res.Persisted || store.puts != 1 {
		t.Fatalf("expected second submission to be skipped, puts=%d res=%+v", store.puts, res)
	}
}

func TestIngestValidationNeverTouchesStore(t *testing.T) {
	cases := map[string]*domain.Batch{
		"nil batch":      nil,
		"empty sensor":   batch("", ch("Temp", 1)),
		"empty readings": batch("S1"),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			store := newStubStore()
			c := newCoordinator(t, store)
			res, err := c.Ingest(context.Background(), in)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if domain.Retriable(err) {
				t.Fatalf("validation errors must not be retriable")
			}
			if res.Stage != StageFailed || res.FailedAt != StageValidating {
				t.Fatalf("unexpected stages: %+v", res)
			}
			if store.latestN != 0 || store.puts != 0 {
				t.Fatalf("store must not be touched, latest=%d puts=%d", store.latestN, store.puts)
			}
		})
	}
}

func TestIngestLatestFailureIsRetriable(t *testing.T) {
	store := newStubStore()
	store.latestErr = errors.New("connection refused")
	c := newCoordinator(t, store)

	res, err := c.Ingest(context.Background(), batch("S1", ch("Temp", 20.0)))
	if !errors.Is(err, domain.ErrUpstreamUnavailable) || !domain.Retriable(err) {
		t.Fatalf("expected upstream unavailable, got %v", err)
	}
	if res.FailedAt != StageFetchingBaseline {
		t.Fatalf("expected failure at baseline fetch, got %+v", res)
	}
	if store.puts != 0 {
		t.Fatalf("no write may be attempted when the baseline is unknown")
	}
}

func TestIngestPutFailureIsRetriable(t *testing.T) {
	store := newStubStore()
	store.putErr = errors.New("disk full")
	c := newCoordinator(t, store)

	res, err := c.Ingest(context.Background(), batch("S1", ch("Temp", 20.0)))
	if !domain.Retriable(err) {
		t.Fatalf("expected retriable error, got %v", err)
	}
	if res.Persisted || res.FailedAt != StagePersisting {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestIngestDuplicateBaselineNamesUseFirstOccurrence(t *testing.T) {
	store := newStubStore()
	store.batches["S1"] = []*domain.Batch{batch("S1", ch("Temp", 20.0), ch("Temp", 40.0))}
	c := newCoordinator(t, store)

	res, err := c.Ingest(context.Background(), batch("S1", ch("Temp", 22.0), ch("Temp", 26.0)))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(res.Batch.Channels) != 1 || res.Batch.Channels[0].Value != 26.0 {
		t.Fatalf("expected only Temp=26 kept, got %+v", res.Batch.Channels)
	}
}

func TestIngestDirectoryRejectsUnknownSensor(t *testing.T) {
	store := newStubStore()
	c := newCoordinator(t, store, WithDirectory(stubDirectory{active: map[string]bool{"S1": true}}))

	_, err := c.Ingest(context.Background(), batch("S2", ch("Temp", 20.0)))
	if !errors.Is(err, domain.ErrSensorNotFound) || !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected sensor not found, got %v", err)
	}
	if store.latestN != 0 {
		t.Fatalf("store must not be read for unknown sensors")
	}

	if _, err := c.Ingest(context.Background(), batch("S1", ch("Temp", 20.0))); err != nil {
		t.Fatalf("active sensor rejected: %v", err)
	}
}

func TestIngestDirectoryFailureIsRetriable(t *testing.T) {
	store := newStubStore()
	c := newCoordinator(t, store, WithDirectory(stubDirectory{err: errors.New("timeout")}))

	_, err := c.Ingest(context.Background(), batch("S1", ch("Temp", 20.0)))
	if !domain.Retriable(err) {
		t.Fatalf("expected retriable error, got %v", err)
	}
}

func TestIngestDoesNotMutateInput(t *testing.T) {
	store := newStubStore()
	store.batches["S1"] = []*domain.Batch{batch("S1", ch("Temp", 20.0), ch("Humidity", 50.0))}
	c := newCoordinator(t, store)

	in := batch("S1", ch("Temp", 30.0), ch("Humidity", 50.0))
	if _, err := c.Ingest(context.Background(), in); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(in.Channels) != 2 || in.ID != "" || !in.CapturedAt.IsZero() {
		t.Fatalf("input batch mutated: %+v", in)
	}
}

func TestNewRequiresStore(t *testing.T) {
	eval, _ := change.NewEvaluator(change.DefaultThreshold)
	if _, err := New(nil, eval); err == nil {
		t.Fatalf("expected error for nil store")
	}
}

func TestSerializedOrdersSameSensor(t *testing.T) {
	store := newStubStore()
	eval, _ := change.NewEvaluator(change.DefaultThreshold)
	c, err := New(store, eval)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s := NewSerialized(c)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Ingest(context.Background(), batch("S1", ch("Temp", 20.0))); err != nil {
				t.Errorf("ingest: %v", err)
			}
		}()
	}
	wg.Wait()

	// Without serialization several goroutines could all see an empty
	// baseline and persist the same first batch.
	if got := len(store.batches["S1"]); got != 1 {
		t.Fatalf("expected exactly 1 persisted batch, got %d", got)
	}
	if s.locks.Held() != 0 {
		t.Fatalf("expected keyed locks to be released")
	}
}
