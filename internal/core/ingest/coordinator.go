// Package ingest turns one incoming batch into zero or one persisted batch,
// keeping only the channels whose value changed significantly since the
// sensor's most recent persisted batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parthCJ/Aarma-be/internal/core/change"
	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

// Stage names the step an Ingest call ended in.
type Stage string

const (
	StageReceived         Stage = "received"
	StageValidating       Stage = "validating"
	StageFetchingBaseline Stage = "fetching_baseline"
	StageEvaluating       Stage = "evaluating"
	StageSkipped          Stage = "skipped"
	StagePersisting       Stage = "persisting"
	StageDone             Stage = "done"
	StageFailed           Stage = "failed"
)

// ReasonNoSignificantChange is reported when every channel was filtered out.
const ReasonNoSignificantChange = "no significant change"

// Result describes the outcome of one Ingest call. Batch is set only when
// Persisted is true. FailedAt is set only alongside a returned error.
type Result struct {
	Persisted bool
	Reason    string
	Batch     *domain.Batch
	FirstSeen bool
	Evaluated int
	Kept      int
	Stage     Stage
	FailedAt  Stage
}

// Ingester is the inbound port used by transports.
type Ingester interface {
	Ingest(ctx context.Context, b *domain.Batch) (Result, error)
}

// Coordinator holds only injected collaborators; every Ingest call is
// independent. It never retries: callers resubmit on retriable errors.
type Coordinator struct {
	store     ports.ReadingStore
	directory ports.SensorDirectory
	eval      change.Evaluator
	now       func() time.Time
	newID     func() string
	obs       ports.Observability
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithDirectory enables the registered-and-active sensor check.
func WithDirectory(d ports.SensorDirectory) Option {
	return func(c *Coordinator) {
		c.directory = d
	}
}

// WithClock overrides the captured_at source for persisted batches.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator overrides batch id generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithObservability reports ingest metrics and failures.
func WithObservability(obs ports.Observability) Option {
	return func(c *Coordinator) {
		if obs != nil {
			c.obs = obs
		}
	}
}

// New returns a Coordinator over store. Without WithDirectory every sensor
// id is accepted.
func New(store ports.ReadingStore, eval change.Evaluator, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("reading store is required")
	}
	c := &Coordinator{
		store: store,
		eval:  eval,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
		obs:   nopObs{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Ingest runs validate → fetch baseline → evaluate → persist-if-nonempty.
// The caller's context is passed to the store; a write already issued may
// still complete after the caller gives up.
func (c *Coordinator) Ingest(ctx context.Context, b *domain.Batch) (Result, error) {
	start := time.Now()
	c.obs.IncCounter("aarma_batches_received_total", 1)

	res, err := c.ingest(ctx, b)
	if err != nil {
		res.FailedAt = res.Stage
		res.Stage = StageFailed
		c.obs.IncCounter("aarma_ingest_failures_total", 1)
		fields := []ports.Field{{Key: "stage", Value: string(res.FailedAt)}}
		if b != nil {
			fields = append(fields, ports.Field{Key: "sensor_id", Value: b.SensorID})
		}
		c.obs.LogError("ingest_failed", err, fields...)
		return res, err
	}

	c.obs.ObserveLatency("aarma_ingest_latency_seconds", time.Since(start).Seconds())
	c.obs.IncCounter("aarma_channels_dropped_total", float64(res.Evaluated-res.Kept))
	if res.Persisted {
		c.obs.IncCounter("aarma_batches_persisted_total", 1)
	} else {
		c.obs.IncCounter("aarma_batches_skipped_total", 1)
	}
	return res, nil
}

func (c *Coordinator) ingest(ctx context.Context, b *domain.Batch) (Result, error) {
	res := Result{Stage: StageValidating}
	if err := Validate(b); err != nil {
		return res, err
	}

	if c.directory != nil {
		if err := CheckSensor(ctx, c.directory, b.SensorID); err != nil {
			return res, err
		}
	}

	res.Stage = StageFetchingBaseline
	baseline, err := c.store.Latest(ctx, b.SensorID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		baseline = nil
		res.FirstSeen = true
	case err != nil:
		return res, domain.NewUpstreamError("fetch latest batch", err)
	case baseline == nil:
		res.FirstSeen = true
	}

	res.Stage = StageEvaluating
	kept := Filter(c.eval, b.Channels, baseline)
	res.Evaluated = len(b.Channels)
	res.Kept = len(kept)

	if len(kept) == 0 {
		res.Stage = StageSkipped
		res.Reason = ReasonNoSignificantChange
		return res, nil
	}

	res.Stage = StagePersisting
	out := &domain.Batch{
		ID:         c.newID(),
		SensorID:   b.SensorID,
		DeviceID:   b.DeviceID,
		CapturedAt: c.now(),
		Channels:   kept,
	}
	if err := c.store.Put(ctx, out); err != nil {
		return res, domain.NewUpstreamError("persist batch", err)
	}

	res.Stage = StageDone
	res.Persisted = true
	res.Batch = out
	return res, nil
}

// Filter returns the channels of incoming that are significant against
// baseline, in their original order. The first occurrence of a name in
// baseline is used; duplicates in incoming are evaluated independently.
func Filter(eval change.Evaluator, incoming []domain.Channel, baseline *domain.Batch) []domain.Channel {
	var previous map[string]*domain.Channel
	if baseline != nil {
		previous = make(map[string]*domain.Channel, len(baseline.Channels))
		for i := range baseline.Channels {
			ch := &baseline.Channels[i]
			if _, seen := previous[ch.Name]; !seen {
				previous[ch.Name] = ch
			}
		}
	}

	kept := make([]domain.Channel, 0, len(incoming))
	for _, ch := range incoming {
		if eval.Significant(ch, previous[ch.Name]) {
			kept = append(kept, ch)
		}
	}
	return kept
}

// Validate applies the structural checks Ingest performs before touching any
// collaborator.
func Validate(b *domain.Batch) error {
	if b == nil {
		return domain.NewValidationError("batch", "is required")
	}
	if b.SensorID == "" {
		return domain.NewValidationError("sensor_id", "is required")
	}
	if len(b.Channels) == 0 {
		return domain.NewValidationError("readings", "must contain at least one channel")
	}
	return nil
}

type nopObs struct{}

func (nopObs) LogInfo(string, ...ports.Field)                   {}
func (nopObs) LogError(string, error, ...ports.Field)           {}
func (nopObs) LogCritical(string, error, ...ports.Field)        {}
func (nopObs) IncCounter(string, float64)                       {}
func (nopObs) ObserveLatency(string, float64)                   {}
func (nopObs) SetGauge(string, float64)                         {}
func (nopObs) RecordDLQ(ports.WALEntryID, *domain.Batch, error) {}

var _ Ingester = (*Coordinator)(nil)

// CheckSensor returns a validation error wrapping ErrSensorNotFound when
// sensorID is not active in dir, or an upstream error when the lookup fails.
func CheckSensor(ctx context.Context, dir ports.SensorDirectory, sensorID string) error {
	ok, err := dir.ExistsActive(ctx, sensorID)
	if err != nil {
		return domain.NewUpstreamError("sensor directory lookup", err)
	}
	if !ok {
		return &domain.ValidationError{
			Field:  "sensor_id",
			Reason: fmt.Sprintf("%q is not registered or inactive", sensorID),
			Err:    domain.ErrSensorNotFound,
		}
	}
	return nil
}
