// Package observability reports Aarma metrics to Prometheus and logs to slog.
package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

// Metric names shared by the pipeline, the coordinator and the runtime.
const (
	BatchesReceived  = "aarma_batches_received_total"
	BatchesPersisted = "aarma_batches_persisted_total"
	BatchesSkipped   = "aarma_batches_skipped_total"
	ChannelsDropped  = "aarma_channels_dropped_total"
	IngestFailures   = "aarma_ingest_failures_total"
	DLQTotal         = "aarma_dlq_total"
	IngestStalled    = "aarma_ingest_stalled_total"
	QueueDropped     = "aarma_queue_dropped_total"
	WALSizeBytes     = "aarma_wal_size_bytes"
	QueueLength      = "aarma_queue_length"
	IngestLatency    = "aarma_ingest_latency_seconds"
)

type PromObs struct {
	log      *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the Aarma collectors on reg. A nil reg uses the
// default registerer; a nil logger uses slog.Default.
func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = slog.Default()
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	p := &PromObs{
		log: logger,
		counters: map[string]prometheus.Counter{
			BatchesReceived:  counter(BatchesReceived, "Batches submitted to the ingestion coordinator."),
			BatchesPersisted: counter(BatchesPersisted, "Batches written to the reading store."),
			BatchesSkipped:   counter(BatchesSkipped, "Batches with no significant change."),
			ChannelsDropped:  counter(ChannelsDropped, "Channels filtered out as insignificant."),
			IngestFailures:   counter(IngestFailures, "Ingest calls that returned an error."),
			DLQTotal:         counter(DLQTotal, "Batches abandoned after validation failure."),
			IngestStalled:    counter(IngestStalled, "Batches held for a later round after upstream retries ran out."),
			QueueDropped:     counter(QueueDropped, "Batches lost to queue backpressure policies."),
		},
		gauges: map[string]prometheus.Gauge{
			WALSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{Name: WALSizeBytes, Help: "Size of the WAL on disk."}),
			QueueLength:  prometheus.NewGauge(prometheus.GaugeOpts{Name: QueueLength, Help: "Batches buffered in the in-memory queue."}),
		},
	}
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    IngestLatency,
		Help:    "Duration of a successful ingest call.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	p.histos = map[string]prometheus.Observer{IngestLatency: latency}

	collectors := []prometheus.Collector{latency}
	for _, c := range p.counters {
		collectors = append(collectors, c)
	}
	for _, g := range p.gauges {
		collectors = append(collectors, g)
	}
	reg.MustRegister(collectors...)
	return p
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), slog.Any("err", err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), slog.Any("err", err), slog.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok && v > 0 {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) RecordDLQ(id ports.WALEntryID, b *domain.Batch, err error) {
	p.IncCounter(DLQTotal, 1)
	args := []any{slog.Uint64("wal_id", uint64(id)), slog.Any("err", err)}
	if b != nil {
		args = append(args, slog.String("sensor_id", b.SensorID), slog.Int("channels", len(b.Channels)))
	}
	p.log.Warn("batch_dead_lettered", args...)
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
