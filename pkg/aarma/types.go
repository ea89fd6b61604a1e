package aarma

import (
	"github.com/parthCJ/Aarma-be/internal/core/ingest"
	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

// Batch is one sensor transmission: every channel reported at once.
type Batch = domain.Batch

// Channel is one named measurement inside a Batch.
type Channel = domain.Channel

// Sensor is a registry entry.
type Sensor = domain.Sensor

// Collector streams batches from any field transport into the pipeline.
type Collector = ports.Collector

// ReadingStore persists batches and answers latest-batch lookups.
type ReadingStore = ports.ReadingStore

// ReadingQuerier serves the filter API.
type ReadingQuerier = ports.ReadingQuerier

// ReadingFilter narrows a ReadingQuerier lookup.
type ReadingFilter = ports.ReadingFilter

// SensorRegistry manages sensor registration.
type SensorRegistry = ports.SensorRegistry

// BatchQueue decouples collectors from ingest workers.
type BatchQueue = ports.BatchQueue

// Observability emits metrics and logs about throughput, latency and DLQ conditions.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// WAL abstracts the write-ahead log used for durability and crash recovery.
type WAL = ports.WAL

type (
	WALStats   = ports.WALStats
	WALEntryID = ports.WALEntryID
)

// Result is the outcome of one synchronous ingest call.
type Result = ingest.Result

var (
	ErrValidation          = domain.ErrValidation
	ErrUpstreamUnavailable = domain.ErrUpstreamUnavailable
	ErrSensorNotFound      = domain.ErrSensorNotFound
	ErrNotFound            = domain.ErrNotFound
)
