package aarma

import (
	base "github.com/parthCJ/Aarma-be/pkg/aarma"
)

// Re-exported errors for convenience.
var (
	ErrValidation          = base.ErrValidation
	ErrUpstreamUnavailable = base.ErrUpstreamUnavailable
	ErrSensorNotFound      = base.ErrSensorNotFound
	ErrNotFound            = base.ErrNotFound
)

// Type aliases so consumers can import github.com/parthCJ/Aarma-be directly.
type (
	Config          = base.Config
	Policy          = base.Policy
	IngestConfig    = base.IngestConfig
	StoreConfig     = base.StoreConfig
	MQTTConfig      = base.MQTTConfig
	OPCUAConfig     = base.OPCUAConfig
	OPCUANodeConfig = base.OPCUANodeConfig
	HTTPConfig      = base.HTTPConfig
	MetricsConfig   = base.MetricsConfig
	WALConfig       = base.WALConfig
	LogConfig       = base.LogConfig
	Flow            = base.Flow
	FlowOption      = base.FlowOption
	StreamInOption  = base.StreamInOption
	StreamOutOption = base.StreamOutOption
	Runtime         = base.Runtime
	RuntimeOption   = base.RuntimeOption
	Batch           = base.Batch
	Channel         = base.Channel
	Sensor          = base.Sensor
	Result          = base.Result
	Collector       = base.Collector
	ReadingStore    = base.ReadingStore
	ReadingQuerier  = base.ReadingQuerier
	ReadingFilter   = base.ReadingFilter
	SensorRegistry  = base.SensorRegistry
	BatchQueue      = base.BatchQueue
	WAL             = base.WAL
	Observability   = base.Observability
	Field           = base.Field
	WALEntryID      = base.WALEntryID
	WALStats        = base.WALStats
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInCollector(col Collector) StreamInOption {
	return base.StreamInCollector(col)
}

func StreamInQueue(q BatchQueue) StreamInOption {
	return base.StreamInQueue(q)
}

func StreamInWAL(w WAL) StreamInOption {
	return base.StreamInWAL(w)
}

func StreamOutStore(s ReadingStore) StreamOutOption {
	return base.StreamOutStore(s)
}

func StreamOutRegistry(r SensorRegistry) StreamOutOption {
	return base.StreamOutRegistry(r)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutAcceptUnregistered() StreamOutOption {
	return base.StreamOutAcceptUnregistered()
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithCollector(col Collector) RuntimeOption {
	return base.WithCollector(col)
}

func WithStore(s ReadingStore) RuntimeOption {
	return base.WithStore(s)
}

func WithRegistry(r SensorRegistry) RuntimeOption {
	return base.WithRegistry(r)
}

func WithWAL(w WAL) RuntimeOption {
	return base.WithWAL(w)
}

func WithQueue(q BatchQueue) RuntimeOption {
	return base.WithQueue(q)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}
