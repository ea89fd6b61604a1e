package aarma

import (
	"context"
	"errors"
)

var errNoFlow = errors.New("flow is nil")

// Flow is the short path from a config file to a running Runtime:
//
//	aarma.Conf(path).StreamIN(sources...).Run(ctx, sinks...)
//
// Intake overrides (collectors, WAL, queue) and persistence overrides
// (store, registry, metrics) are kept apart and handed to NewRuntime in that
// order.
type Flow struct {
	cfg *Config
	in  []RuntimeOption
	out []RuntimeOption
}

type FlowOption func(*Flow)

// StreamInOption adds a batch source or replaces the WAL or queue.
type StreamInOption func(*Flow)

// StreamOutOption replaces where accepted batches and sensors are kept.
type StreamOutOption func(*Flow)

// Conf reads the YAML config at path.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// StreamOUT builds the Runtime. It does not start it.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Runtime, error) {
	if f == nil {
		return nil, errNoFlow
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	all := make([]RuntimeOption, 0, len(f.in)+len(f.out))
	all = append(all, f.in...)
	all = append(all, f.out...)
	return NewRuntime(f.cfg, all...)
}

// Run builds the Runtime and blocks until ctx is cancelled.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

// WithFlowOptions passes RuntimeOptions straight through, e.g. WithLogger.
func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) {
		if f != nil {
			f.in = appendSet(f.in, opts...)
		}
	}
}

// StreamInCollector adds a source next to the MQTT and OPC UA collectors
// built from config.
func StreamInCollector(col Collector) StreamInOption {
	return intake(col != nil, func() RuntimeOption { return WithCollector(col) })
}

func StreamInQueue(q BatchQueue) StreamInOption {
	return intake(q != nil, func() RuntimeOption { return WithQueue(q) })
}

func StreamInWAL(w WAL) StreamInOption {
	return intake(w != nil, func() RuntimeOption { return WithWAL(w) })
}

// StreamOutStore keeps batches in s instead of store.driver. Filter queries
// are served only when s also implements ReadingQuerier.
func StreamOutStore(s ReadingStore) StreamOutOption {
	return persist(s != nil, func() RuntimeOption { return WithStore(s) })
}

func StreamOutRegistry(r SensorRegistry) StreamOutOption {
	return persist(r != nil, func() RuntimeOption { return WithRegistry(r) })
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return persist(obs != nil, func() RuntimeOption { return WithObservability(obs) })
}

// StreamOutAcceptUnregistered turns off the registry check so batches from
// unknown sensors are evaluated and stored.
func StreamOutAcceptUnregistered() StreamOutOption {
	return func(f *Flow) {
		if f != nil && f.cfg != nil {
			off := false
			f.cfg.Ingest.RequireRegisteredSensor = &off
		}
	}
}

func intake(ok bool, opt func() RuntimeOption) StreamInOption {
	return func(f *Flow) {
		if f != nil && ok {
			f.in = appendSet(f.in, opt())
		}
	}
}

func persist(ok bool, opt func() RuntimeOption) StreamOutOption {
	return func(f *Flow) {
		if f != nil && ok {
			f.out = appendSet(f.out, opt())
		}
	}
}

func appendSet(dst []RuntimeOption, opts ...RuntimeOption) []RuntimeOption {
	for _, opt := range opts {
		if opt != nil {
			dst = append(dst, opt)
		}
	}
	return dst
}
