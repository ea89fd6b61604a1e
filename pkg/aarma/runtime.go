package aarma

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/parthCJ/Aarma-be/internal/adapters/directory/memory"
	pgdirectory "github.com/parthCJ/Aarma-be/internal/adapters/directory/postgres"
	"github.com/parthCJ/Aarma-be/internal/adapters/httpapi"
	"github.com/parthCJ/Aarma-be/internal/adapters/mqtt"
	"github.com/parthCJ/Aarma-be/internal/adapters/observability"
	"github.com/parthCJ/Aarma-be/internal/adapters/opcua"
	"github.com/parthCJ/Aarma-be/internal/adapters/queue"
	"github.com/parthCJ/Aarma-be/internal/adapters/store/dynamo"
	memstore "github.com/parthCJ/Aarma-be/internal/adapters/store/memory"
	pebblestore "github.com/parthCJ/Aarma-be/internal/adapters/store/pebble"
	pgstore "github.com/parthCJ/Aarma-be/internal/adapters/store/postgres"
	"github.com/parthCJ/Aarma-be/internal/adapters/store/rediscache"
	"github.com/parthCJ/Aarma-be/internal/adapters/wal"
	"github.com/parthCJ/Aarma-be/internal/app/pipeline"
	"github.com/parthCJ/Aarma-be/internal/core/change"
	"github.com/parthCJ/Aarma-be/internal/core/ingest"
	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	collectors    []Collector
	store         ReadingStore
	registry      SensorRegistry
	wal           WAL
	queue         BatchQueue
	observability Observability
	registerer    *prometheus.Registry
	logger        *slog.Logger
}

// WithCollector adds a collector next to the ones built from config (MQTT,
// OPC UA). It may be given more than once.
func WithCollector(col Collector) RuntimeOption {
	return func(o *runtimeOverrides) {
		if col != nil {
			o.collectors = append(o.collectors, col)
		}
	}
}

// WithStore replaces the configured reading store. If s also implements
// ReadingQuerier the filter endpoint is served from it.
func WithStore(s ReadingStore) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.store = s
	}
}

// WithRegistry replaces the configured sensor registry.
func WithRegistry(r SensorRegistry) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.registry = r
	}
}

// WithWAL lets callers bring their own WAL implementation.
func WithWAL(w WAL) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.wal = w
	}
}

// WithQueue injects a custom queue implementation.
func WithQueue(q BatchQueue) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.queue = q
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithPrometheusRegistry registers the default metrics on reg and serves it
// on the metrics endpoint. Without it a fresh registry is used.
func WithPrometheusRegistry(reg *prometheus.Registry) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.registerer = reg
	}
}

func WithLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.logger = l
	}
}

// Runtime wires collectors → WAL → queue → ingest workers → store, serves
// the HTTP API next to them, and exposes lifecycle hooks for embedding Aarma
// in any Go service.
type Runtime struct {
	cfg        *Config
	log        *slog.Logger
	obs        ports.Observability
	store      ports.ReadingStore
	querier    ports.ReadingQuerier
	registry   ports.SensorRegistry
	ingester   ingest.Ingester
	wal        ports.WAL
	queue      ports.BatchQueue
	edge       *pipeline.Edge
	ingest     *pipeline.Ingest
	collectors []ports.Collector
	handler    http.Handler
	httpSrv    *http.Server
	metricsSrv *observability.MetricsServer
	closers    []func() error

	in         chan *domain.Batch
	httpAddr   net.Addr
	edgeCancel context.CancelFunc
	runCancel  context.CancelFunc
	edgeDone   chan struct{}
	workers    sync.WaitGroup
	started    bool
	walClosed  bool
}

// NewRuntime builds every adapter named by cfg. Options override any of them.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	rt := &Runtime{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = rt.closeResources()
		}
	}()

	rt.log = overrides.logger
	if rt.log == nil {
		l, err := observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, err
		}
		rt.log = l
	}

	reg := overrides.registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	rt.obs = overrides.observability
	if rt.obs == nil {
		rt.obs = observability.NewPromObs(reg, rt.log)
	}
	rt.metricsSrv = observability.NewMetricsServer(cfg.Metrics.Addr, reg, rt.log)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout(cfg))
	defer cancel()

	var (
		db  *sql.DB
		err error
	)
	if overrides.store != nil {
		rt.store = overrides.store
		rt.querier, _ = overrides.store.(ports.ReadingQuerier)
	} else {
		db, err = rt.buildStore(ctx)
		if err != nil {
			return nil, err
		}
	}

	rt.registry = overrides.registry
	if rt.registry == nil {
		if rt.registry, err = rt.buildRegistry(ctx, db); err != nil {
			return nil, err
		}
	}

	eval, err := change.NewEvaluator(cfg.Threshold())
	if err != nil {
		return nil, err
	}
	copts := []ingest.Option{ingest.WithObservability(rt.obs)}
	if cfg.RegisteredSensorsOnly() {
		copts = append(copts, ingest.WithDirectory(rt.registry))
	}
	coord, err := ingest.New(boundedStore{rt.store, cfg.Store.Timeout}, eval, copts...)
	if err != nil {
		return nil, err
	}
	rt.ingester = ingest.NewSerialized(coord)

	rt.wal = overrides.wal
	if rt.wal == nil {
		var walOpts []wal.Option
		if cfg.WAL.SyncOnAppend {
			walOpts = append(walOpts, wal.WithSyncOnAppend())
		}
		fw, err := wal.NewFileWAL(cfg.WAL.Dir, walOpts...)
		if err != nil {
			return nil, err
		}
		rt.wal = fw
	}

	rt.queue = overrides.queue
	if rt.queue == nil {
		rt.queue = queue.NewMemQueue(cfg.Policy.MaxQueueLen)
	}

	rt.edge = pipeline.NewEdge(rt.wal, rt.queue, cfg.Policy, rt.obs)
	rt.ingest = pipeline.NewIngest(rt.wal, rt.queue, rt.ingester, cfg.Policy, rt.obs)

	if cfg.MQTT != nil {
		col, err := mqtt.NewCollector(*cfg.MQTT, rt.log)
		if err != nil {
			return nil, err
		}
		rt.collectors = append(rt.collectors, col)
	}
	if cfg.OPCUA != nil {
		col, err := opcua.NewCollector(*cfg.OPCUA, rt.log)
		if err != nil {
			return nil, err
		}
		rt.collectors = append(rt.collectors, col)
	}
	rt.collectors = append(rt.collectors, overrides.collectors...)

	hopts := []httpapi.Option{
		httpapi.WithRegistry(rt.registry),
		httpapi.WithSubmitter(edgeSubmitter{rt.edge}),
		httpapi.WithLogger(rt.log),
		httpapi.WithRequestTimeout(cfg.HTTP.RequestTimeout),
	}
	if rt.querier != nil {
		hopts = append(hopts, httpapi.WithQuerier(rt.querier))
	}
	if cfg.RegisteredSensorsOnly() {
		hopts = append(hopts, httpapi.WithDirectory(rt.registry))
	}
	rt.handler = httpapi.New(rt.ingester, boundedStore{rt.store, cfg.Store.Timeout}, hopts...)
	rt.httpSrv = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           rt.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ok = true
	return rt, nil
}

func connectTimeout(cfg *Config) time.Duration {
	if cfg.Store.Timeout > 0 {
		return 2 * cfg.Store.Timeout
	}
	return 10 * time.Second
}

// buildStore opens the configured store. It returns the Postgres pool when
// one was opened so the registry can share it.
func (rt *Runtime) buildStore(ctx context.Context) (*sql.DB, error) {
	cfg := rt.cfg
	var db *sql.DB

	switch cfg.Store.Driver {
	case "", "memory":
		s := memstore.NewStore()
		rt.store, rt.querier = s, s
	case "postgres":
		var err error
		db, err = pgstore.Open(ctx, cfg.Store.Postgres.ConnString)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, db.Close)
		s, err := pgstore.NewStore(db, cfg.Store.Postgres.Table)
		if err != nil {
			return nil, err
		}
		rt.store, rt.querier = s, s
	case "pebble":
		s, err := pebblestore.Open(cfg.Store.Pebble.Dir)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, s.Close)
		rt.store, rt.querier = s, s
	case "dynamodb":
		s, err := dynamo.Connect(ctx, cfg.Store.DynamoDB)
		if err != nil {
			return nil, err
		}
		rt.store, rt.querier = s, s
	default:
		return nil, fmt.Errorf("store driver %q is not supported", cfg.Store.Driver)
	}

	if cfg.Cache.Redis.Addr != "" {
		client, err := rediscache.Dial(ctx, cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, client.Close)
		// Queries stay on the backing store; only Latest is cached.
		rt.store = rediscache.New(rt.store, rediscache.NewRedisCache(client), cfg.Cache.Redis.TTL, rt.log)
	}
	return db, nil
}

func (rt *Runtime) buildRegistry(ctx context.Context, db *sql.DB) (ports.SensorRegistry, error) {
	switch rt.cfg.Directory.Driver {
	case "", "memory":
		return memory.NewRegistry(), nil
	case "postgres":
		if db == nil {
			var err error
			db, err = pgstore.Open(ctx, rt.cfg.Store.Postgres.ConnString)
			if err != nil {
				return nil, err
			}
			rt.closers = append(rt.closers, db.Close)
		}
		return pgdirectory.NewRegistry(db), nil
	default:
		return nil, fmt.Errorf("directory driver %q is not supported", rt.cfg.Directory.Driver)
	}
}

// Handler returns the HTTP API so callers can mount it on their own server.
func (rt *Runtime) Handler() http.Handler { return rt.handler }

// Ingester returns the synchronous, per-sensor serialized ingest path.
func (rt *Runtime) Ingester() ingest.Ingester { return rt.ingester }

// Submit appends b to the WAL and queues it for the ingest workers.
func (rt *Runtime) Submit(ctx context.Context, b *Batch) (WALEntryID, error) {
	return rt.edge.Submit(ctx, b)
}

// HTTPAddr reports the bound API address once Start has returned.
func (rt *Runtime) HTTPAddr() net.Addr { return rt.httpAddr }

// Start replays the WAL, starts the pipelines, collectors and servers, and
// returns immediately. Call Run to block on a context instead.
func (rt *Runtime) Start(ctx context.Context) error {
	if rt == nil {
		return fmt.Errorf("runtime is nil")
	}
	if rt.started {
		return fmt.Errorf("runtime already started")
	}

	runCtx, runCancel := context.WithCancel(context.WithoutCancel(ctx))
	edgeCtx, edgeCancel := context.WithCancel(runCtx)
	rt.runCancel, rt.edgeCancel = runCancel, edgeCancel

	// Workers run before replay so a backlog larger than the queue drains.
	rt.workers.Add(2)
	go func() {
		defer rt.workers.Done()
		rt.ingest.Run(runCtx)
	}()
	go func() {
		defer rt.workers.Done()
		rt.recordGauges(runCtx, time.Second)
	}()

	if n, err := rt.edge.Replay(ctx); err != nil {
		runCancel()
		rt.workers.Wait()
		return err
	} else if n > 0 {
		rt.log.Info("wal replayed", slog.Int("batches", n))
	}

	rt.in = make(chan *domain.Batch, max(rt.cfg.Policy.MaxBatchSize, 1))
	rt.edgeDone = make(chan struct{})
	go func() {
		defer close(rt.edgeDone)
		rt.edge.Run(edgeCtx, rt.in)
	}()
	rt.started = true

	for _, col := range rt.collectors {
		if err := col.Start(rt.in); err != nil {
			return errors.Join(fmt.Errorf("start collector %s: %w", col.Name(), err), rt.Shutdown(context.Background()))
		}
		rt.log.Info("collector started", slog.String("collector", col.Name()))
	}

	if err := rt.metricsSrv.Start(); err != nil {
		return errors.Join(fmt.Errorf("metrics server: %w", err), rt.Shutdown(context.Background()))
	}

	ln, err := net.Listen("tcp", rt.httpSrv.Addr)
	if err != nil {
		return errors.Join(fmt.Errorf("http server: %w", err), rt.Shutdown(context.Background()))
	}
	rt.httpAddr = ln.Addr()
	go func() {
		if err := rt.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.log.Error("http server exited", slog.Any("err", err))
		}
	}()

	rt.log.Info("aarma runtime started",
		slog.String("store", rt.store.Name()),
		slog.String("http_addr", rt.httpAddr.String()),
		slog.String("metrics_addr", rt.cfg.Metrics.Addr))
	return nil
}

// Run starts the runtime and blocks until ctx is cancelled, then shuts down
// gracefully.
func (rt *Runtime) Run(ctx context.Context) error {
	if err := rt.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return rt.Shutdown(shutdownCtx)
}

// Shutdown stops intake first and storage last. Batches still in the
// collector channel are written to the WAL; anything not yet ingested stays
// uncommitted and is replayed on the next Start.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	for _, col := range rt.collectors {
		if err := col.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop collector %s: %w", col.Name(), err))
		}
	}

	if err := rt.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, err)
	}

	if rt.started {
		rt.edgeCancel()
		<-rt.edgeDone
		rt.drainInput(ctx)

		rt.runCancel()
		done := make(chan struct{})
		go func() {
			rt.workers.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("ingest workers: %w", ctx.Err()))
		}
		rt.started = false
	}

	if err := rt.metricsSrv.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := rt.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (rt *Runtime) drainInput(ctx context.Context) {
	for {
		select {
		case b := <-rt.in:
			if _, err := rt.edge.Submit(ctx, b); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (rt *Runtime) closeResources() error {
	var errs []error
	if rt.wal != nil && !rt.walClosed {
		if err := rt.wal.Close(); err != nil {
			errs = append(errs, err)
		}
		rt.walClosed = true
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func (rt *Runtime) recordGauges(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := rt.wal.Stats()
			rt.obs.SetGauge(observability.WALSizeBytes, float64(stats.SizeBytes))
			rt.obs.SetGauge(observability.QueueLength, float64(rt.queue.Len()))
		}
	}
}

// edgeSubmitter marks WAL and queue saturation as backpressure for the API.
type edgeSubmitter struct {
	edge *pipeline.Edge
}

func (s edgeSubmitter) Submit(ctx context.Context, b *domain.Batch) (ports.WALEntryID, error) {
	id, err := s.edge.Submit(ctx, b)
	if errors.Is(err, pipeline.ErrWALFull) || errors.Is(err, pipeline.ErrQueueFull) {
		return id, fmt.Errorf("%w: %w", httpapi.ErrBackpressure, err)
	}
	return id, err
}

// boundedStore caps every store call at the configured timeout.
type boundedStore struct {
	inner   ports.ReadingStore
	timeout time.Duration
}

func (s boundedStore) Name() string { return s.inner.Name() }

func (s boundedStore) Latest(ctx context.Context, sensorID string) (*domain.Batch, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.inner.Latest(ctx, sensorID)
}

func (s boundedStore) Put(ctx context.Context, b *domain.Batch) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.inner.Put(ctx, b)
}
